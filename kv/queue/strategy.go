package queue

import (
	"fmt"
	"strings"
)

// DequeueStrategy decides how the entries of a queue are divided among the instances of a consumer group.
type DequeueStrategy int32

const (
	// FIFO lets every instance see every entry. Instances claim entries before consuming them.
	FIFO DequeueStrategy = iota
	// RoundRobin assigns an entry to instance seq mod groupSize.
	RoundRobin
	// Hash assigns an entry to instance hash(entry.HashKeys[hashKey]) mod groupSize.
	Hash
)

var strategyNames = [...]string{"FIFO", "ROUND_ROBIN", "HASH"}

func (s DequeueStrategy) String() string {
	if s.valid() {
		return strategyNames[s]
	}
	return fmt.Sprintf("DequeueStrategy(%d)", int32(s))
}

func (s DequeueStrategy) valid() bool {
	return s >= FIFO && s <= Hash
}

// ParseDequeueStrategy parses the name of a strategy, ignoring case.
func ParseDequeueStrategy(name string) (DequeueStrategy, error) {
	for i, n := range strategyNames {
		if strings.EqualFold(n, name) {
			return DequeueStrategy(i), nil
		}
	}
	return 0, fmt.Errorf("unknown dequeue strategy %q", name)
}
