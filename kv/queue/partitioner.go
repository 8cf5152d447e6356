package queue

import (
	"github.com/spaolacci/murmur3"
)

// Owner returns the instance an entry belongs to under cfg, or -1 when every instance is a candidate, which is the
// case for FIFO groups of more than one instance.
func Owner(cfg *ConsumerConfig, seq uint64, entry *QueueEntry) int32 {
	if cfg.GroupSize == 1 {
		return 0
	}
	switch cfg.Strategy {
	case RoundRobin:
		return int32(seq % uint64(cfg.GroupSize))
	case Hash:
		var value []byte
		if entry != nil {
			value = entry.HashKeys[cfg.HashKey]
		}
		return int32(murmur3.Sum32(value) % uint32(cfg.GroupSize))
	default:
		return -1
	}
}

// Accept reports whether the consumer instance described by cfg may consume the entry with sequence number seq.
// FIFO accepts everything; exclusivity between FIFO instances comes from claims.
func Accept(cfg *ConsumerConfig, seq uint64, entry *QueueEntry) bool {
	owner := Owner(cfg, seq, entry)
	return owner < 0 || owner == cfg.InstanceID
}

// needsClaim reports whether instances of cfg must claim entries before consuming them.
func needsClaim(cfg *ConsumerConfig) bool {
	return cfg.Strategy == FIFO && cfg.GroupSize > 1
}
