package latches

import (
	"sort"
	"sync"
)

// Latches serialize read-modify-write sequences against the store that a snapshot transaction alone cannot protect:
// allocating sequence numbers from a queue counter and claiming FIFO entries for a consumer group. A latch is a
// process-local lock on one key. All keys an operation needs must be latched together in one call.
//
// Latching uses a single map from key to a WaitGroup guarded by a mutex. Callers that find any requested key latched
// wait on that key's WaitGroup and retry.
type Latches struct {
	latchMap   map[string]*sync.WaitGroup
	latchGuard sync.Mutex
}

// NewLatches creates an empty latch table. One table is shared by every producer and consumer of a store.
func NewLatches() *Latches {
	return &Latches{latchMap: make(map[string]*sync.WaitGroup)}
}

// AcquireLatches latches every key or none. It returns nil on success; otherwise it returns the WaitGroup of a key that
// is already latched, which is released when that key is.
func (l *Latches) AcquireLatches(keysToLatch [][]byte) *sync.WaitGroup {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()

	for _, key := range keysToLatch {
		if latchWg, ok := l.latchMap[string(key)]; ok {
			return latchWg
		}
	}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	for _, key := range keysToLatch {
		l.latchMap[string(key)] = wg
	}
	return nil
}

// ReleaseLatches releases keys latched together by one AcquireLatches call and wakes their waiters.
func (l *Latches) ReleaseLatches(keysToUnlatch [][]byte) {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()

	var released *sync.WaitGroup
	for _, key := range keysToUnlatch {
		wg, ok := l.latchMap[string(key)]
		if !ok {
			continue
		}
		if released == nil {
			released = wg
			wg.Done()
		}
		delete(l.latchMap, string(key))
	}
}

// WaitForLatches blocks until every key in keysToLatch is latched by the caller.
func (l *Latches) WaitForLatches(keysToLatch [][]byte) {
	for {
		wg := l.AcquireLatches(keysToLatch)
		if wg == nil {
			return
		}
		wg.Wait()
	}
}

// Do runs f while holding the latches of keys. Keys are deduplicated and sorted first so that callers may pass them in
// any order.
func (l *Latches) Do(keys [][]byte, f func() error) error {
	keys = normalize(keys)
	l.WaitForLatches(keys)
	defer l.ReleaseLatches(keys)
	return f()
}

// Len returns the number of keys currently latched.
func (l *Latches) Len() int {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()
	return len(l.latchMap)
}

func normalize(keys [][]byte) [][]byte {
	seen := make(map[string]struct{}, len(keys))
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[string(k)]; ok {
			continue
		}
		seen[string(k)] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i]) < string(out[j]) })
	return out
}
