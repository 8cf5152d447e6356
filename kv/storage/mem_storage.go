package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/pingcap-incubator/txqueue/kv/util/engine_util"
)

const memBtreeDegree = 32

// MemStorage is a simple storage backed by memory. Data is not written to disk. It is intended for testing and for
// running a single process without durability.
type MemStorage struct {
	mu  sync.RWMutex
	cfs map[string]*btree.BTree
}

func NewMemStorage() *MemStorage {
	cfs := make(map[string]*btree.BTree, len(engine_util.CFs))
	for _, cf := range engine_util.CFs {
		cfs[cf] = btree.New(memBtreeDegree)
	}
	return &MemStorage{cfs: cfs}
}

func (s *MemStorage) Start() error {
	return nil
}

func (s *MemStorage) Stop() error {
	return nil
}

// Reader returns a reader over a copy-on-write snapshot of every column family.
func (s *MemStorage) Reader(_ context.Context) (StorageReader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]*btree.BTree, len(s.cfs))
	for cf, tree := range s.cfs {
		snap[cf] = tree.Clone()
	}
	return &memReader{cfs: snap}, nil
}

func (s *MemStorage) Write(_ context.Context, batch []Modify) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range batch {
		if _, ok := s.cfs[m.Cf()]; !ok {
			return fmt.Errorf("mem-storage: bad CF %s", m.Cf())
		}
	}
	for _, m := range batch {
		tree := s.cfs[m.Cf()]
		switch data := m.Data.(type) {
		case Put:
			tree.ReplaceOrInsert(memItem{key: copyBytes(data.Key), value: copyBytes(data.Value)})
		case Delete:
			tree.Delete(memItem{key: data.Key})
		}
	}
	return nil
}

// Len returns the number of keys in cf, or -1 for an unknown cf.
func (s *MemStorage) Len(cf string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tree, ok := s.cfs[cf]; ok {
		return tree.Len()
	}
	return -1
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// memReader is a StorageReader which reads from a MemStorage snapshot.
type memReader struct {
	cfs map[string]*btree.BTree
}

func (mr *memReader) GetCF(cf string, key []byte) ([]byte, error) {
	tree, ok := mr.cfs[cf]
	if !ok {
		return nil, fmt.Errorf("mem-storage: bad CF %s", cf)
	}
	result := tree.Get(memItem{key: key})
	if result == nil {
		return nil, nil
	}
	return result.(memItem).value, nil
}

func (mr *memReader) IterCF(cf string, start, end []byte) engine_util.DBIterator {
	tree, ok := mr.cfs[cf]
	if !ok {
		tree = btree.New(memBtreeDegree)
	}
	it := &memIter{data: tree, end: end}
	it.seek(start)
	return it
}

func (mr *memReader) Close() {}

type memIter struct {
	data *btree.BTree
	item memItem
	end  []byte
}

func (it *memIter) Item() engine_util.DBItem {
	return it.item
}

func (it *memIter) Valid() bool {
	return it.item.key != nil && engine_util.BeforeEnd(it.item.key, it.end)
}

func (it *memIter) Next() {
	first := true
	oldItem := it.item
	it.item = memItem{}
	it.data.AscendGreaterOrEqual(oldItem, func(item btree.Item) bool {
		// Skip the first item, which will be it.item
		if first {
			first = false
			return true
		}

		it.item = item.(memItem)
		return false
	})
}

func (it *memIter) seek(key []byte) {
	it.item = memItem{}
	if key == nil {
		key = []byte{}
	}
	it.data.AscendGreaterOrEqual(memItem{key: key}, func(item btree.Item) bool {
		it.item = item.(memItem)
		return false
	})
}

func (it *memIter) Close() {}

type memItem struct {
	key   []byte
	value []byte
}

func (it memItem) Key() []byte {
	return it.key
}

func (it memItem) KeyCopy(dst []byte) []byte {
	return append(dst[:0], it.key...)
}

func (it memItem) Value() ([]byte, error) {
	return it.value, nil
}

func (it memItem) Less(than btree.Item) bool {
	return bytes.Compare(it.key, than.(memItem).key) < 0
}
