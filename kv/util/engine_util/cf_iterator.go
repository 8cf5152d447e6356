package engine_util

import (
	"bytes"

	"github.com/dgraph-io/badger/v2"
)

// DBIterator walks the keys of one column family in [start, end), ascending. It is positioned on the first key of
// the range when created. Keys come back without the column family prefix.
type DBIterator interface {
	// Item returns the current pair. Only valid while Valid returns true.
	Item() DBItem
	// Valid returns false once the range is exhausted.
	Valid() bool
	Next()
	Close()
}

type DBItem interface {
	// Key is only valid until the iterator moves.
	Key() []byte
	// KeyCopy appends the key to dst[:0].
	KeyCopy(dst []byte) []byte
	// Value returns a value that stays valid after the iterator moves.
	Value() ([]byte, error)
}

// BeforeEnd reports whether key sorts before end. A nil end bounds nothing.
func BeforeEnd(key, end []byte) bool {
	return end == nil || bytes.Compare(key, end) < 0
}

type cfItem struct {
	item      *badger.Item
	prefixLen int
}

func (i cfItem) Key() []byte {
	return i.item.Key()[i.prefixLen:]
}

func (i cfItem) KeyCopy(dst []byte) []byte {
	return append(dst[:0], i.Key()...)
}

func (i cfItem) Value() ([]byte, error) {
	return i.item.ValueCopy(nil)
}

// CFIterator is the badger DBIterator. It restricts the underlying iterator to the column family prefix, so tables
// of other column families are never read.
type CFIterator struct {
	iter   *badger.Iterator
	prefix []byte
	end    []byte
}

func NewCFIterator(txn *badger.Txn, cf string, start, end []byte) *CFIterator {
	prefix := KeyWithCF(cf, nil)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := &CFIterator{iter: txn.NewIterator(opts), prefix: prefix}
	if end != nil {
		it.end = KeyWithCF(cf, end)
	}
	it.iter.Seek(KeyWithCF(cf, start))
	return it
}

func (it *CFIterator) Item() DBItem {
	return cfItem{item: it.iter.Item(), prefixLen: len(it.prefix)}
}

func (it *CFIterator) Valid() bool {
	return it.iter.ValidForPrefix(it.prefix) && BeforeEnd(it.iter.Item().Key(), it.end)
}

func (it *CFIterator) Next() {
	it.iter.Next()
}

func (it *CFIterator) Close() {
	it.iter.Close()
}
