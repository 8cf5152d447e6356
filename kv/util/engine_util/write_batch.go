package engine_util

import (
	"github.com/dgraph-io/badger/v2"
	"github.com/pingcap/errors"
)

const (
	CfQueue string = "queue"
	CfState string = "state"
	CfMeta  string = "meta"
)

var CFs = [3]string{CfQueue, CfState, CfMeta}

type batchEntry struct {
	key    []byte
	value  []byte
	delete bool
}

// WriteBatch collects puts and deletes across column families and applies them in one badger transaction.
type WriteBatch struct {
	entries []batchEntry
	size    int
}

func (wb *WriteBatch) Len() int {
	return len(wb.entries)
}

// Size is the number of key and value bytes in the batch.
func (wb *WriteBatch) Size() int {
	return wb.size
}

func (wb *WriteBatch) SetCF(cf string, key, val []byte) {
	wb.entries = append(wb.entries, batchEntry{key: KeyWithCF(cf, key), value: val})
	wb.size += len(key) + len(val)
}

func (wb *WriteBatch) DeleteCF(cf string, key []byte) {
	wb.entries = append(wb.entries, batchEntry{key: KeyWithCF(cf, key), delete: true})
	wb.size += len(key)
}

// WriteToDB applies the batch atomically. Later entries for a key win.
func (wb *WriteBatch) WriteToDB(db *badger.DB) error {
	if len(wb.entries) == 0 {
		return nil
	}
	err := db.Update(func(txn *badger.Txn) error {
		for _, entry := range wb.entries {
			var err error
			if entry.delete {
				err = txn.Delete(entry.key)
			} else {
				err = txn.Set(entry.key, entry.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return errors.WithStack(err)
}

func (wb *WriteBatch) Reset() {
	wb.entries = wb.entries[:0]
	wb.size = 0
}
