package mvcc

import (
	"sort"

	"github.com/pingcap-incubator/txqueue/kv/storage"
	"github.com/pingcap-incubator/txqueue/kv/transaction/txn"
	"github.com/pingcap-incubator/txqueue/kv/util/engine_util"
)

// RoTxn reads tagged values through the snapshot of one transaction.
type RoTxn struct {
	Reader storage.StorageReader
	Tx     *txn.Transaction
}

// GetValue returns the payload stored at key and its writer. It returns a nil payload when there is no value or its
// writer is not visible to the transaction.
func (txn *RoTxn) GetValue(cf string, key []byte) ([]byte, uint64, error) {
	value, err := txn.Reader.GetCF(cf, key)
	if err != nil || value == nil {
		return nil, 0, err
	}
	writer, payload, err := DecodeValue(value)
	if err != nil {
		return nil, 0, err
	}
	if !txn.Tx.IsVisible(writer) {
		return nil, writer, nil
	}
	return payload, writer, nil
}

// MvccTxn buffers the writes of one transaction for atomic application and records which keys it changed. Values are
// tagged with the transaction's current write pointer.
type MvccTxn struct {
	RoTxn
	writes  []storage.Modify
	changes map[string]struct{}
	puts    []storage.Modify
}

func NewTxn(reader storage.StorageReader, tx *txn.Transaction) MvccTxn {
	return MvccTxn{
		RoTxn:   RoTxn{Reader: reader, Tx: tx},
		changes: make(map[string]struct{}),
	}
}

// Writes returns all changes added to this transaction.
func (txn *MvccTxn) Writes() []storage.Modify {
	return txn.writes
}

// PutValue adds a tagged write of payload at key. The key joins the change set.
func (txn *MvccTxn) PutValue(cf string, key []byte, payload []byte) {
	put := storage.Modify{Data: storage.Put{
		Key:   key,
		Value: EncodeValue(txn.Tx.WritePointer, payload),
		Cf:    cf,
	}}
	txn.writes = append(txn.writes, put)
	txn.puts = append(txn.puts, put)
	txn.changes[string(engine_util.KeyWithCF(cf, key))] = struct{}{}
}

// PutUntracked adds a raw write that neither carries a writer tag nor joins the change set. It is meant for rows that
// are serialized by latches instead of by conflict detection.
func (txn *MvccTxn) PutUntracked(cf string, key []byte, value []byte) {
	txn.writes = append(txn.writes, storage.Modify{Data: storage.Put{Key: key, Value: value, Cf: cf}})
}

// DeleteValue removes key in this transaction. The key joins the change set.
func (txn *MvccTxn) DeleteValue(cf string, key []byte) {
	txn.writes = append(txn.writes, storage.Modify{Data: storage.Delete{Key: key, Cf: cf}})
	txn.changes[string(engine_util.KeyWithCF(cf, key))] = struct{}{}
}

// ChangeSet returns the column family qualified keys this transaction changed, sorted.
func (txn *MvccTxn) ChangeSet() [][]byte {
	keys := make([][]byte, 0, len(txn.changes))
	for k := range txn.changes {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i]) < string(keys[j]) })
	return keys
}

// UndoWrites returns deletes for every tagged value this transaction put. Applying them after the writes were
// persisted removes the transaction's effect on rows it created.
func (txn *MvccTxn) UndoWrites() []storage.Modify {
	undo := make([]storage.Modify, 0, len(txn.puts))
	for _, m := range txn.puts {
		undo = append(undo, storage.Modify{Data: storage.Delete{Key: m.Key(), Cf: m.Cf()}})
	}
	return undo
}

// Flush returns the buffered writes and clears the buffer. The change set and undo log are kept.
func (txn *MvccTxn) Flush() []storage.Modify {
	writes := txn.writes
	txn.writes = nil
	return writes
}
