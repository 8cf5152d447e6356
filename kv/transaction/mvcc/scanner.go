package mvcc

import (
	"github.com/pingcap-incubator/txqueue/kv/util/engine_util"
)

// Scanner reads sequential tagged values of one column family in [start, end). When the snapshot transaction is set,
// values whose writer it cannot see are skipped.
// Invariant: either the scanner is finished and cannot be used, or it is ready to return a value immediately.
type Scanner struct {
	iter engine_util.DBIterator
	txn  *RoTxn
}

// NewScanner creates a scanner over txn.Reader. A nil end scans to the end of the column family.
func NewScanner(cf string, start, end []byte, txn *RoTxn) *Scanner {
	return &Scanner{iter: txn.Reader.IterCF(cf, start, end), txn: txn}
}

func (scan *Scanner) Close() {
	scan.iter.Close()
}

// Next returns the next key with its writer and payload. An exhausted scanner returns a nil key.
func (scan *Scanner) Next() (key []byte, writer uint64, payload []byte, err error) {
	for ; scan.iter.Valid(); scan.iter.Next() {
		item := scan.iter.Item()
		value, err := item.Value()
		if err != nil {
			return nil, 0, nil, err
		}
		writer, payload, err := DecodeValue(value)
		if err != nil {
			return nil, 0, nil, err
		}
		if scan.txn.Tx != nil && !scan.txn.Tx.IsVisible(writer) {
			continue
		}
		key = item.KeyCopy(nil)
		scan.iter.Next()
		return key, writer, payload, nil
	}
	return nil, 0, nil, nil
}
