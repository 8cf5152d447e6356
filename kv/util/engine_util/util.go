package engine_util

import (
	"github.com/dgraph-io/badger/v2"
)

func KeyWithCF(cf string, key []byte) []byte {
	return append([]byte(cf+"_"), key...)
}

// GetCFFromTxn returns a copy of the value of key in cf, or badger.ErrKeyNotFound.
func GetCFFromTxn(txn *badger.Txn, cf string, key []byte) (val []byte, err error) {
	item, err := txn.Get(KeyWithCF(cf, key))
	if err != nil {
		return nil, err
	}
	val, err = item.ValueCopy(val)
	return
}
