package storage

import (
	"context"

	"github.com/pingcap-incubator/txqueue/kv/util/engine_util"
)

// Storage represents the sorted key/value store the queue and transaction layers are built on. It reads and writes
// data to disk (or semi-permanent memory). Writes of one batch are atomic.
type Storage interface {
	Start() error
	Stop() error
	Write(ctx context.Context, batch []Modify) error
	Reader(ctx context.Context) (StorageReader, error)
}

// StorageReader reads from a consistent snapshot of a Storage. It must be closed after use.
type StorageReader interface {
	// When the key doesn't exist, return nil for the value
	GetCF(cf string, key []byte) ([]byte, error)
	// IterCF iterates the keys of cf in [start, end); a nil end is unbounded.
	IterCF(cf string, start, end []byte) engine_util.DBIterator
	Close()
}
