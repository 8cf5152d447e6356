package engine_util

import (
	"os"

	"github.com/dgraph-io/badger/v2"
	"github.com/pingcap/errors"
)

// Engines keeps a reference to the badger database holding every column family, and the filesystem path where its
// data is stored.
type Engines struct {
	Kv     *badger.DB
	KvPath string
}

func NewEngines(kvEngine *badger.DB, kvPath string) *Engines {
	return &Engines{
		Kv:     kvEngine,
		KvPath: kvPath,
	}
}

func (en *Engines) WriteKV(wb *WriteBatch) error {
	return wb.WriteToDB(en.Kv)
}

func (en *Engines) Close() error {
	return errors.WithStack(en.Kv.Close())
}

// CreateDB creates a new Badger DB on disk at path.
func CreateDB(path string, syncWrites bool) (*badger.DB, error) {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, errors.WithStack(err)
	}
	opts := badger.DefaultOptions(path).
		WithSyncWrites(syncWrites).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return db, nil
}
