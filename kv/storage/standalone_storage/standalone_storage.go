package standalone_storage

import (
	"context"

	"github.com/dgraph-io/badger/v2"
	"github.com/pingcap-incubator/txqueue/kv/config"
	"github.com/pingcap-incubator/txqueue/kv/storage"
	"github.com/pingcap-incubator/txqueue/kv/util/engine_util"
	"github.com/pingcap/errors"
)

// StandAloneStorage is an implementation of `Storage` for a single process. All data is stored locally in badger.
type StandAloneStorage struct {
	conf    *config.Config
	engines *engine_util.Engines
}

func NewStandAloneStorage(conf *config.Config) *StandAloneStorage {
	return &StandAloneStorage{conf: conf}
}

func (s *StandAloneStorage) Start() error {
	db, err := engine_util.CreateDB(s.conf.DBPath, true)
	if err != nil {
		return err
	}
	s.engines = engine_util.NewEngines(db, s.conf.DBPath)
	return nil
}

func (s *StandAloneStorage) Stop() error {
	if s.engines == nil {
		return nil
	}
	return s.engines.Close()
}

func (s *StandAloneStorage) Reader(_ context.Context) (storage.StorageReader, error) {
	if s.engines == nil {
		return nil, errors.New("standalone storage is not started")
	}
	return &badgerReader{txn: s.engines.Kv.NewTransaction(false)}, nil
}

func (s *StandAloneStorage) Write(_ context.Context, batch []storage.Modify) error {
	if s.engines == nil {
		return errors.New("standalone storage is not started")
	}
	wb := new(engine_util.WriteBatch)
	for _, m := range batch {
		switch data := m.Data.(type) {
		case storage.Put:
			wb.SetCF(data.Cf, data.Key, data.Value)
		case storage.Delete:
			wb.DeleteCF(data.Cf, data.Key)
		}
	}
	return s.engines.WriteKV(wb)
}

// badgerReader reads from one read-only badger transaction, so every call sees the same snapshot.
type badgerReader struct {
	txn *badger.Txn
}

func (r *badgerReader) GetCF(cf string, key []byte) ([]byte, error) {
	val, err := engine_util.GetCFFromTxn(r.txn, cf, key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	return val, errors.WithStack(err)
}

func (r *badgerReader) IterCF(cf string, start, end []byte) engine_util.DBIterator {
	return engine_util.NewCFIterator(r.txn, cf, start, end)
}

func (r *badgerReader) Close() {
	r.txn.Discard()
}
