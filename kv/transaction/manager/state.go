package manager

import (
	"context"

	"github.com/pingcap-incubator/txqueue/kv/storage"
	"github.com/pingcap-incubator/txqueue/kv/util/codec"
	"github.com/pingcap-incubator/txqueue/kv/util/engine_util"
	"github.com/pingcap/errors"
)

// State is the durable part of the manager. Watermark is the first id that has not been reserved, InProgress every
// pointer of every open transaction and Invalids the invalid set. Checkpointed holds the pointers of each committed
// transaction that was checkpointed and not yet pruned.
type State struct {
	Watermark    uint64
	InProgress   []uint64
	Invalids     []uint64
	Checkpointed [][]uint64
}

// StateStore persists manager state. Load returns nil, nil when nothing was saved yet.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}

var stateKey = []byte("txn_manager_state")

// StorageStateStore keeps the state as a single row in the meta column family of a Storage.
type StorageStateStore struct {
	storage storage.Storage
}

func NewStorageStateStore(s storage.Storage) *StorageStateStore {
	return &StorageStateStore{storage: s}
}

func (s *StorageStateStore) Load(ctx context.Context) (*State, error) {
	reader, err := s.storage.Reader(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	val, err := reader.GetCF(engine_util.CfMeta, stateKey)
	if err != nil || val == nil {
		return nil, err
	}
	return decodeState(val)
}

func (s *StorageStateStore) Save(ctx context.Context, state *State) error {
	return s.storage.Write(ctx, []storage.Modify{{Data: storage.Put{
		Cf:    engine_util.CfMeta,
		Key:   stateKey,
		Value: encodeState(state),
	}}})
}

func encodeState(state *State) []byte {
	b := codec.NewBuffer(8 + 12 + 8*(len(state.InProgress)+len(state.Invalids)))
	b.WriteUint64(state.Watermark)
	b.WriteUint64s(state.InProgress)
	b.WriteUint64s(state.Invalids)
	b.WriteInt32(int32(len(state.Checkpointed)))
	for _, pointers := range state.Checkpointed {
		b.WriteUint64s(pointers)
	}
	return b.Bytes()
}

func decodeState(data []byte) (*State, error) {
	r := codec.NewReader("manager state", data)
	state := &State{}
	var err error
	if state.Watermark, err = r.ReadUint64("watermark"); err != nil {
		return nil, errors.WithStack(err)
	}
	if state.InProgress, err = r.ReadUint64s("in-progress"); err != nil {
		return nil, errors.WithStack(err)
	}
	if state.Invalids, err = r.ReadUint64s("invalids"); err != nil {
		return nil, errors.WithStack(err)
	}
	n, err := r.ReadInt32("checkpointed count")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	// Every list takes at least its four byte count.
	if n < 0 || int64(n)*4 > int64(r.Remaining()) {
		return nil, errors.WithStack(&codec.MalformedEncodingError{What: "manager state", Offset: len(data) - r.Remaining(), Reason: "bad checkpointed count"})
	}
	for i := int32(0); i < n; i++ {
		pointers, err := r.ReadUint64s("checkpointed")
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if len(pointers) == 0 {
			return nil, errors.WithStack(&codec.MalformedEncodingError{What: "manager state", Offset: len(data) - r.Remaining(), Reason: "empty checkpointed list"})
		}
		state.Checkpointed = append(state.Checkpointed, pointers)
	}
	if err = r.Finish(); err != nil {
		return nil, errors.WithStack(err)
	}
	return state, nil
}
