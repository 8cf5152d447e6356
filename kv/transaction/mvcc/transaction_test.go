package mvcc

import (
	"context"
	"testing"

	"github.com/pingcap-incubator/txqueue/kv/storage"
	"github.com/pingcap-incubator/txqueue/kv/transaction/txn"
	"github.com/pingcap-incubator/txqueue/kv/util/codec"
	"github.com/pingcap-incubator/txqueue/kv/util/engine_util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTxn(t *testing.T, s storage.Storage, tx *txn.Transaction) MvccTxn {
	reader, err := s.Reader(context.Background())
	require.NoError(t, err)
	return NewTxn(reader, tx)
}

func put(t *testing.T, s storage.Storage, key []byte, writer uint64, payload string) {
	require.NoError(t, s.Write(context.Background(), []storage.Modify{{Data: storage.Put{
		Cf:    engine_util.CfQueue,
		Key:   key,
		Value: EncodeValue(writer, []byte(payload)),
	}}}))
}

func TestValueCodec(t *testing.T) {
	v := EncodeValue(42, []byte("data"))
	writer, payload, err := DecodeValue(v)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), writer)
	assert.Equal(t, []byte("data"), payload)

	_, _, err = DecodeValue([]byte{1, 2})
	assert.True(t, codec.IsMalformed(err))
}

func TestPutValue(t *testing.T) {
	s := storage.NewMemStorage()
	txn := testTxn(t, s, &txn.Transaction{ReadPointer: 5, WritePointer: 7})

	txn.PutValue(engine_util.CfState, []byte{1}, []byte("a"))
	txn.PutUntracked(engine_util.CfMeta, []byte{2}, []byte("b"))
	txn.DeleteValue(engine_util.CfQueue, []byte{3})

	writes := txn.Writes()
	require.Len(t, writes, 3)
	assert.Equal(t, storage.Put{Cf: engine_util.CfState, Key: []byte{1}, Value: EncodeValue(7, []byte("a"))}, writes[0].Data)
	assert.Equal(t, storage.Put{Cf: engine_util.CfMeta, Key: []byte{2}, Value: []byte("b")}, writes[1].Data)
	assert.Equal(t, storage.Delete{Cf: engine_util.CfQueue, Key: []byte{3}}, writes[2].Data)

	assert.Equal(t, [][]byte{
		engine_util.KeyWithCF(engine_util.CfQueue, []byte{3}),
		engine_util.KeyWithCF(engine_util.CfState, []byte{1}),
	}, txn.ChangeSet())

	undo := txn.UndoWrites()
	require.Len(t, undo, 1)
	assert.Equal(t, storage.Delete{Cf: engine_util.CfState, Key: []byte{1}}, undo[0].Data)

	assert.Len(t, txn.Flush(), 3)
	assert.Empty(t, txn.Writes())
	assert.Len(t, txn.ChangeSet(), 2)
}

func TestGetValueVisibility(t *testing.T) {
	s := storage.NewMemStorage()
	put(t, s, []byte("committed"), 3, "c")
	put(t, s, []byte("open"), 4, "o")
	put(t, s, []byte("own"), 6, "w")

	txn := testTxn(t, s, &txn.Transaction{ReadPointer: 6, WritePointer: 6, InProgress: []uint64{4}})
	payload, writer, err := txn.GetValue(engine_util.CfQueue, []byte("committed"))
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), payload)
	assert.Equal(t, uint64(3), writer)

	payload, writer, err = txn.GetValue(engine_util.CfQueue, []byte("open"))
	require.NoError(t, err)
	assert.Nil(t, payload)
	assert.Equal(t, uint64(4), writer)

	payload, _, err = txn.GetValue(engine_util.CfQueue, []byte("own"))
	require.NoError(t, err)
	assert.Equal(t, []byte("w"), payload)

	payload, _, err = txn.GetValue(engine_util.CfQueue, []byte("missing"))
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestScanner(t *testing.T) {
	s := storage.NewMemStorage()
	put(t, s, []byte{1}, 1, "a")
	put(t, s, []byte{2}, 9, "b")
	put(t, s, []byte{3}, 2, "c")
	put(t, s, []byte{4}, 3, "d")
	put(t, s, []byte{5}, 1, "e")

	collect := func(tx *txn.Transaction, start, end []byte) []string {
		reader, err := s.Reader(context.Background())
		require.NoError(t, err)
		defer reader.Close()
		scan := NewScanner(engine_util.CfQueue, start, end, &RoTxn{Reader: reader, Tx: tx})
		defer scan.Close()
		var got []string
		for {
			key, _, payload, err := scan.Next()
			require.NoError(t, err)
			if key == nil {
				return got
			}
			got = append(got, string(payload))
		}
	}

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, collect(nil, nil, nil))
	assert.Equal(t, []string{"b", "c"}, collect(nil, []byte{2}, []byte{4}))
	tx := &txn.Transaction{ReadPointer: 5, WritePointer: 5, Invalids: []uint64{2}}
	assert.Equal(t, []string{"a", "d", "e"}, collect(tx, nil, nil))
}
