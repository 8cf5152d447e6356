package storage

import (
	"context"
	"testing"

	"github.com/pingcap-incubator/txqueue/kv/util/engine_util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func put(cf, key, value string) Modify {
	return Modify{Data: Put{Cf: cf, Key: []byte(key), Value: []byte(value)}}
}

func TestMemStorageWriteRead(t *testing.T) {
	s := NewMemStorage()
	require.Nil(t, s.Start())
	defer s.Stop()
	ctx := context.Background()

	require.Nil(t, s.Write(ctx, []Modify{
		put(engine_util.CfQueue, "b", "2"),
		put(engine_util.CfQueue, "a", "1"),
		put(engine_util.CfQueue, "c", "3"),
		put(engine_util.CfState, "a", "s"),
	}))
	assert.Equal(t, 3, s.Len(engine_util.CfQueue))
	assert.Equal(t, -1, s.Len("nope"))

	reader, err := s.Reader(ctx)
	require.Nil(t, err)
	defer reader.Close()

	val, err := reader.GetCF(engine_util.CfQueue, []byte("b"))
	require.Nil(t, err)
	assert.Equal(t, []byte("2"), val)
	val, err = reader.GetCF(engine_util.CfQueue, []byte("z"))
	require.Nil(t, err)
	assert.Nil(t, val)
	_, err = reader.GetCF("nope", []byte("a"))
	assert.NotNil(t, err)

	it := reader.IterCF(engine_util.CfQueue, []byte("a"), nil)
	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Item().Key()))
	}
	it.Close()
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestMemStorageSnapshotIsolation(t *testing.T) {
	s := NewMemStorage()
	ctx := context.Background()
	require.Nil(t, s.Write(ctx, []Modify{put(engine_util.CfQueue, "a", "1")}))

	reader, err := s.Reader(ctx)
	require.Nil(t, err)

	require.Nil(t, s.Write(ctx, []Modify{
		put(engine_util.CfQueue, "a", "2"),
		{Data: Delete{Cf: engine_util.CfQueue, Key: []byte("a")}},
		put(engine_util.CfQueue, "b", "1"),
	}))

	// The reader keeps seeing the state at the time it was created.
	val, err := reader.GetCF(engine_util.CfQueue, []byte("a"))
	require.Nil(t, err)
	assert.Equal(t, []byte("1"), val)
	val, err = reader.GetCF(engine_util.CfQueue, []byte("b"))
	require.Nil(t, err)
	assert.Nil(t, val)

	fresh, err := s.Reader(ctx)
	require.Nil(t, err)
	val, _ = fresh.GetCF(engine_util.CfQueue, []byte("a"))
	assert.Nil(t, val)
}

func TestMemStorageBadCF(t *testing.T) {
	s := NewMemStorage()
	err := s.Write(context.Background(), []Modify{
		put(engine_util.CfQueue, "a", "1"),
		put("nope", "a", "1"),
	})
	assert.NotNil(t, err)
	// Nothing from a rejected batch is applied.
	assert.Equal(t, 0, s.Len(engine_util.CfQueue))
}
