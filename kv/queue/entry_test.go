package queue

import (
	"bytes"
	"testing"

	"github.com/pingcap-incubator/txqueue/kv/util/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEntryCodec(t *testing.T) {
	e := &QueueEntry{
		Data:     []byte("payload"),
		HashKeys: map[string][]byte{"userId": []byte("u1"), "region": []byte("eu")},
	}
	data := encodeEntry(e)
	assert.Equal(t, data, encodeEntry(e))
	got, err := decodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	// Unknown fields are skipped.
	extended := protowire.AppendTag(append([]byte{}, data...), 9, protowire.VarintType)
	extended = protowire.AppendVarint(extended, 300)
	got, err = decodeEntry(extended)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = decodeEntry(data[:len(data)-1])
	assert.True(t, codec.IsMalformed(err))
}

func TestEntryKeys(t *testing.T) {
	q, err := NewQueueName("default", "events")
	require.NoError(t, err)
	k1 := entryKey(q.Bytes(), 1)
	k2 := entryKey(q.Bytes(), 256)
	assert.True(t, bytes.Compare(k1, k2) < 0)
	assert.True(t, bytes.HasPrefix(k1, entryPrefix(q.Bytes())))

	queue, seq, err := decodeEntryKey(k2)
	require.NoError(t, err)
	assert.Equal(t, q.Bytes(), queue)
	assert.Equal(t, uint64(256), seq)

	_, _, err = decodeEntryKey(append(k2, 0))
	assert.True(t, codec.IsMalformed(err))
	_, _, err = decodeEntryKey(k2[:len(k2)-3])
	assert.True(t, codec.IsMalformed(err))

	// Entries of a queue never interleave with a queue whose name extends it.
	other, err := NewQueueName("default", "events2")
	require.NoError(t, err)
	assert.False(t, bytes.HasPrefix(entryKey(other.Bytes(), 0), entryPrefix(q.Bytes())))

	sk := stateKey(k1, 9)
	assert.Equal(t, len(k1)+8, len(sk))
	assert.True(t, bytes.HasPrefix(sk, k1))
}

func TestStateCodec(t *testing.T) {
	kind, instance, err := decodeState(encodeState(stateProcessed, 4))
	require.NoError(t, err)
	assert.Equal(t, stateProcessed, kind)
	assert.Equal(t, int32(4), instance)

	_, _, err = decodeState([]byte{7, 0, 0, 0, 1})
	assert.True(t, codec.IsMalformed(err))
	_, _, err = decodeState([]byte{1, 0})
	assert.True(t, codec.IsMalformed(err))
}

func TestQueueName(t *testing.T) {
	q, err := ParseQueueName("queue://ns/a/b")
	require.NoError(t, err)
	assert.Equal(t, QueueName{Namespace: "ns", Name: "a/b"}, q)
	assert.Equal(t, "queue://ns/a/b", q.String())

	for _, bad := range []string{"ns/a", "queue://ns", "queue:///a", "queue://ns/"} {
		_, err = ParseQueueName(bad)
		assert.Error(t, err, bad)
	}
	_, err = NewQueueName("a/b", "c")
	assert.Error(t, err)
}
