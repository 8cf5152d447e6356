package queue

import (
	"encoding/binary"
	"testing"

	"github.com/pingcap-incubator/txqueue/kv/util/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerConfigRoundTrip(t *testing.T) {
	cfg := &ConsumerConfig{GroupID: 7, GroupSize: 3, InstanceID: 1, Strategy: Hash, HashKey: "userId"}
	data := EncodeConsumerConfig(cfg)
	expected := []byte{
		0, 0, 0, 0, 0, 0, 0, 7,
		0, 0, 0, 3,
		0, 0, 0, 1,
		2,
		0, 0, 0, 6, 'u', 's', 'e', 'r', 'I', 'd',
	}
	assert.Equal(t, expected, data)

	got, err := DecodeConsumerConfig(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.GroupID)
	assert.Equal(t, int32(3), got.GroupSize)
	assert.Equal(t, int32(1), got.InstanceID)
	assert.Equal(t, Hash, got.Strategy)
	assert.Equal(t, "userId", got.HashKey)

	for _, cfg := range []*ConsumerConfig{
		{GroupID: 0, GroupSize: 1, InstanceID: 0, Strategy: FIFO},
		{GroupID: 1 << 63, GroupSize: 1000, InstanceID: 999, Strategy: RoundRobin, HashKey: "ignored"},
	} {
		got, err := DecodeConsumerConfig(EncodeConsumerConfig(cfg))
		require.NoError(t, err)
		assert.Equal(t, cfg, got)
	}
}

func TestDecodeConsumerConfigNullHashKey(t *testing.T) {
	data := EncodeConsumerConfig(&ConsumerConfig{GroupID: 1, GroupSize: 2, InstanceID: 0, Strategy: FIFO})
	data = append(data[:len(data)-4], 0xFF, 0xFF, 0xFF, 0xFF)
	got, err := DecodeConsumerConfig(data)
	require.NoError(t, err)
	assert.Equal(t, "", got.HashKey)
}

func TestDecodeConsumerConfigMalformed(t *testing.T) {
	valid := EncodeConsumerConfig(&ConsumerConfig{GroupID: 7, GroupSize: 3, InstanceID: 1, Strategy: Hash, HashKey: "userId"})

	unknownOrdinal := append([]byte{}, valid...)
	unknownOrdinal[16] = 3

	longKey := append([]byte{}, valid[:17]...)
	longKey = binary.BigEndian.AppendUint32(longKey, 1000)
	longKey = append(longKey, "userId"...)

	badInstance := EncodeConsumerConfig(&ConsumerConfig{GroupID: 7, GroupSize: 3, InstanceID: 3, Strategy: FIFO})
	zeroGroup := EncodeConsumerConfig(&ConsumerConfig{GroupID: 7, GroupSize: 0, InstanceID: 0, Strategy: FIFO})

	cases := map[string][]byte{
		"empty":           nil,
		"truncated":       valid[:10],
		"no strategy":     valid[:16],
		"unknown ordinal": unknownOrdinal,
		"long hash key":   longKey,
		"trailing":        append(append([]byte{}, valid...), 1),
		"bad instance":    badInstance,
		"zero group":      zeroGroup,
	}
	for name, data := range cases {
		_, err := DecodeConsumerConfig(data)
		require.Error(t, err, name)
		assert.True(t, codec.IsMalformed(err), name)
	}
}

func TestNewConsumerConfig(t *testing.T) {
	cfg, err := NewConsumerConfig(1, 2, 3, RoundRobin, "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), cfg.InstanceID)
	assert.Equal(t, int32(3), cfg.GroupSize)

	_, err = NewConsumerConfig(1, 3, 3, RoundRobin, "")
	assert.Error(t, err)
	_, err = NewConsumerConfig(1, -1, 3, RoundRobin, "")
	assert.Error(t, err)
	_, err = NewConsumerConfig(1, 0, 0, FIFO, "")
	assert.Error(t, err)
	_, err = NewConsumerConfig(1, 0, 1, DequeueStrategy(9), "")
	assert.Error(t, err)
}

func TestDequeueStrategyNames(t *testing.T) {
	for _, s := range []DequeueStrategy{FIFO, RoundRobin, Hash} {
		parsed, err := ParseDequeueStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	parsed, err := ParseDequeueStrategy("round_robin")
	require.NoError(t, err)
	assert.Equal(t, RoundRobin, parsed)
	_, err = ParseDequeueStrategy("LIFO")
	assert.Error(t, err)
	assert.Equal(t, "DequeueStrategy(7)", DequeueStrategy(7).String())
}
