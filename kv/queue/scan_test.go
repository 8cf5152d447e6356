package queue

import (
	"testing"

	"github.com/pingcap-incubator/txqueue/kv/transaction/txn"
	"github.com/pingcap-incubator/txqueue/kv/util/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueScanBuilderOrderInsensitive(t *testing.T) {
	q, err := NewQueueName("ns", "q")
	require.NoError(t, err)
	cfg := &ConsumerConfig{GroupID: 7, GroupSize: 3, InstanceID: 1, Strategy: Hash, HashKey: "userId"}
	tx := &txn.Transaction{ReadPointer: 101, WritePointer: 101, InProgress: []uint64{100}, FirstShortInProgress: 100, Invalids: []uint64{}}

	a := NewQueueScanBuilder().WithQueueName(q).WithConsumerConfig(cfg).WithTransaction(tx).WithLimit(5).Build()
	b := NewQueueScanBuilder().WithTransaction(tx).WithLimit(5).WithQueueName(q).WithConsumerConfig(cfg).Build()
	assert.Equal(t, a, b)
	assert.Equal(t, []string{AttrConsumerConfig, AttrQueueName, AttrTransaction}, a.AttributeNames())

	assert.Equal(t, q.Bytes(), QueueNameOf(a))
	gotCfg, err := ConsumerConfigOf(a)
	require.NoError(t, err)
	assert.Equal(t, cfg, gotCfg)
	gotTx, err := TransactionOf(a)
	require.NoError(t, err)
	assert.Equal(t, tx, gotTx)
}

func TestScanAttributesAbsent(t *testing.T) {
	s := NewQueueScanBuilder().Build()
	assert.Empty(t, s.AttributeNames())
	assert.Nil(t, QueueNameOf(s))
	cfg, err := ConsumerConfigOf(s)
	require.NoError(t, err)
	assert.Nil(t, cfg)
	tx, err := TransactionOf(s)
	require.NoError(t, err)
	assert.Nil(t, tx)

	// Only the attached attribute is present.
	s = NewQueueScanBuilder().WithTransaction(&txn.Transaction{ReadPointer: 1, WritePointer: 1}).Build()
	tx, err = TransactionOf(s)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tx.ReadPointer)
	cfg, err = ConsumerConfigOf(s)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestScanAttributesMalformed(t *testing.T) {
	s := &Scan{}
	s.SetAttribute(AttrTransaction, []byte{0, 1, 2})
	s.SetAttribute(AttrConsumerConfig, []byte{0, 1, 2})
	_, err := TransactionOf(s)
	assert.True(t, codec.IsMalformed(err))
	_, err = ConsumerConfigOf(s)
	assert.True(t, codec.IsMalformed(err))
}

func TestScanCarriesCheckpoints(t *testing.T) {
	tx := &txn.Transaction{ReadPointer: 4, WritePointer: 6, InProgress: []uint64{}, Invalids: []uint64{}, CheckpointWritePointers: []uint64{5, 6}}
	b := NewQueueScanBuilder().WithTransaction(tx)
	s := b.Build()
	assert.Equal(t, []string{AttrCheckpoints, AttrTransaction}, s.AttributeNames())
	got, err := TransactionOf(s)
	require.NoError(t, err)
	assert.Equal(t, tx, got)

	// Re-attaching a transaction without checkpoints drops the stale attribute.
	s = b.WithTransaction(&txn.Transaction{ReadPointer: 7, WritePointer: 7}).Build()
	assert.Equal(t, []string{AttrTransaction}, s.AttributeNames())

	s.SetAttribute(AttrCheckpoints, txn.EncodeCheckpoints(&txn.Transaction{CheckpointWritePointers: []uint64{3}}))
	_, err = TransactionOf(s)
	assert.True(t, codec.IsMalformed(err))
}

func TestBuilderReuse(t *testing.T) {
	b := NewQueueScanBuilder().WithRange([]byte{1}, []byte{2})
	first := b.Build()
	b.WithLimit(3).WithRange([]byte{5}, nil)
	assert.Equal(t, []byte{1}, first.StartKey)
	assert.Equal(t, 0, first.Limit)
	assert.Nil(t, first.Attribute(AttrQueueName))
}
