package queue

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/pingcap-incubator/txqueue/kv/storage"
	"github.com/pingcap-incubator/txqueue/kv/transaction"
	"github.com/pingcap-incubator/txqueue/kv/transaction/latches"
	"github.com/pingcap-incubator/txqueue/kv/transaction/manager"
	"github.com/pingcap-incubator/txqueue/kv/util/engine_util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	t       *testing.T
	mem     *storage.MemStorage
	mgr     *manager.Manager
	store   *Store
	latches *latches.Latches
	queue   QueueName
}

func newTestEnv(t *testing.T) *testEnv {
	mem := storage.NewMemStorage()
	mgr, err := manager.NewManager(context.Background(), manager.Options{}, manager.NewStorageStateStore(mem))
	require.NoError(t, err)
	q, err := NewQueueName("default", "events")
	require.NoError(t, err)
	return &testEnv{t: t, mem: mem, mgr: mgr, store: NewStore(mem, 0), latches: latches.NewLatches(), queue: q}
}

func (e *testEnv) produce(n int) {
	p := NewProducer(e.store, e.latches, e.queue)
	c := transaction.NewTxContext(e.mgr, p)
	require.NoError(e.t, c.Start(context.Background()))
	for i := 0; i < n; i++ {
		require.NoError(e.t, p.Enqueue(&QueueEntry{
			Data:     []byte(fmt.Sprintf("entry-%d", i)),
			HashKeys: map[string][]byte{"userId": []byte(fmt.Sprintf("user-%d", i%5))},
		}))
	}
	require.NoError(e.t, c.Finish(context.Background()))
}

func (e *testEnv) consumer(groupID uint64, instance, size int32, strategy DequeueStrategy) (*Consumer, *transaction.TxContext) {
	cfg, err := NewConsumerConfig(groupID, instance, size, strategy, "userId")
	require.NoError(e.t, err)
	cons := NewConsumer(e.store, e.latches, e.queue, cfg, 3)
	return cons, transaction.NewTxContext(e.mgr, cons)
}

func (e *testEnv) dequeue(cons *Consumer, c *transaction.TxContext, max int) []uint64 {
	if c.Current() == nil {
		require.NoError(e.t, c.Start(context.Background()))
	}
	got, err := cons.Dequeue(context.Background(), max)
	require.NoError(e.t, err)
	seqs := make([]uint64, 0, len(got))
	for _, d := range got {
		seqs = append(seqs, d.Seq)
	}
	return seqs
}

func seqRange(from, to uint64) []uint64 {
	var seqs []uint64
	for s := from; s < to; s++ {
		seqs = append(seqs, s)
	}
	return seqs
}

func TestEnqueueDequeueRoundRobin(t *testing.T) {
	e := newTestEnv(t)
	e.produce(10)

	c0, ctx0 := e.consumer(1, 0, 2, RoundRobin)
	c1, ctx1 := e.consumer(1, 1, 2, RoundRobin)
	got0 := e.dequeue(c0, ctx0, 100)
	got1 := e.dequeue(c1, ctx1, 100)
	assert.Equal(t, []uint64{0, 2, 4, 6, 8}, got0)
	assert.Equal(t, []uint64{1, 3, 5, 7, 9}, got1)

	// Dequeuing again in the same transaction returns nothing new.
	assert.Empty(t, e.dequeue(c0, ctx0, 100))

	require.NoError(t, ctx0.Finish(context.Background()))
	require.NoError(t, ctx1.Finish(context.Background()))

	assert.Empty(t, e.dequeue(c0, ctx0, 100))
	assert.Empty(t, e.dequeue(c1, ctx1, 100))

	// Another group sees everything.
	other, otherCtx := e.consumer(2, 0, 1, FIFO)
	assert.Equal(t, seqRange(0, 10), e.dequeue(other, otherCtx, 100))
}

func TestDequeueOwnCheckpointedEntries(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := NewProducer(e.store, e.latches, e.queue)
	cfg, err := NewConsumerConfig(1, 0, 1, FIFO, "")
	require.NoError(t, err)
	cons := NewConsumer(e.store, e.latches, e.queue, cfg, 3)
	c := transaction.NewTxContext(e.mgr, p, cons)

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Checkpoint(ctx))
	require.NoError(t, p.Enqueue(&QueueEntry{Data: []byte("a")}, &QueueEntry{Data: []byte("b")}))
	require.NoError(t, p.CommitTx(ctx))
	require.NoError(t, c.Checkpoint(ctx))

	// Entries written under the first checkpoint pass the store side filter.
	assert.Equal(t, []uint64{0, 1}, e.dequeue(cons, c, 10))
	require.NoError(t, c.Finish(ctx))

	// Nobody else may see them as unprocessed.
	other, otherCtx := e.consumer(1, 0, 1, FIFO)
	assert.Empty(t, e.dequeue(other, otherCtx, 10))
}

func TestDequeueHashPartitions(t *testing.T) {
	e := newTestEnv(t)
	e.produce(20)

	var all []uint64
	for instance := int32(0); instance < 3; instance++ {
		cons, c := e.consumer(1, instance, 3, Hash)
		require.NoError(t, c.Start(context.Background()))
		got, err := cons.Dequeue(context.Background(), 100)
		require.NoError(t, err)
		for _, d := range got {
			all = append(all, d.Seq)
			assert.Equal(t, instance, Owner(cons.Config(), d.Seq, d.Entry))
		}
		require.NoError(t, c.Finish(context.Background()))
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	assert.Equal(t, seqRange(0, 20), all)
}

func TestDequeueLimitAndPaging(t *testing.T) {
	e := newTestEnv(t)
	e.produce(10)
	cons, c := e.consumer(1, 0, 1, FIFO)
	assert.Equal(t, seqRange(0, 4), e.dequeue(cons, c, 4))
	assert.Equal(t, seqRange(4, 10), e.dequeue(cons, c, 100))
	assert.Empty(t, e.dequeue(cons, c, 0))
}

func TestUncommittedAndInvalidEntries(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := NewProducer(e.store, e.latches, e.queue)
	pc := transaction.NewTxContext(e.mgr, p)
	require.NoError(t, pc.Start(ctx))
	require.NoError(t, p.Enqueue(&QueueEntry{Data: []byte("a")}, &QueueEntry{Data: []byte("b")}))
	// Persist without committing, as a producer that crashed mid-commit would.
	require.NoError(t, p.CommitTx(ctx))
	assert.Equal(t, 2, e.mem.Len(engine_util.CfQueue))

	cons, c := e.consumer(1, 0, 1, FIFO)
	assert.Empty(t, e.dequeue(cons, c, 10))
	require.NoError(t, c.Abort(ctx))

	writer := pc.Current().ReadPointer
	_, err := e.mgr.Invalidate(ctx, writer)
	require.NoError(t, err)
	assert.Empty(t, e.dequeue(cons, c, 10))
	require.NoError(t, c.Finish(ctx))

	// The raw scan still returns the rows until they are collected.
	raw, err := e.store.Scan(ctx, NewQueueScanBuilder().WithQueueName(e.queue).Build())
	require.NoError(t, err)
	assert.Len(t, raw, 2)

	purged, err := e.store.CollectInvalid(ctx, e.mgr.Invalids())
	require.NoError(t, err)
	assert.Equal(t, writer+1, purged)
	assert.Equal(t, 0, e.mem.Len(engine_util.CfQueue))

	stats, err := e.mgr.Prune(ctx, purged)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Invalids)

	// Sequence numbers are not reused.
	e.produce(1)
	assert.Equal(t, []uint64{2}, e.dequeue(cons, c, 10))
}

func TestConsumerRollbackReleasesEntries(t *testing.T) {
	e := newTestEnv(t)
	e.produce(3)
	cons, c := e.consumer(1, 0, 1, FIFO)
	assert.Equal(t, seqRange(0, 3), e.dequeue(cons, c, 10))
	require.NoError(t, c.Abort(context.Background()))
	assert.Equal(t, 0, e.mem.Len(engine_util.CfState))

	assert.Equal(t, seqRange(0, 3), e.dequeue(cons, c, 10))
	require.NoError(t, c.Finish(context.Background()))
	assert.Equal(t, 3, e.mem.Len(engine_util.CfState))
}

func TestFIFOClaims(t *testing.T) {
	e := newTestEnv(t)
	e.produce(6)
	c0, ctx0 := e.consumer(1, 0, 2, FIFO)
	c1, ctx1 := e.consumer(1, 1, 2, FIFO)

	assert.Equal(t, seqRange(0, 4), e.dequeue(c0, ctx0, 4))
	assert.Equal(t, seqRange(4, 6), e.dequeue(c1, ctx1, 10))
	assert.Equal(t, 6, e.mem.Len(engine_util.CfState))

	require.NoError(t, ctx0.Abort(context.Background()))
	require.NoError(t, ctx1.Finish(context.Background()))
	assert.Equal(t, 2, e.mem.Len(engine_util.CfState))

	again, againCtx := e.consumer(1, 0, 2, FIFO)
	assert.Equal(t, seqRange(0, 4), e.dequeue(again, againCtx, 10))
	require.NoError(t, againCtx.Finish(context.Background()))
}

func TestClaimsOfInvalidConsumerAreReleased(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.produce(4)
	c0, ctx0 := e.consumer(1, 0, 2, FIFO)
	assert.Equal(t, seqRange(0, 2), e.dequeue(c0, ctx0, 2))
	_, err := e.mgr.Invalidate(ctx, ctx0.Current().ReadPointer)
	require.NoError(t, err)

	c1, ctx1 := e.consumer(1, 1, 2, FIFO)
	assert.Equal(t, seqRange(0, 4), e.dequeue(c1, ctx1, 10))
	require.NoError(t, ctx1.Finish(ctx))

	// The invalidated consumer cannot commit, and its rollback leaves the new marks alone.
	err = ctx0.Finish(ctx)
	require.Error(t, err)
	assert.Equal(t, 4, e.mem.Len(engine_util.CfState))

	check, checkCtx := e.consumer(1, 0, 2, FIFO)
	assert.Empty(t, e.dequeue(check, checkCtx, 10))
}

func TestConcurrentAckConflicts(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.produce(2)
	a, actx := e.consumer(1, 0, 1, RoundRobin)
	b, bctx := e.consumer(1, 0, 1, RoundRobin)
	assert.Equal(t, seqRange(0, 2), e.dequeue(a, actx, 10))
	assert.Equal(t, seqRange(0, 2), e.dequeue(b, bctx, 10))

	require.NoError(t, actx.Finish(ctx))
	err := bctx.Finish(ctx)
	require.Error(t, err)
	assert.True(t, manager.IsConflict(err))

	// The winner's marks survive the loser's rollback.
	assert.Equal(t, 2, e.mem.Len(engine_util.CfState))
	assert.Empty(t, e.dequeue(b, bctx, 10))
}

func TestStoreScanFilters(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.produce(6)

	other, err := NewQueueName("default", "other")
	require.NoError(t, err)
	p := NewProducer(e.store, e.latches, other)
	pc := transaction.NewTxContext(e.mgr, p)
	require.NoError(t, pc.Start(ctx))
	require.NoError(t, p.Enqueue(&QueueEntry{Data: []byte("x")}))
	require.NoError(t, pc.Finish(ctx))

	all, err := e.store.Scan(ctx, &Scan{})
	require.NoError(t, err)
	assert.Len(t, all, 7)

	mine, err := e.store.Scan(ctx, NewQueueScanBuilder().WithQueueName(e.queue).Build())
	require.NoError(t, err)
	assert.Len(t, mine, 6)

	cfg := &ConsumerConfig{GroupID: 1, GroupSize: 3, InstanceID: 2, Strategy: RoundRobin}
	part, err := e.store.Scan(ctx, NewQueueScanBuilder().WithQueueName(e.queue).WithConsumerConfig(cfg).WithLimit(1).Build())
	require.NoError(t, err)
	require.Len(t, part, 1)
	assert.Equal(t, uint64(2), part[0].Seq)

	bad := NewQueueScanBuilder().WithQueueName(e.queue).Build()
	bad.SetAttribute(AttrTransaction, []byte{1})
	_, err = e.store.Scan(ctx, bad)
	assert.Error(t, err)
}

func TestEvict(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.produce(4)

	g1, g1ctx := e.consumer(1, 0, 1, FIFO)
	assert.Equal(t, seqRange(0, 2), e.dequeue(g1, g1ctx, 2))
	require.NoError(t, g1ctx.Finish(ctx))
	g2, g2ctx := e.consumer(2, 0, 1, FIFO)
	assert.Equal(t, seqRange(0, 4), e.dequeue(g2, g2ctx, 10))
	require.NoError(t, g2ctx.Finish(ctx))

	tx, err := e.mgr.Start(ctx)
	require.NoError(t, err)
	evicted, err := e.store.Evict(ctx, tx, e.queue, []uint64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 2, e.mem.Len(engine_util.CfQueue))
	assert.Equal(t, 2, e.mem.Len(engine_util.CfState))
	require.NoError(t, e.mgr.CanCommit(ctx, tx, nil))

	assert.Equal(t, seqRange(2, 4), e.dequeue(g1, g1ctx, 10))
}

func TestProducerRequiresTransaction(t *testing.T) {
	e := newTestEnv(t)
	p := NewProducer(e.store, e.latches, e.queue)
	assert.Equal(t, transaction.ErrTxInactive, p.Enqueue(&QueueEntry{}))
	cons, _ := e.consumer(1, 0, 1, FIFO)
	_, err := cons.Dequeue(context.Background(), 1)
	assert.Equal(t, transaction.ErrTxInactive, err)
}
