package queue

import (
	"context"

	"github.com/pingcap-incubator/txqueue/kv/storage"
	"github.com/pingcap-incubator/txqueue/kv/transaction"
	"github.com/pingcap-incubator/txqueue/kv/transaction/latches"
	"github.com/pingcap-incubator/txqueue/kv/transaction/mvcc"
	"github.com/pingcap-incubator/txqueue/kv/transaction/txn"
	"github.com/pingcap-incubator/txqueue/kv/util/codec"
	"github.com/pingcap-incubator/txqueue/kv/util/engine_util"
)

// Producer enqueues entries to one queue inside transactions. Entries become visible to consumers when the
// transaction commits. Sequence numbers are assigned when the entries are persisted.
type Producer struct {
	store   *Store
	latches *latches.Latches
	queue   QueueName

	tx        *txn.Transaction
	pending   []*QueueEntry
	persisted int
	undo      []storage.Modify
}

var _ transaction.TxAware = (*Producer)(nil)

func NewProducer(store *Store, l *latches.Latches, queue QueueName) *Producer {
	return &Producer{store: store, latches: l, queue: queue}
}

// Enqueue buffers entries in the current transaction.
func (p *Producer) Enqueue(entries ...*QueueEntry) error {
	if p.tx == nil {
		return transaction.ErrTxInactive
	}
	p.pending = append(p.pending, entries...)
	return nil
}

func (p *Producer) StartTx(tx *txn.Transaction) {
	p.reset()
	p.tx = tx
}

func (p *Producer) UpdateTx(tx *txn.Transaction) {
	p.tx = tx
}

// ChangeSet is empty: every entry is written under a fresh key, so producers never conflict.
func (p *Producer) ChangeSet() [][]byte {
	return nil
}

// CommitTx allocates sequence numbers for the buffered entries and persists them.
func (p *Producer) CommitTx(ctx context.Context) error {
	if len(p.pending) == 0 {
		return nil
	}
	queue := p.queue.Bytes()
	counter := counterKey(queue)
	return p.latches.Do([][]byte{counter}, func() error {
		reader, err := p.store.storage.Reader(ctx)
		if err != nil {
			return err
		}
		defer reader.Close()
		next := uint64(0)
		raw, err := reader.GetCF(engine_util.CfMeta, counter)
		if err != nil {
			return err
		}
		if raw != nil {
			if _, next, err = codec.DecodeUint64(raw); err != nil {
				return err
			}
		}

		mtx := mvcc.NewTxn(reader, p.tx)
		for _, e := range p.pending {
			mtx.PutValue(engine_util.CfQueue, entryKey(queue, next), encodeEntry(e))
			next++
		}
		mtx.PutUntracked(engine_util.CfMeta, counter, codec.AppendUint64(nil, next))
		if err = p.store.storage.Write(ctx, mtx.Writes()); err != nil {
			return err
		}
		p.undo = append(p.undo, mtx.UndoWrites()...)
		p.persisted += len(p.pending)
		p.pending = nil
		return nil
	})
}

func (p *Producer) PostCommit() {
	queueCounter.WithLabelValues("enqueue").Add(float64(p.persisted))
	p.reset()
}

// RollbackTx deletes the entries this transaction persisted. Their sequence numbers are not reused.
func (p *Producer) RollbackTx(ctx context.Context) error {
	undo := p.undo
	p.reset()
	if len(undo) == 0 {
		return nil
	}
	return p.store.storage.Write(ctx, undo)
}

func (p *Producer) Name() string {
	return "producer " + p.queue.String()
}

func (p *Producer) reset() {
	p.tx = nil
	p.pending = nil
	p.persisted = 0
	p.undo = nil
}
