package queue

import (
	"context"

	"github.com/pingcap-incubator/txqueue/kv/storage"
	"github.com/pingcap-incubator/txqueue/kv/transaction"
	"github.com/pingcap-incubator/txqueue/kv/transaction/latches"
	"github.com/pingcap-incubator/txqueue/kv/transaction/manager"
	"github.com/pingcap-incubator/txqueue/kv/transaction/mvcc"
	"github.com/pingcap-incubator/txqueue/kv/transaction/txn"
	"github.com/pingcap-incubator/txqueue/kv/util/engine_util"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Consumer dequeues entries of one queue as one instance of a consumer group. Entries dequeued in a transaction are
// marked processed for the group when it commits; on rollback they become available again.
type Consumer struct {
	store     *Store
	latches   *latches.Latches
	queue     QueueName
	cfg       *ConsumerConfig
	batchSize int

	tx       *txn.Transaction
	dequeued []*Dequeued
	seen     map[string]struct{}
	// claims holds the state rows this transaction claimed and already persisted.
	claims [][]byte
	// writers holds every write pointer this transaction persisted state rows under.
	writers map[uint64]struct{}
	mtx     *mvcc.MvccTxn
}

var _ transaction.TxAware = (*Consumer)(nil)

// NewConsumer returns a consumer reading batchSize entries per store scan.
func NewConsumer(store *Store, l *latches.Latches, queue QueueName, cfg *ConsumerConfig, batchSize int) *Consumer {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Consumer{store: store, latches: l, queue: queue, cfg: cfg, batchSize: batchSize}
}

func (c *Consumer) Config() *ConsumerConfig {
	return c.cfg
}

// Dequeue returns up to max entries this instance may consume: visible to the transaction, owned by the instance and
// neither processed nor claimed by another member of the group. Entries dequeued earlier in the same transaction are
// not returned again.
func (c *Consumer) Dequeue(ctx context.Context, max int) ([]*Dequeued, error) {
	if c.tx == nil {
		return nil, transaction.ErrTxInactive
	}
	var result []*Dequeued
	var start []byte
	for len(result) < max {
		scan := NewQueueScanBuilder().
			WithTransaction(c.tx).
			WithConsumerConfig(c.cfg).
			WithQueueName(c.queue).
			WithRange(start, nil).
			WithLimit(c.batchSize).
			Build()
		page, err := c.store.Scan(ctx, scan)
		if err != nil {
			return nil, err
		}
		for _, d := range page {
			if len(result) >= max {
				break
			}
			ok, err := c.take(ctx, d)
			if err != nil {
				return nil, err
			}
			if ok {
				result = append(result, d)
			}
		}
		if len(page) < c.batchSize {
			break
		}
		start = append(append([]byte{}, page[len(page)-1].Key...), 0)
	}
	c.dequeued = append(c.dequeued, result...)
	queueCounter.WithLabelValues("dequeue").Add(float64(len(result)))
	return result, nil
}

// take re-checks an entry returned by the store and reserves it for this transaction.
func (c *Consumer) take(ctx context.Context, d *Dequeued) (bool, error) {
	if _, ok := c.seen[string(d.Key)]; ok {
		return false, nil
	}
	if !c.tx.IsVisible(d.Writer) || !Accept(c.cfg, d.Seq, d.Entry) {
		return false, nil
	}
	key := stateKey(d.Key, c.cfg.GroupID)
	free, err := c.stateFree(ctx, key)
	if err != nil || !free {
		return false, err
	}
	if needsClaim(c.cfg) {
		claimed := false
		err = c.latches.Do([][]byte{key}, func() error {
			// Another instance may have claimed the entry since the check above.
			if free, err := c.stateFree(ctx, key); err != nil || !free {
				return err
			}
			value := mvcc.EncodeValue(c.tx.WritePointer, encodeState(stateClaimed, c.cfg.InstanceID))
			if err := c.store.storage.Write(ctx, []storage.Modify{{Data: storage.Put{Cf: engine_util.CfState, Key: key, Value: value}}}); err != nil {
				return err
			}
			c.writers[c.tx.WritePointer] = struct{}{}
			claimed = true
			return nil
		})
		if err != nil {
			return false, err
		}
		if !claimed {
			queueCounter.WithLabelValues("claim_lost").Inc()
			return false, nil
		}
		c.claims = append(c.claims, key)
	}
	c.seen[string(d.Key)] = struct{}{}
	return true, nil
}

// stateFree reports whether no live member of the group has claimed or processed the entry behind key. Rows written
// by transactions invalid in the snapshot do not count.
func (c *Consumer) stateFree(ctx context.Context, key []byte) (bool, error) {
	reader, err := c.store.storage.Reader(ctx)
	if err != nil {
		return false, err
	}
	defer reader.Close()
	raw, err := reader.GetCF(engine_util.CfState, key)
	if err != nil || raw == nil {
		return raw == nil, err
	}
	writer, payload, err := mvcc.DecodeValue(raw)
	if err != nil {
		return false, err
	}
	if _, _, err = decodeState(payload); err != nil {
		return false, err
	}
	return c.tx.IsInvalid(writer), nil
}

func (c *Consumer) StartTx(tx *txn.Transaction) {
	c.reset()
	c.tx = tx
}

func (c *Consumer) UpdateTx(tx *txn.Transaction) {
	c.tx = tx
}

// ChangeSet holds the group's state rows of every dequeued entry, so two transactions processing the same entry for
// the same group conflict.
func (c *Consumer) ChangeSet() [][]byte {
	if c.mtx == nil {
		return nil
	}
	return c.mtx.ChangeSet()
}

// CommitTx marks every dequeued entry processed for the group. An entry another live transaction has marked in the
// meantime fails the commit with a conflict instead of overwriting that mark.
func (c *Consumer) CommitTx(ctx context.Context) error {
	if len(c.dequeued) == 0 {
		return nil
	}
	keys := make([][]byte, 0, len(c.dequeued))
	for _, d := range c.dequeued {
		keys = append(keys, stateKey(d.Key, c.cfg.GroupID))
	}
	return c.latches.Do(keys, func() error {
		reader, err := c.store.storage.Reader(ctx)
		if err != nil {
			return err
		}
		defer reader.Close()
		mtx := mvcc.NewTxn(reader, c.tx)
		for _, key := range keys {
			writer, found, err := c.stateWriter(reader, key)
			if err != nil {
				return err
			}
			if found && !c.ownWriter(writer) && !c.tx.IsInvalid(writer) {
				return &manager.ErrConflict{TxID: c.tx.ReadPointer, ConflictKey: key, ConflictCommit: writer}
			}
			mtx.PutValue(engine_util.CfState, key, encodeState(stateProcessed, c.cfg.InstanceID))
		}
		if err = c.store.storage.Write(ctx, mtx.Writes()); err != nil {
			return err
		}
		c.writers[c.tx.WritePointer] = struct{}{}
		c.mtx = &mtx
		return nil
	})
}

func (c *Consumer) PostCommit() {
	queueCounter.WithLabelValues("ack").Add(float64(len(c.dequeued)))
	c.reset()
}

// RollbackTx deletes the claims and processed marks this transaction persisted. Rows taken over by another
// transaction after this one was invalidated are left alone.
func (c *Consumer) RollbackTx(ctx context.Context) error {
	keys := append([][]byte{}, c.claims...)
	if c.mtx != nil {
		for _, m := range c.mtx.UndoWrites() {
			keys = append(keys, m.Key())
		}
	}
	if c.tx != nil && len(c.dequeued) > 0 {
		log.Debug("consumer rolled back", zap.Uint64("txn", c.tx.ReadPointer), zap.Int("entries", len(c.dequeued)))
	}
	if len(keys) == 0 {
		c.reset()
		return nil
	}
	defer c.reset()
	return c.latches.Do(keys, func() error {
		reader, err := c.store.storage.Reader(ctx)
		if err != nil {
			return err
		}
		defer reader.Close()
		var undo []storage.Modify
		for _, key := range keys {
			writer, found, err := c.stateWriter(reader, key)
			if err != nil {
				return err
			}
			if found && c.ownWriter(writer) {
				undo = append(undo, storage.Modify{Data: storage.Delete{Cf: engine_util.CfState, Key: key}})
			}
		}
		if len(undo) == 0 {
			return nil
		}
		return c.store.storage.Write(ctx, undo)
	})
}

// stateWriter returns the writer of the state row at key.
func (c *Consumer) stateWriter(reader storage.StorageReader, key []byte) (uint64, bool, error) {
	raw, err := reader.GetCF(engine_util.CfState, key)
	if err != nil || raw == nil {
		return 0, false, err
	}
	writer, _, err := mvcc.DecodeValue(raw)
	if err != nil {
		return 0, false, err
	}
	return writer, true, nil
}

func (c *Consumer) ownWriter(writer uint64) bool {
	_, ok := c.writers[writer]
	return ok
}

func (c *Consumer) Name() string {
	return "consumer " + c.queue.String() + " " + c.cfg.String()
}

func (c *Consumer) reset() {
	c.tx = nil
	c.dequeued = nil
	c.seen = make(map[string]struct{})
	c.writers = make(map[uint64]struct{})
	c.claims = nil
	c.mtx = nil
}
