package queue

import (
	"bytes"
	"context"
	"sort"

	"github.com/pingcap-incubator/txqueue/kv/storage"
	"github.com/pingcap-incubator/txqueue/kv/transaction/mvcc"
	"github.com/pingcap-incubator/txqueue/kv/transaction/txn"
	"github.com/pingcap-incubator/txqueue/kv/util/codec"
	"github.com/pingcap-incubator/txqueue/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const gcBatchSize = 64

// Store executes queue scans against a Storage and removes rows that can no longer be seen.
type Store struct {
	storage storage.Storage
	limiter *rate.Limiter
}

// NewStore returns a Store. gcRateLimit bounds the rows deleted per second by CollectInvalid and Evict; zero or less
// means unlimited.
func NewStore(s storage.Storage, gcRateLimit int) *Store {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if gcRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(gcRateLimit), gcRateLimit)
	}
	return &Store{storage: s, limiter: limiter}
}

func (s *Store) Storage() storage.Storage {
	return s.storage
}

// Scan reads entries of the queue column family. The dequeue attributes of scan, when present, narrow the result:
// a queue name restricts it to that queue, a transaction drops entries whose writer the transaction cannot see and a
// consumer config drops entries the instance does not own. Malformed attributes fail the scan.
func (s *Store) Scan(ctx context.Context, scan *Scan) ([]*Dequeued, error) {
	tx, err := TransactionOf(scan)
	if err != nil {
		return nil, err
	}
	cfg, err := ConsumerConfigOf(scan)
	if err != nil {
		return nil, err
	}
	var prefix []byte
	if queue := QueueNameOf(scan); queue != nil {
		prefix = entryPrefix(queue)
	}
	start, end := scan.StartKey, scan.EndKey
	if prefix != nil {
		if bytes.Compare(start, prefix) < 0 {
			start = prefix
		}
		if next := codec.PrefixNext(prefix); next != nil && (end == nil || bytes.Compare(end, next) > 0) {
			end = next
		}
	}

	reader, err := s.storage.Reader(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	scanner := mvcc.NewScanner(engine_util.CfQueue, start, end, &mvcc.RoTxn{Reader: reader, Tx: tx})
	defer scanner.Close()

	var result []*Dequeued
	for scan.Limit <= 0 || len(result) < scan.Limit {
		key, writer, payload, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if key == nil {
			break
		}
		_, seq, err := decodeEntryKey(key)
		if err != nil {
			return nil, err
		}
		entry, err := decodeEntry(payload)
		if err != nil {
			return nil, err
		}
		if cfg != nil && !Accept(cfg, seq, entry) {
			continue
		}
		result = append(result, &Dequeued{Key: key, Seq: seq, Writer: writer, Entry: entry})
	}
	return result, nil
}

// CollectInvalid deletes every queue entry and consumer state row written by one of invalids. It returns the purge
// watermark: every invalid id below it has no rows left, so the manager may forget it.
func (s *Store) CollectInvalid(ctx context.Context, invalids []uint64) (uint64, error) {
	if len(invalids) == 0 {
		return 0, nil
	}
	sorted := append([]uint64{}, invalids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	isInvalid := func(id uint64) bool {
		i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= id })
		return i < len(sorted) && sorted[i] == id
	}

	for _, cf := range []string{engine_util.CfQueue, engine_util.CfState} {
		deleted, err := s.deleteWhere(ctx, cf, func(_ []byte, writer uint64) bool { return isInvalid(writer) })
		if err != nil {
			return 0, err
		}
		if deleted > 0 {
			log.Info("collected rows of invalid transactions", zap.String("cf", cf), zap.Int("rows", deleted))
		}
	}
	return sorted[len(sorted)-1] + 1, nil
}

// Evict deletes the entries of queue that every group in groups has processed, as seen by tx, together with their
// state rows. It returns the number of evicted entries.
func (s *Store) Evict(ctx context.Context, tx *txn.Transaction, queue QueueName, groups []uint64) (int, error) {
	if len(groups) == 0 {
		return 0, nil
	}
	reader, err := s.storage.Reader(ctx)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	prefix := entryPrefix(queue.Bytes())
	ro := &mvcc.RoTxn{Reader: reader, Tx: tx}
	scanner := mvcc.NewScanner(engine_util.CfQueue, prefix, codec.PrefixNext(prefix), &mvcc.RoTxn{Reader: reader})
	defer scanner.Close()

	var batch []storage.Modify
	evicted := 0
	for {
		key, _, _, err := scanner.Next()
		if err != nil {
			return evicted, err
		}
		if key == nil {
			break
		}
		done := true
		for _, group := range groups {
			payload, _, err := ro.GetValue(engine_util.CfState, stateKey(key, group))
			if err != nil {
				return evicted, err
			}
			if payload == nil {
				done = false
				break
			}
			kind, _, err := decodeState(payload)
			if err != nil {
				return evicted, err
			}
			if kind != stateProcessed {
				done = false
				break
			}
		}
		if !done {
			continue
		}
		batch = append(batch, storage.Modify{Data: storage.Delete{Cf: engine_util.CfQueue, Key: key}})
		for _, group := range groups {
			batch = append(batch, storage.Modify{Data: storage.Delete{Cf: engine_util.CfState, Key: stateKey(key, group)}})
		}
		evicted++
		if len(batch) >= gcBatchSize {
			if err = s.writeThrottled(ctx, batch); err != nil {
				return evicted, err
			}
			batch = nil
		}
	}
	if err = s.writeThrottled(ctx, batch); err != nil {
		return evicted, err
	}
	gcDeletedCounter.WithLabelValues("evicted").Add(float64(evicted))
	return evicted, nil
}

func (s *Store) deleteWhere(ctx context.Context, cf string, match func(key []byte, writer uint64) bool) (int, error) {
	reader, err := s.storage.Reader(ctx)
	if err != nil {
		return 0, err
	}
	defer reader.Close()
	scanner := mvcc.NewScanner(cf, nil, nil, &mvcc.RoTxn{Reader: reader})
	defer scanner.Close()

	var batch []storage.Modify
	deleted := 0
	for {
		key, writer, _, err := scanner.Next()
		if err != nil {
			return deleted, err
		}
		if key == nil {
			break
		}
		if !match(key, writer) {
			continue
		}
		batch = append(batch, storage.Modify{Data: storage.Delete{Cf: cf, Key: key}})
		if len(batch) >= gcBatchSize {
			if err = s.writeThrottled(ctx, batch); err != nil {
				return deleted, err
			}
			deleted += len(batch)
			gcDeletedCounter.WithLabelValues(cf).Add(float64(len(batch)))
			batch = nil
		}
	}
	if err = s.writeThrottled(ctx, batch); err != nil {
		return deleted, err
	}
	deleted += len(batch)
	gcDeletedCounter.WithLabelValues(cf).Add(float64(len(batch)))
	return deleted, nil
}

// writeThrottled applies batch once the rate limiter admits one token per row.
func (s *Store) writeThrottled(ctx context.Context, batch []storage.Modify) error {
	for rest := len(batch); rest > 0; {
		n := rest
		if burst := s.limiter.Burst(); burst > 0 && n > burst {
			n = burst
		}
		if err := s.limiter.WaitN(ctx, n); err != nil {
			return errors.WithStack(err)
		}
		rest -= n
	}
	if len(batch) == 0 {
		return nil
	}
	return s.storage.Write(ctx, batch)
}
