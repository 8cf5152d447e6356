package server

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap-incubator/txqueue/kv/queue"
	"github.com/pingcap-incubator/txqueue/kv/transaction/manager"
	"github.com/pingcap-incubator/txqueue/kv/util/worker"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type janitorTask struct{}

const minRunTimeout = time.Minute

// JanitorReport describes one janitor run.
type JanitorReport struct {
	Invalidated []uint64           `json:"invalidated"`
	Watermark   uint64             `json:"watermark"`
	Pruned      manager.PruneStats `json:"pruned"`
}

// Janitor keeps the transaction state bounded. Every run invalidates timed out transactions, deletes the rows
// invalid transactions left in the queue store and prunes the manager.
//
// Invalid ids are pruned with the purge watermark of the previous run, so rows a timed out writer persisted after
// it was invalidated are collected by a second pass before its id is forgotten.
type Janitor struct {
	manager  *manager.Manager
	store    *queue.Store
	interval time.Duration

	worker *worker.Worker
	ticker *worker.Ticker
	wg     sync.WaitGroup

	mu            sync.Mutex
	prevWatermark uint64

	runs        atomic.Uint64
	invalidated atomic.Uint64
	failures    atomic.Uint64
	started     atomic.Bool
}

func NewJanitor(m *manager.Manager, store *queue.Store, interval time.Duration) *Janitor {
	j := &Janitor{manager: m, store: store, interval: interval}
	j.worker = worker.NewWorker("janitor", &j.wg)
	j.ticker = worker.NewTicker(interval, j.worker.Sender(), func() worker.Task { return janitorTask{} })
	return j
}

// Start runs the janitor every interval until Stop. The parent wait group is released once the janitor exited.
func (j *Janitor) Start(wg *sync.WaitGroup) {
	if !j.started.CAS(false, true) {
		return
	}
	j.worker.Start(j)
	j.ticker.Start(&j.wg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		j.wg.Wait()
	}()
}

func (j *Janitor) Stop() {
	if !j.started.Load() {
		return
	}
	j.ticker.Stop()
	j.worker.Stop()
}

func (j *Janitor) Handle(t worker.Task) {
	if _, ok := t.(janitorTask); !ok {
		log.Error("unexpected janitor task", zap.Any("task", t))
		return
	}
	timeout := j.interval
	if timeout < minRunTimeout {
		timeout = minRunTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := j.RunOnce(ctx); err != nil {
		log.Warn("janitor run failed", zap.Error(err))
	}
}

// RunOnce performs one janitor run.
func (j *Janitor) RunOnce(ctx context.Context) (*JanitorReport, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs.Inc()

	report := &JanitorReport{}
	for _, id := range j.manager.TimedOut(time.Now()) {
		ok, err := j.manager.Invalidate(ctx, id)
		if err != nil {
			j.failures.Inc()
			return report, err
		}
		if ok {
			log.Info("invalidated timed out transaction", zap.Uint64("txn", id))
			report.Invalidated = append(report.Invalidated, id)
			j.invalidated.Inc()
		}
	}

	watermark, err := j.store.CollectInvalid(ctx, j.manager.Invalids())
	if err != nil {
		j.failures.Inc()
		return report, err
	}
	report.Watermark = watermark

	report.Pruned, err = j.manager.Prune(ctx, j.prevWatermark)
	if err != nil {
		j.failures.Inc()
		return report, err
	}
	j.prevWatermark = watermark
	return report, nil
}

// JanitorStats are the janitor counters since start.
type JanitorStats struct {
	Runs         uint64 `json:"runs"`
	Invalidated  uint64 `json:"invalidated"`
	Failures     uint64 `json:"failures"`
	DroppedTicks uint64 `json:"dropped_ticks"`
}

func (j *Janitor) Stats() JanitorStats {
	return JanitorStats{
		Runs:         j.runs.Load(),
		Invalidated:  j.invalidated.Load(),
		Failures:     j.failures.Load(),
		DroppedTicks: j.ticker.Dropped(),
	}
}
