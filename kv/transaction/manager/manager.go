package manager

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pingcap-incubator/txqueue/kv/config"
	"github.com/pingcap-incubator/txqueue/kv/transaction/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// TxType distinguishes short transactions, which are subject to the regular timeout and bound FirstShortInProgress,
// from long ones.
type TxType int

const (
	TxShort TxType = iota
	TxLong
)

func (t TxType) String() string {
	if t == TxLong {
		return "long"
	}
	return "short"
}

// Options tune a Manager.
type Options struct {
	// TxTimeout is the age after which a short transaction is reported by TimedOut. Zero disables it.
	TxTimeout time.Duration
	// LongTxTimeout is the same for long transactions.
	LongTxTimeout time.Duration
	// IDBatchSize is the number of ids reserved by each watermark advance.
	IDBatchSize uint64
	// FirstID is the first id handed out by a manager without saved state. Defaults to 1.
	FirstID uint64
	// Now is the clock used for transaction ages. Defaults to time.Now.
	Now func() time.Time
}

func OptionsFromConfig(conf *config.Config) Options {
	return Options{
		TxTimeout:     conf.Txn.Timeout.Duration,
		LongTxTimeout: conf.Txn.LongTimeout.Duration,
		IDBatchSize:   conf.Txn.IDBatchSize,
	}
}

// maxWatermark is one past the largest id the signed wire form can carry.
const maxWatermark = uint64(math.MaxInt64) + 1

type openTx struct {
	readPointer uint64
	typ         TxType
	startedAt   time.Time
	// pointers holds the read pointer followed by every checkpoint write pointer, ascending.
	pointers []uint64
}

type changeSet struct {
	txID          uint64
	commitPointer uint64
	pointers      []uint64
	keys          map[string]struct{}
}

// Manager is the visibility and conflict authority. It allocates transaction ids, tracks open and invalid
// transactions and the change sets of recent commits. All state changes happen under one mutex and are persisted to
// the StateStore before the call returns.
type Manager struct {
	mu    sync.Mutex
	opts  Options
	store StateStore

	nextID    uint64
	watermark uint64
	open      map[uint64]*openTx
	// owners maps every pointer of an open transaction to its read pointer.
	owners    map[uint64]uint64
	invalids  []uint64
	committed []*changeSet
	// checkpointed holds the pointers of committed transactions that were checkpointed, ordered by read pointer. It
	// outlives the change sets so a late Invalidate still reaches every write pointer.
	checkpointed [][]uint64
}

// NewManager loads saved state from store and returns a ready Manager. Transactions that were open when the state
// was saved can no longer commit and are invalidated. Numbering resumes at the saved watermark.
func NewManager(ctx context.Context, opts Options, store StateStore) (*Manager, error) {
	if opts.IDBatchSize == 0 {
		opts.IDBatchSize = 1
	}
	if opts.FirstID == 0 {
		opts.FirstID = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		opts:   opts,
		store:  store,
		open:   make(map[uint64]*openTx),
		owners: make(map[uint64]uint64),
	}
	state, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	m.nextID = opts.FirstID
	if state != nil {
		if state.Watermark > m.nextID {
			m.nextID = state.Watermark
		}
		m.invalids = mergeSorted(state.Invalids, state.InProgress)
		m.checkpointed = state.Checkpointed
		log.Info("transaction manager recovered",
			zap.Uint64("next-id", m.nextID),
			zap.Int("invalidated", len(state.InProgress)),
			zap.Int("invalids", len(m.invalids)))
	}
	m.watermark = m.nextID
	if err = m.persistLocked(ctx); err != nil {
		return nil, err
	}
	m.updateGaugesLocked()
	return m, nil
}

// Start begins a short transaction.
func (m *Manager) Start(ctx context.Context) (*txn.Transaction, error) {
	return m.start(ctx, TxShort)
}

// StartLong begins a long transaction. Long transactions do not bound FirstShortInProgress and only time out when
// LongTxTimeout is set.
func (m *Manager) StartLong(ctx context.Context) (*txn.Transaction, error) {
	return m.start(ctx, TxLong)
}

func (m *Manager) start(ctx context.Context, typ TxType) (*txn.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.allocateLocked()
	if err != nil {
		return nil, err
	}
	tx := &txn.Transaction{
		ReadPointer:          id,
		WritePointer:         id,
		InProgress:           m.inProgressLocked(0),
		FirstShortInProgress: m.firstShortLocked(0),
		Invalids:             copyIDs(m.invalids),
	}
	m.open[id] = &openTx{readPointer: id, typ: typ, startedAt: m.opts.Now(), pointers: []uint64{id}}
	m.owners[id] = id
	if err = m.persistLocked(ctx); err != nil {
		delete(m.open, id)
		delete(m.owners, id)
		return nil, err
	}
	txnCounter.WithLabelValues("start_" + typ.String()).Inc()
	m.updateGaugesLocked()
	return tx, nil
}

// IsVisible reports whether writes tagged with writerID are visible to tx.
func (m *Manager) IsVisible(tx *txn.Transaction, writerID uint64) bool {
	return tx.IsVisible(writerID)
}

// CanCommit checks tx's change set against every change set committed after tx started. On success tx is committed:
// its pointers leave the in-progress set and its change set is kept for conflict detection against transactions
// still open. A conflict leaves tx open; the caller rolls back and aborts it.
func (m *Manager) CanCommit(ctx context.Context, tx *txn.Transaction, changes [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := tx.ReadPointer
	if m.isInvalidLocked(id) {
		return ErrAlreadyInvalid
	}
	o, ok := m.open[id]
	if !ok {
		return ErrTransactionNotInProgress
	}
	for i := len(m.committed) - 1; i >= 0 && m.committed[i].commitPointer > id; i-- {
		cs := m.committed[i]
		for _, key := range changes {
			if _, hit := cs.keys[string(key)]; hit {
				txnCounter.WithLabelValues("conflict").Inc()
				log.Debug("write conflict", zap.Uint64("txn", id), zap.Uint64("commit", cs.commitPointer))
				return &ErrConflict{TxID: id, ConflictKey: key, ConflictCommit: cs.commitPointer}
			}
		}
	}

	cs := &changeSet{
		txID:          id,
		commitPointer: m.nextID,
		pointers:      o.pointers,
		keys:          make(map[string]struct{}, len(changes)),
	}
	for _, key := range changes {
		cs.keys[string(key)] = struct{}{}
	}
	m.closeLocked(o)
	m.committed = append(m.committed, cs)
	oldCheckpointed := m.checkpointed
	if len(o.pointers) > 1 {
		m.checkpointed = insertPointers(m.checkpointed, o.pointers)
	}
	if err := m.persistLocked(ctx); err != nil {
		m.committed = m.committed[:len(m.committed)-1]
		m.checkpointed = oldCheckpointed
		m.reopenLocked(o)
		return err
	}
	txnCounter.WithLabelValues("commit").Inc()
	m.updateGaugesLocked()
	return nil
}

// Abort closes tx without invalidating it. The caller must have removed every write of tx first. Aborting a
// transaction that is not open is a no-op.
func (m *Manager) Abort(ctx context.Context, tx *txn.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.open[tx.ReadPointer]
	if !ok {
		return nil
	}
	m.closeLocked(o)
	if err := m.persistLocked(ctx); err != nil {
		m.reopenLocked(o)
		return err
	}
	txnCounter.WithLabelValues("abort").Inc()
	m.updateGaugesLocked()
	return nil
}

// Invalidate makes the writes of transaction id permanently invisible. id may be open or committed; every pointer of
// the transaction is invalidated. The change is persisted before Invalidate returns. It reports false when id was
// already invalid.
func (m *Manager) Invalidate(ctx context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isInvalidLocked(id) {
		return false, nil
	}
	oldInvalids, oldCommitted, oldCheckpointed := m.invalids, m.committed, m.checkpointed
	revert := func() {}
	if rp, ok := m.owners[id]; ok {
		o := m.open[rp]
		m.closeLocked(o)
		m.invalids = mergeSorted(m.invalids, o.pointers)
		revert = func() { m.reopenLocked(o) }
	} else if i := m.findCheckpointedLocked(id); i >= 0 {
		pointers := m.checkpointed[i]
		m.checkpointed = append(m.checkpointed[:i:i], m.checkpointed[i+1:]...)
		if j := m.findCommittedLocked(pointers[0]); j >= 0 {
			m.committed = append(m.committed[:j:j], m.committed[j+1:]...)
		}
		m.invalids = mergeSorted(m.invalids, pointers)
	} else if i := m.findCommittedLocked(id); i >= 0 {
		cs := m.committed[i]
		m.committed = append(m.committed[:i:i], m.committed[i+1:]...)
		m.invalids = mergeSorted(m.invalids, cs.pointers)
	} else if id > 0 && id < m.nextID {
		m.invalids = mergeSorted(m.invalids, []uint64{id})
	} else {
		return false, ErrUnknownTransaction
	}
	if err := m.persistLocked(ctx); err != nil {
		m.invalids, m.committed, m.checkpointed = oldInvalids, oldCommitted, oldCheckpointed
		revert()
		return false, err
	}
	log.Info("transaction invalidated", zap.Uint64("txn", id))
	txnCounter.WithLabelValues("invalidate").Inc()
	m.updateGaugesLocked()
	return true, nil
}

// Checkpoint gives tx a new write pointer. Writes made under the new pointer are distinguishable from earlier ones,
// and the earlier ones stay visible to the transaction through CheckpointWritePointers. Visibility of other
// transactions is unchanged.
func (m *Manager) Checkpoint(ctx context.Context, tx *txn.Transaction) (*txn.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isInvalidLocked(tx.ReadPointer) {
		return nil, ErrAlreadyInvalid
	}
	o, ok := m.open[tx.ReadPointer]
	if !ok {
		return nil, ErrTransactionNotInProgress
	}
	wp, err := m.allocateLocked()
	if err != nil {
		return nil, err
	}
	o.pointers = append(o.pointers, wp)
	m.owners[wp] = o.readPointer
	if err = m.persistLocked(ctx); err != nil {
		o.pointers = o.pointers[:len(o.pointers)-1]
		delete(m.owners, wp)
		return nil, err
	}
	txnCounter.WithLabelValues("checkpoint").Inc()
	return &txn.Transaction{
		ReadPointer:             tx.ReadPointer,
		WritePointer:            wp,
		InProgress:              copyIDs(tx.InProgress),
		FirstShortInProgress:    tx.FirstShortInProgress,
		Invalids:                copyIDs(tx.Invalids),
		CheckpointWritePointers: copyIDs(o.pointers[1:]),
	}, nil
}

// Refresh returns a new snapshot of tx with the same pointers and the current in-progress and invalid sets. Commits
// that happened since tx started become visible if their id is not above the read pointer.
func (m *Manager) Refresh(tx *txn.Transaction) (*txn.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isInvalidLocked(tx.ReadPointer) {
		return nil, ErrAlreadyInvalid
	}
	o, ok := m.open[tx.ReadPointer]
	if !ok {
		return nil, ErrTransactionNotInProgress
	}
	var checkpoints []uint64
	if len(o.pointers) > 1 {
		checkpoints = copyIDs(o.pointers[1:])
	}
	return &txn.Transaction{
		ReadPointer:             tx.ReadPointer,
		WritePointer:            o.pointers[len(o.pointers)-1],
		InProgress:              m.inProgressLocked(tx.ReadPointer),
		FirstShortInProgress:    m.firstShortLocked(tx.ReadPointer),
		Invalids:                copyIDs(m.invalids),
		CheckpointWritePointers: checkpoints,
	}, nil
}

// PruneStats reports what one Prune call removed.
type PruneStats struct {
	ChangeSets   int `json:"change_sets"`
	Invalids     int `json:"invalids"`
	Checkpointed int `json:"checkpointed"`
}

// Prune drops state no live or future transaction can depend on. Change sets committed at or below the oldest open
// read pointer can no longer conflict. Invalid ids below both purgedUpTo and the oldest open read pointer are dropped;
// purgedUpTo must guarantee that the store holds no data written by them. The pointer lists of committed checkpointed
// transactions are dropped under the same bound, after which invalidating such a transaction only reaches the id
// passed to Invalidate.
func (m *Manager) Prune(ctx context.Context, purgedUpTo uint64) (PruneStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldest := m.oldestReadPointerLocked()
	var stats PruneStats
	keep := 0
	for keep < len(m.committed) && m.committed[keep].commitPointer <= oldest {
		keep++
	}
	stats.ChangeSets = keep
	m.committed = m.committed[keep:]

	bound := purgedUpTo
	if oldest < bound {
		bound = oldest
	}
	cut := sort.Search(len(m.invalids), func(i int) bool { return m.invalids[i] >= bound })
	var checkpointed [][]uint64
	for _, pointers := range m.checkpointed {
		if pointers[len(pointers)-1] >= bound {
			checkpointed = append(checkpointed, pointers)
		}
	}
	dropped := len(m.checkpointed) - len(checkpointed)
	if cut > 0 || dropped > 0 {
		oldInvalids, oldCheckpointed := m.invalids, m.checkpointed
		m.invalids = copyIDs(m.invalids[cut:])
		m.checkpointed = checkpointed
		if err := m.persistLocked(ctx); err != nil {
			m.invalids, m.checkpointed = oldInvalids, oldCheckpointed
			return stats, err
		}
		stats.Invalids = cut
		stats.Checkpointed = dropped
	}
	if stats.ChangeSets > 0 || stats.Invalids > 0 || stats.Checkpointed > 0 {
		log.Info("transaction state pruned",
			zap.Int("change-sets", stats.ChangeSets),
			zap.Int("invalids", stats.Invalids),
			zap.Int("checkpointed", stats.Checkpointed),
			zap.Uint64("bound", bound))
	}
	txnCounter.WithLabelValues("prune").Inc()
	m.updateGaugesLocked()
	return stats, nil
}

// TimedOut returns the read pointers of open transactions older than their timeout at now.
func (m *Manager) TimedOut(now time.Time) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uint64
	for id, o := range m.open {
		timeout := m.opts.TxTimeout
		if o.typ == TxLong {
			timeout = m.opts.LongTxTimeout
		}
		if timeout > 0 && now.Sub(o.startedAt) > timeout {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Invalids returns a copy of the invalid set.
func (m *Manager) Invalids() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyIDs(m.invalids)
}

// TxInfo describes an open transaction.
type TxInfo struct {
	ID            uint64    `json:"id"`
	Type          string    `json:"type"`
	WritePointers []uint64  `json:"write_pointers"`
	StartedAt     time.Time `json:"started_at"`
}

// StateSnapshot is a point-in-time copy of the manager state.
type StateSnapshot struct {
	NextID     uint64   `json:"next_id"`
	Watermark  uint64   `json:"watermark"`
	InProgress []TxInfo `json:"in_progress"`
	Invalids     []uint64 `json:"invalids"`
	ChangeSets   int      `json:"change_sets"`
	Checkpointed int      `json:"checkpointed"`
}

func (m *Manager) Snapshot() *StateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &StateSnapshot{
		NextID:     m.nextID,
		Watermark:  m.watermark,
		InProgress: make([]TxInfo, 0, len(m.open)),
		Invalids:     copyIDs(m.invalids),
		ChangeSets:   len(m.committed),
		Checkpointed: len(m.checkpointed),
	}
	for _, o := range m.open {
		s.InProgress = append(s.InProgress, TxInfo{
			ID:            o.readPointer,
			Type:          o.typ.String(),
			WritePointers: copyIDs(o.pointers),
			StartedAt:     o.startedAt,
		})
	}
	sort.Slice(s.InProgress, func(i, j int) bool { return s.InProgress[i].ID < s.InProgress[j].ID })
	return s
}

func (m *Manager) allocateLocked() (uint64, error) {
	if m.nextID >= maxWatermark {
		txnCounter.WithLabelValues("exhausted").Inc()
		log.Error("transaction id allocator exhausted", zap.Uint64("next-id", m.nextID))
		return 0, ErrAllocatorExhausted
	}
	id := m.nextID
	if id >= m.watermark {
		if maxWatermark-id <= m.opts.IDBatchSize {
			m.watermark = maxWatermark
		} else {
			m.watermark = id + m.opts.IDBatchSize
		}
	}
	m.nextID++
	return id, nil
}

func (m *Manager) persistLocked(ctx context.Context) error {
	inProgress := make([]uint64, 0, len(m.owners))
	for id := range m.owners {
		inProgress = append(inProgress, id)
	}
	sort.Slice(inProgress, func(i, j int) bool { return inProgress[i] < inProgress[j] })
	return m.store.Save(ctx, &State{
		Watermark:    m.watermark,
		InProgress:   inProgress,
		Invalids:     m.invalids,
		Checkpointed: m.checkpointed,
	})
}

// inProgressLocked returns every open pointer not owned by the transaction with read pointer self.
func (m *Manager) inProgressLocked(self uint64) []uint64 {
	ids := make([]uint64, 0, len(m.owners))
	for id, owner := range m.owners {
		if owner != self {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Manager) firstShortLocked(self uint64) uint64 {
	first := txn.NoTxInProgress
	for id, o := range m.open {
		if id != self && o.typ == TxShort && id < first {
			first = id
		}
	}
	return first
}

func (m *Manager) oldestReadPointerLocked() uint64 {
	oldest := m.nextID
	for id := range m.open {
		if id < oldest {
			oldest = id
		}
	}
	return oldest
}

func (m *Manager) isInvalidLocked(id uint64) bool {
	return containsID(m.invalids, id)
}

func (m *Manager) findCommittedLocked(id uint64) int {
	for i, cs := range m.committed {
		for _, p := range cs.pointers {
			if p == id {
				return i
			}
		}
	}
	return -1
}

func (m *Manager) findCheckpointedLocked(id uint64) int {
	for i, pointers := range m.checkpointed {
		if containsID(pointers, id) {
			return i
		}
	}
	return -1
}

func (m *Manager) closeLocked(o *openTx) {
	delete(m.open, o.readPointer)
	for _, p := range o.pointers {
		delete(m.owners, p)
	}
}

func (m *Manager) reopenLocked(o *openTx) {
	m.open[o.readPointer] = o
	for _, p := range o.pointers {
		m.owners[p] = o.readPointer
	}
}

func (m *Manager) updateGaugesLocked() {
	txnGauge.WithLabelValues("in_progress").Set(float64(len(m.open)))
	txnGauge.WithLabelValues("invalid").Set(float64(len(m.invalids)))
	txnGauge.WithLabelValues("change_sets").Set(float64(len(m.committed)))
	txnGauge.WithLabelValues("checkpointed").Set(float64(len(m.checkpointed)))
	txnGauge.WithLabelValues("next_id").Set(float64(m.nextID))
}

func containsID(ids []uint64, id uint64) bool {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	return i < len(ids) && ids[i] == id
}

// insertPointers returns a copy of lists with pointers added, keeping lists ordered by their first pointer.
func insertPointers(lists [][]uint64, pointers []uint64) [][]uint64 {
	i := sort.Search(len(lists), func(i int) bool { return lists[i][0] > pointers[0] })
	out := make([][]uint64, 0, len(lists)+1)
	out = append(out, lists[:i]...)
	out = append(out, copyIDs(pointers))
	return append(out, lists[i:]...)
}

func copyIDs(ids []uint64) []uint64 {
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// mergeSorted returns the sorted union of two ascending id lists as a new slice.
func mergeSorted(a, b []uint64) []uint64 {
	out := make([]uint64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var v uint64
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			v = a[i]
			i++
		case i >= len(a) || b[j] < a[i]:
			v = b[j]
			j++
		default:
			v = a[i]
			i++
			j++
		}
		if len(out) == 0 || out[len(out)-1] != v {
			out = append(out, v)
		}
	}
	return out
}
