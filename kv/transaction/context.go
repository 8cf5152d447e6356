package transaction

import (
	"context"

	"github.com/pingcap-incubator/txqueue/kv/transaction/txn"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// TxAware is a participant in a transaction.
type TxAware interface {
	// StartTx hands the participant the transaction it works in.
	StartTx(tx *txn.Transaction)
	// UpdateTx replaces the transaction after a checkpoint.
	UpdateTx(tx *txn.Transaction)
	// ChangeSet returns the keys the participant changed, for conflict detection.
	ChangeSet() [][]byte
	// CommitTx persists the participant's buffered writes.
	CommitTx(ctx context.Context) error
	// PostCommit is called once the transaction is committed.
	PostCommit()
	// RollbackTx removes everything the participant persisted.
	RollbackTx(ctx context.Context) error
	// Name identifies the participant in logs.
	Name() string
}

// TxSystem is the part of the transaction manager a TxContext uses.
type TxSystem interface {
	Start(ctx context.Context) (*txn.Transaction, error)
	StartLong(ctx context.Context) (*txn.Transaction, error)
	CanCommit(ctx context.Context, tx *txn.Transaction, changes [][]byte) error
	Abort(ctx context.Context, tx *txn.Transaction) error
	Invalidate(ctx context.Context, id uint64) (bool, error)
	Checkpoint(ctx context.Context, tx *txn.Transaction) (*txn.Transaction, error)
}

var (
	ErrTxActive   = errors.New("transaction already active")
	ErrTxInactive = errors.New("no active transaction")
)

// TxContext runs one transaction at a time across a fixed set of participants. It is not safe for concurrent use.
type TxContext struct {
	system       TxSystem
	participants []TxAware
	tx           *txn.Transaction
}

func NewTxContext(system TxSystem, participants ...TxAware) *TxContext {
	return &TxContext{system: system, participants: participants}
}

// AddParticipant adds a participant. It fails while a transaction is active.
func (c *TxContext) AddParticipant(p TxAware) error {
	if c.tx != nil {
		return ErrTxActive
	}
	c.participants = append(c.participants, p)
	return nil
}

// Current returns the active transaction or nil.
func (c *TxContext) Current() *txn.Transaction {
	return c.tx
}

// Start begins a short transaction.
func (c *TxContext) Start(ctx context.Context) error {
	return c.start(ctx, c.system.Start)
}

// StartLong begins a long transaction.
func (c *TxContext) StartLong(ctx context.Context) error {
	return c.start(ctx, c.system.StartLong)
}

func (c *TxContext) start(ctx context.Context, begin func(context.Context) (*txn.Transaction, error)) error {
	if c.tx != nil {
		return ErrTxActive
	}
	tx, err := begin(ctx)
	if err != nil {
		return err
	}
	c.tx = tx
	for _, p := range c.participants {
		p.StartTx(tx)
	}
	return nil
}

// Finish persists every participant's writes and commits. A conflict or persistence failure rolls the transaction
// back and is returned to the caller.
func (c *TxContext) Finish(ctx context.Context) error {
	if c.tx == nil {
		return ErrTxInactive
	}
	for _, p := range c.participants {
		if err := p.CommitTx(ctx); err != nil {
			log.Warn("participant failed to persist", zap.String("participant", p.Name()), zap.Uint64("txn", c.tx.ReadPointer), zap.Error(err))
			return c.abort(ctx, err)
		}
	}
	var changes [][]byte
	for _, p := range c.participants {
		changes = append(changes, p.ChangeSet()...)
	}
	if err := c.system.CanCommit(ctx, c.tx, changes); err != nil {
		return c.abort(ctx, err)
	}
	for _, p := range c.participants {
		p.PostCommit()
	}
	c.tx = nil
	return nil
}

// Abort rolls back every participant and closes the transaction.
func (c *TxContext) Abort(ctx context.Context) error {
	if c.tx == nil {
		return ErrTxInactive
	}
	return c.abort(ctx, nil)
}

// Checkpoint moves the transaction to a new write pointer. Writes made afterwards are tagged with it.
func (c *TxContext) Checkpoint(ctx context.Context) error {
	if c.tx == nil {
		return ErrTxInactive
	}
	tx, err := c.system.Checkpoint(ctx, c.tx)
	if err != nil {
		return err
	}
	c.tx = tx
	for _, p := range c.participants {
		p.UpdateTx(tx)
	}
	return nil
}

// abort returns cause, or the error that kept the transaction from closing cleanly when cause is nil.
func (c *TxContext) abort(ctx context.Context, cause error) error {
	tx := c.tx
	c.tx = nil
	rolledBack := true
	for _, p := range c.participants {
		if err := p.RollbackTx(ctx); err != nil {
			log.Warn("participant failed to roll back", zap.String("participant", p.Name()), zap.Uint64("txn", tx.ReadPointer), zap.Error(err))
			rolledBack = false
		}
	}
	var err error
	if rolledBack {
		err = c.system.Abort(ctx, tx)
	} else {
		_, err = c.system.Invalidate(ctx, tx.ReadPointer)
	}
	if cause != nil {
		if err != nil {
			log.Error("failed to close transaction", zap.Uint64("txn", tx.ReadPointer), zap.Error(err))
		}
		return cause
	}
	return err
}
