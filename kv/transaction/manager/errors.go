package manager

import (
	"fmt"

	"github.com/pingcap/errors"
)

// ErrConflict is returned by CanCommit when a transaction that committed after tx started wrote one of the keys tx
// wrote. The caller may retry from a fresh Start.
type ErrConflict struct {
	TxID           uint64
	ConflictKey    []byte
	ConflictCommit uint64
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("write conflict, txn: %d, key: %q, conflicting commit: %d", e.TxID, e.ConflictKey, e.ConflictCommit)
}

var (
	// ErrTransactionNotInProgress is returned when committing or checkpointing a transaction the manager does not
	// consider open.
	ErrTransactionNotInProgress = errors.New("transaction not in progress")
	// ErrUnknownTransaction is returned when invalidating an id that was never allocated.
	ErrUnknownTransaction = errors.New("unknown transaction")
	// ErrAlreadyInvalid is returned when committing or checkpointing a transaction that was invalidated.
	ErrAlreadyInvalid = errors.New("transaction already invalid")
	// ErrAllocatorExhausted is returned once every id representable on the wire has been handed out.
	ErrAllocatorExhausted = errors.New("transaction id allocator exhausted")
)

// IsConflict reports whether err (or its cause) is an *ErrConflict.
func IsConflict(err error) bool {
	_, ok := errors.Cause(err).(*ErrConflict)
	return ok
}
