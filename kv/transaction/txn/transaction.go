package txn

import (
	"fmt"
	"math"
	"sort"
)

// NoTxInProgress is the FirstShortInProgress of a snapshot taken while no short transaction was open. It is the
// largest value the signed wire form can carry.
const NoTxInProgress uint64 = math.MaxInt64

// Transaction is an immutable snapshot of a transaction's identity and of what it may see.
//
// ReadPointer is the transaction's own id and the inclusive upper bound of visibility. WritePointer tags the
// transaction's writes; it equals ReadPointer until the transaction is checkpointed. InProgress holds the ids that were
// open when the snapshot was taken and Invalids the ids whose writes must never be seen. Both are strictly ascending.
//
// CheckpointWritePointers lists every write pointer the transaction received from a checkpoint, ending with
// WritePointer. It is empty until the first checkpoint and is not part of the wire form.
type Transaction struct {
	ReadPointer             uint64
	WritePointer            uint64
	InProgress              []uint64
	FirstShortInProgress    uint64
	Invalids                []uint64
	CheckpointWritePointers []uint64
}

// ID returns the id the transaction was started with.
func (tx *Transaction) ID() uint64 {
	return tx.ReadPointer
}

// IsVisible reports whether a write tagged with writerID is visible to this transaction. It reads only the snapshot
// and is safe for concurrent use.
func (tx *Transaction) IsVisible(writerID uint64) bool {
	if writerID == tx.WritePointer || writerID == tx.ReadPointer || tx.IsOwnCheckpoint(writerID) {
		return true
	}
	return writerID <= tx.ReadPointer && !tx.IsInProgress(writerID) && !tx.IsInvalid(writerID)
}

// IsInProgress reports whether id was open when the snapshot was taken.
func (tx *Transaction) IsInProgress(id uint64) bool {
	return containsSorted(tx.InProgress, id)
}

// IsOwnCheckpoint reports whether id is one of the transaction's checkpoint write pointers.
func (tx *Transaction) IsOwnCheckpoint(id uint64) bool {
	return containsSorted(tx.CheckpointWritePointers, id)
}

// IsInvalid reports whether id had been invalidated when the snapshot was taken.
func (tx *Transaction) IsInvalid(id uint64) bool {
	return containsSorted(tx.Invalids, id)
}

// VisibilityUpperBound returns the smallest id that may be invisible to this transaction for a reason other than
// invalidation. Every committed write below it is visible unless its writer is invalid.
func (tx *Transaction) VisibilityUpperBound() uint64 {
	if len(tx.InProgress) > 0 && tx.InProgress[0] <= tx.ReadPointer {
		return tx.InProgress[0]
	}
	return tx.ReadPointer + 1
}

// Validate checks the snapshot invariants.
func (tx *Transaction) Validate() error {
	if tx.WritePointer < tx.ReadPointer {
		return fmt.Errorf("write pointer %d is below read pointer %d", tx.WritePointer, tx.ReadPointer)
	}
	if err := checkAscending("in-progress", tx.InProgress); err != nil {
		return err
	}
	if err := checkAscending("invalid", tx.Invalids); err != nil {
		return err
	}
	for _, id := range tx.InProgress {
		if tx.IsInvalid(id) {
			return fmt.Errorf("id %d is both in progress and invalid", id)
		}
	}
	if n := len(tx.CheckpointWritePointers); n > 0 {
		if err := checkAscending("checkpoint write", tx.CheckpointWritePointers); err != nil {
			return err
		}
		if tx.CheckpointWritePointers[0] <= tx.ReadPointer || tx.CheckpointWritePointers[n-1] != tx.WritePointer {
			return fmt.Errorf("checkpoint write pointers must lie in (%d, %d] and end with the write pointer",
				tx.ReadPointer, tx.WritePointer)
		}
	}
	return nil
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("Transaction{readPointer: %d, writePointer: %d, inProgress: %d, firstShortInProgress: %d, invalids: %d}",
		tx.ReadPointer, tx.WritePointer, len(tx.InProgress), tx.FirstShortInProgress, len(tx.Invalids))
}

func containsSorted(ids []uint64, id uint64) bool {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	return i < len(ids) && ids[i] == id
}

func checkAscending(name string, ids []uint64) error {
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			return fmt.Errorf("%s ids not strictly ascending at index %d", name, i)
		}
	}
	return nil
}
