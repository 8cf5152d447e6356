package txn

import (
	"github.com/pingcap-incubator/txqueue/kv/util/codec"
)

const payloadName = "transaction"

// Encode serializes tx as
//  readPointer(8) writePointer(8) firstShortInProgress(8) count(4) inProgress(8*count) count(4) invalids(8*count)
// with every field big-endian. Ids are written with the bit pattern of a signed 64 bit integer.
func Encode(tx *Transaction) []byte {
	b := codec.NewBuffer(3*8 + 2*4 + 8*(len(tx.InProgress)+len(tx.Invalids)))
	b.WriteUint64(tx.ReadPointer)
	b.WriteUint64(tx.WritePointer)
	b.WriteUint64(tx.FirstShortInProgress)
	b.WriteUint64s(tx.InProgress)
	b.WriteUint64s(tx.Invalids)
	return b.Bytes()
}

// Decode parses a payload written by Encode. Truncated, length-inconsistent or otherwise ill-formed input yields a
// *codec.MalformedEncodingError.
func Decode(data []byte) (*Transaction, error) {
	r := codec.NewReader(payloadName, data)
	tx := &Transaction{}
	var err error
	if tx.ReadPointer, err = r.ReadUint64("read pointer"); err != nil {
		return nil, err
	}
	if tx.WritePointer, err = r.ReadUint64("write pointer"); err != nil {
		return nil, err
	}
	if tx.FirstShortInProgress, err = r.ReadUint64("first short in progress"); err != nil {
		return nil, err
	}
	if tx.InProgress, err = r.ReadUint64s("in-progress"); err != nil {
		return nil, err
	}
	if tx.Invalids, err = r.ReadUint64s("invalids"); err != nil {
		return nil, err
	}
	if err = r.Finish(); err != nil {
		return nil, err
	}
	if err = tx.Validate(); err != nil {
		return nil, &codec.MalformedEncodingError{What: payloadName, Offset: len(data), Reason: err.Error()}
	}
	return tx, nil
}

// EncodeCheckpoints serializes the checkpoint write pointers of tx as count(4) pointers(8*count). It travels next to
// the Encode form wherever a transaction crosses a process boundary after being checkpointed.
func EncodeCheckpoints(tx *Transaction) []byte {
	b := codec.NewBuffer(4 + 8*len(tx.CheckpointWritePointers))
	b.WriteUint64s(tx.CheckpointWritePointers)
	return b.Bytes()
}

// AttachCheckpoints decodes a payload written by EncodeCheckpoints into tx and validates the result.
func AttachCheckpoints(tx *Transaction, data []byte) error {
	const what = "checkpoint write pointers"
	r := codec.NewReader(what, data)
	pointers, err := r.ReadUint64s("pointers")
	if err != nil {
		return err
	}
	if err = r.Finish(); err != nil {
		return err
	}
	if len(pointers) == 0 {
		pointers = nil
	}
	tx.CheckpointWritePointers = pointers
	if err = tx.Validate(); err != nil {
		tx.CheckpointWritePointers = nil
		return &codec.MalformedEncodingError{What: what, Offset: len(data), Reason: err.Error()}
	}
	return nil
}
