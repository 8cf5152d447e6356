package queue

import (
	"fmt"
	"sort"

	"github.com/pingcap-incubator/txqueue/kv/util/codec"
	"google.golang.org/protobuf/encoding/protowire"
)

// QueueEntry is one enqueued payload. HashKeys carries the values Hash consumers partition by.
type QueueEntry struct {
	Data     []byte
	HashKeys map[string][]byte
}

// Dequeued is an entry handed to a consumer.
type Dequeued struct {
	Key    []byte
	Seq    uint64
	Writer uint64
	Entry  *QueueEntry
}

// Row layout. Entries live in the queue column family under
//  EncodeBytes(queueName) seq(8)
// and consumer state in the state column family under
//  entryKey groupId(8)
// Queue sequence counters live in the meta column family.
const (
	entryFieldData    protowire.Number = 1
	entryFieldHashKey protowire.Number = 2
	hashKeyFieldName  protowire.Number = 1
	hashKeyFieldValue protowire.Number = 2

	stateClaimed   byte = 1
	stateProcessed byte = 2
)

var counterPrefix = []byte("seq_")

func entryPrefix(queue []byte) []byte {
	return codec.EncodeBytes(queue)
}

func entryKey(queue []byte, seq uint64) []byte {
	return codec.AppendUint64(entryPrefix(queue), seq)
}

// decodeEntryKey splits an entry key into the queue identity and sequence number.
func decodeEntryKey(key []byte) ([]byte, uint64, error) {
	rest, queue, err := codec.DecodeBytes(key)
	if err != nil {
		return nil, 0, &codec.MalformedEncodingError{What: "entry key", Offset: 0, Reason: err.Error()}
	}
	rest, seq, err := codec.DecodeUint64(rest)
	if err != nil {
		return nil, 0, &codec.MalformedEncodingError{What: "entry key", Offset: len(key), Reason: "truncated sequence"}
	}
	if len(rest) != 0 {
		return nil, 0, &codec.MalformedEncodingError{What: "entry key", Offset: len(key) - len(rest), Reason: "trailing bytes"}
	}
	return queue, seq, nil
}

func stateKey(entryKey []byte, groupID uint64) []byte {
	key := make([]byte, 0, len(entryKey)+8)
	key = append(key, entryKey...)
	return codec.AppendUint64(key, groupID)
}

func counterKey(queue []byte) []byte {
	return append(append([]byte{}, counterPrefix...), queue...)
}

func encodeState(kind byte, instance int32) []byte {
	b := codec.NewBuffer(5)
	b.WriteByte(kind)
	b.WriteInt32(instance)
	return b.Bytes()
}

func decodeState(payload []byte) (byte, int32, error) {
	r := codec.NewReader("consumer state", payload)
	kind, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	instance, err := r.ReadInt32("instance")
	if err != nil {
		return 0, 0, err
	}
	if kind != stateClaimed && kind != stateProcessed {
		return 0, 0, &codec.MalformedEncodingError{What: "consumer state", Offset: 0, Reason: fmt.Sprintf("unknown kind %d", kind)}
	}
	return kind, instance, r.Finish()
}

// encodeEntry writes e as a protobuf message: field 1 the data, field 2 repeated {1: key, 2: value}. Hash keys are
// written in sorted order so the encoding is deterministic.
func encodeEntry(e *QueueEntry) []byte {
	var b []byte
	b = protowire.AppendTag(b, entryFieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Data)
	names := make([]string, 0, len(e.HashKeys))
	for name := range e.HashKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var kv []byte
		kv = protowire.AppendTag(kv, hashKeyFieldName, protowire.BytesType)
		kv = protowire.AppendString(kv, name)
		kv = protowire.AppendTag(kv, hashKeyFieldValue, protowire.BytesType)
		kv = protowire.AppendBytes(kv, e.HashKeys[name])
		b = protowire.AppendTag(b, entryFieldHashKey, protowire.BytesType)
		b = protowire.AppendBytes(b, kv)
	}
	return b
}

func decodeEntry(data []byte) (*QueueEntry, error) {
	e := &QueueEntry{}
	err := consumeFields("queue entry", data, func(num protowire.Number, v []byte) error {
		switch num {
		case entryFieldData:
			e.Data = append([]byte{}, v...)
		case entryFieldHashKey:
			var name string
			var value []byte
			err := consumeFields("hash key", v, func(num protowire.Number, v []byte) error {
				switch num {
				case hashKeyFieldName:
					name = string(v)
				case hashKeyFieldValue:
					value = append([]byte{}, v...)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if e.HashKeys == nil {
				e.HashKeys = make(map[string][]byte)
			}
			e.HashKeys[name] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// consumeFields calls f for every length-delimited field of a protobuf message and skips fields of other wire types.
func consumeFields(what string, data []byte, f func(num protowire.Number, v []byte) error) error {
	orig := len(data)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return &codec.MalformedEncodingError{What: what, Offset: orig - len(data), Reason: protowire.ParseError(n).Error()}
		}
		data = data[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return &codec.MalformedEncodingError{What: what, Offset: orig - len(data), Reason: protowire.ParseError(n).Error()}
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return &codec.MalformedEncodingError{What: what, Offset: orig - len(data), Reason: protowire.ParseError(n).Error()}
		}
		data = data[n:]
		if err := f(num, v); err != nil {
			return err
		}
	}
	return nil
}
