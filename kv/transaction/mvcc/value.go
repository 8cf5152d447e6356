package mvcc

import (
	"github.com/pingcap-incubator/txqueue/kv/util/codec"
)

// Every transactional value starts with the write pointer of the transaction that wrote it, as an 8 byte big-endian
// integer. Readers decide visibility from that tag alone, so there is one version per key.
const writerTagLen = 8

// EncodeValue tags payload with writer.
func EncodeValue(writer uint64, payload []byte) []byte {
	b := codec.NewBuffer(writerTagLen + len(payload))
	b.WriteUint64(writer)
	b.Write(payload)
	return b.Bytes()
}

// DecodeValue splits a tagged value. The returned payload aliases value.
func DecodeValue(value []byte) (uint64, []byte, error) {
	r := codec.NewReader("tagged value", value)
	writer, err := r.ReadUint64("writer")
	if err != nil {
		return 0, nil, err
	}
	payload, _ := r.ReadBytes(r.Remaining(), "payload")
	return writer, payload, nil
}
