package codec

import (
	"encoding/binary"

	"google.golang.org/protobuf/encoding/protowire"
)

// Buffer accumulates a fixed-field big-endian payload. Writes never fail.
type Buffer struct {
	buf []byte
}

// NewBuffer returns a Buffer with room for sizeHint bytes.
func NewBuffer(sizeHint int) *Buffer {
	return &Buffer{buf: make([]byte, 0, sizeHint)}
}

func (b *Buffer) WriteInt64(v int64) {
	b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(v))
}

// WriteUint64 writes v with the same bit pattern as WriteInt64.
func (b *Buffer) WriteUint64(v uint64) {
	b.buf = binary.BigEndian.AppendUint64(b.buf, v)
}

func (b *Buffer) WriteInt32(v int32) {
	b.buf = binary.BigEndian.AppendUint32(b.buf, uint32(v))
}

// WriteUint64s writes a 4 byte count followed by every value as 8 bytes.
func (b *Buffer) WriteUint64s(vs []uint64) {
	b.WriteInt32(int32(len(vs)))
	for _, v := range vs {
		b.WriteUint64(v)
	}
}

// WriteUvarint writes v as a protobuf base-128 varint.
func (b *Buffer) WriteUvarint(v uint64) {
	b.buf = protowire.AppendVarint(b.buf, v)
}

// WriteString writes a 4 byte length followed by the UTF-8 bytes of s.
func (b *Buffer) WriteString(s string) {
	b.WriteInt32(int32(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *Buffer) WriteByte(v byte) error {
	b.buf = append(b.buf, v)
	return nil
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Bytes returns the encoded payload.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Reader decodes a payload written by Buffer. Every read checks the remaining length first, so
// corrupt input yields a *MalformedEncodingError instead of an out of range access.
type Reader struct {
	what string
	data []byte
	off  int
}

// NewReader returns a Reader over data; what names the payload in error messages.
func NewReader(what string, data []byte) *Reader {
	return &Reader{what: what, data: data}
}

func (r *Reader) malformed(reason string) error {
	return &MalformedEncodingError{What: r.what, Offset: r.off, Reason: reason}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) need(n int, field string) error {
	if n < 0 || r.Remaining() < n {
		return r.malformed("truncated " + field)
	}
	return nil
}

func (r *Reader) ReadUint64(field string) (uint64, error) {
	if err := r.need(8, field); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) ReadInt64(field string) (int64, error) {
	v, err := r.ReadUint64(field)
	return int64(v), err
}

func (r *Reader) ReadInt32(field string) (int32, error) {
	if err := r.need(4, field); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return int32(v), nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1, "byte"); err != nil {
		return 0, err
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

// ReadUint64s reads an array written by WriteUint64s. The declared count is checked against the
// remaining bytes before anything is allocated.
func (r *Reader) ReadUint64s(field string) ([]uint64, error) {
	n, err := r.ReadInt32(field + " length")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, r.malformed("negative " + field + " length")
	}
	if int64(n)*8 > int64(r.Remaining()) {
		return nil, r.malformed(field + " length exceeds payload")
	}
	vs := make([]uint64, n)
	for i := range vs {
		vs[i] = binary.BigEndian.Uint64(r.data[r.off:])
		r.off += 8
	}
	return vs, nil
}

// ReadUvarint reads a protobuf base-128 varint.
func (r *Reader) ReadUvarint(field string) (uint64, error) {
	v, n := protowire.ConsumeVarint(r.data[r.off:])
	if n < 0 {
		return 0, r.malformed("bad varint " + field)
	}
	r.off += n
	return v, nil
}

// ReadString reads a string written by WriteString. A length of -1 decodes to the empty string.
func (r *Reader) ReadString(field string) (string, error) {
	n, err := r.ReadInt32(field + " length")
	if err != nil {
		return "", err
	}
	if n == -1 {
		return "", nil
	}
	if n < 0 {
		return "", r.malformed("negative " + field + " length")
	}
	if err := r.need(int(n), field); err != nil {
		return "", err
	}
	s := string(r.data[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

// ReadBytes reads exactly n raw bytes.
func (r *Reader) ReadBytes(n int, field string) ([]byte, error) {
	if err := r.need(n, field); err != nil {
		return nil, err
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Finish fails if any bytes are left unread.
func (r *Reader) Finish() error {
	if r.Remaining() != 0 {
		return r.malformed("trailing bytes")
	}
	return nil
}
