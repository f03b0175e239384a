package core

import (
	"encoding/binary"
	"fmt"

	"github.com/tolelom/ecobuild/crypto"
)

// Record is a fixed-width ledger record. The encoded form starts with the
// 8-byte discriminator of RecordType followed by the fields in declaration
// order with little-endian integers.
type Record interface {
	RecordType() string
	EncodedSize() int
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

const discriminatorSize = 8

type recordWriter struct {
	buf []byte
}

func newRecordWriter(r Record) *recordWriter {
	w := &recordWriter{buf: make([]byte, 0, r.EncodedSize())}
	d := crypto.Discriminator(r.RecordType())
	w.buf = append(w.buf, d[:]...)
	return w
}

func (w *recordWriter) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *recordWriter) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *recordWriter) i64(v int64) { w.u64(uint64(v)) }

func (w *recordWriter) fixed(b []byte) { w.buf = append(w.buf, b...) }

func (w *recordWriter) text(t BoundedText) {
	w.u8(t.Len)
	w.fixed(t.Buf[:])
}

func (w *recordWriter) bytes(r Record) ([]byte, error) {
	if len(w.buf) != r.EncodedSize() {
		return nil, fmt.Errorf("encode %s: wrote %d bytes, layout is %d", r.RecordType(), len(w.buf), r.EncodedSize())
	}
	return w.buf, nil
}

// recordReader decodes fields sequentially. Size and discriminator are
// checked up front, so individual reads cannot run past the buffer.
type recordReader struct {
	buf []byte
	off int
}

func newRecordReader(r Record, data []byte) (*recordReader, error) {
	if len(data) != r.EncodedSize() {
		return nil, WithMetadata(CodeRecordMismatch, "stored record has a different type", map[string]string{
			"type": r.RecordType(),
			"size": fmt.Sprint(len(data)),
		})
	}
	want := crypto.Discriminator(r.RecordType())
	if [discriminatorSize]byte(data[:discriminatorSize]) != want {
		return nil, WithMetadata(CodeRecordMismatch, "stored record has a different type", map[string]string{
			"type": r.RecordType(),
		})
	}
	return &recordReader{buf: data, off: discriminatorSize}, nil
}

func (r *recordReader) u8() uint8 {
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *recordReader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *recordReader) i64() int64 { return int64(r.u64()) }

func (r *recordReader) address() crypto.Address {
	var a crypto.Address
	copy(a[:], r.buf[r.off:r.off+crypto.AddressSize])
	r.off += crypto.AddressSize
	return a
}

func (r *recordReader) hash32() Hash32 {
	var h Hash32
	copy(h[:], r.buf[r.off:r.off+32])
	r.off += 32
	return h
}

func (r *recordReader) text() (BoundedText, error) {
	var t BoundedText
	t.Len = r.u8()
	copy(t.Buf[:], r.buf[r.off:r.off+MaxTextLen])
	r.off += MaxTextLen
	if t.Len > MaxTextLen {
		return t, NewError(CodeRecordMismatch, "bounded text length exceeds capacity")
	}
	return t, nil
}
