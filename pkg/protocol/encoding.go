// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Encoder is implemented by every value that has a Kafka wire form. Size must
// report exactly the number of bytes Encode appends.
type Encoder interface {
	Size() int
	Encode(w *Writer)
}

// Decoder is implemented by values that can be read back from the wire.
type Decoder interface {
	Decode(r *Reader) error
}

// Reader decodes big-endian Kafka primitives from an in-memory buffer.
// Slices returned by Reader alias the underlying buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining reports how many bytes are left to read.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) read(n int) ([]byte, error) {
	if n < 0 {
		return nil, formatError(ErrInvalidLength, "negative read of %d bytes", n)
	}
	if r.Remaining() < n {
		return nil, formatError(ErrTruncated, "need %d have %d", n, r.Remaining())
	}
	start := r.pos
	r.pos += n
	return r.buf[start:r.pos], nil
}

// Sub consumes the next n bytes and returns a Reader bounded to them.
func (r *Reader) Sub(n int) (*Reader, error) {
	b, err := r.read(n)
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}

// Rest returns the unread bytes.
func (r *Reader) Rest() []byte {
	return r.buf[r.pos:]
}

func (r *Reader) Int8() (int8, error) {
	b, err := r.read(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (r *Reader) Int16() (int16, error) {
	b, err := r.read(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (r *Reader) Int32() (int32, error) {
	b, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) Int64() (int64, error) {
	b, err := r.read(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.read(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, formatError(ErrInvalidLength, "invalid bool: %d", b[0])
	}
}

// Varint reads a zigzag encoded signed varint.
func (r *Reader) Varint() (int64, error) {
	val, n := binary.Varint(r.buf[r.pos:])
	switch {
	case n == 0:
		return 0, formatError(ErrTruncated, "varint")
	case n < 0:
		return 0, formatError(ErrVarintOverflow, "varint")
	}
	r.pos += n
	return val, nil
}

// Uvarint reads an unsigned LEB128 varint.
func (r *Reader) Uvarint() (uint64, error) {
	val, n := binary.Uvarint(r.buf[r.pos:])
	switch {
	case n == 0:
		return 0, formatError(ErrTruncated, "uvarint")
	case n < 0:
		return 0, formatError(ErrVarintOverflow, "uvarint")
	}
	r.pos += n
	return val, nil
}

func (r *Reader) text(n int) (string, error) {
	b, err := r.read(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", formatError(ErrInvalidUTF8, "%d byte string", n)
	}
	return string(b), nil
}

// String reads an int16 length prefixed UTF-8 string.
func (r *Reader) String() (string, error) {
	l, err := r.Int16()
	if err != nil {
		return "", err
	}
	if l < 0 {
		return "", formatError(ErrInvalidLength, "string length %d", l)
	}
	return r.text(int(l))
}

// NullableString reads a string whose length may be -1. Absent strings
// decode as "".
func (r *Reader) NullableString() (string, error) {
	l, err := r.Int16()
	if err != nil {
		return "", err
	}
	if l == -1 {
		return "", nil
	}
	if l < 0 {
		return "", formatError(ErrInvalidLength, "string length %d", l)
	}
	return r.text(int(l))
}

// Bytes reads int32 length prefixed bytes.
func (r *Reader) Bytes() ([]byte, error) {
	l, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if l < 0 {
		return nil, formatError(ErrInvalidLength, "bytes length %d", l)
	}
	return r.read(int(l))
}

// NullableBytes reads int32 length prefixed bytes where -1 means nil.
func (r *Reader) NullableBytes() ([]byte, error) {
	l, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if l == -1 {
		return nil, nil
	}
	if l < 0 {
		return nil, formatError(ErrInvalidLength, "bytes length %d", l)
	}
	return r.read(int(l))
}

// VarintBytes reads varint length prefixed bytes where -1 means nil.
func (r *Reader) VarintBytes() ([]byte, error) {
	l, err := r.varintLength()
	if err != nil {
		return nil, err
	}
	if l == -1 {
		return nil, nil
	}
	return r.read(l)
}

// VarintString reads a varint length prefixed UTF-8 string.
func (r *Reader) VarintString() (string, error) {
	l, err := r.varintLength()
	if err != nil {
		return "", err
	}
	if l == -1 {
		return "", nil
	}
	return r.text(l)
}

func (r *Reader) varintLength() (int, error) {
	l, err := r.Varint()
	if err != nil {
		return 0, err
	}
	if l < -1 || l > math.MaxInt32 {
		return 0, formatError(ErrInvalidLength, "varint length %d", l)
	}
	return int(l), nil
}

// Writer appends Kafka wire encodings to a growing buffer. The first
// encoding failure is kept and reported by Err; later writes still append
// so that sizes stay consistent for debugging.
type Writer struct {
	buf []byte
	err error
}

// NewWriter returns a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len reports how many bytes have been written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Err returns the first encoding error.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// Raw appends b without any prefix.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) Int8(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *Writer) Int16(v int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
}

func (w *Writer) Int32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) Uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) Int64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// Varint appends v zigzag encoded.
func (w *Writer) Varint(v int64) {
	w.buf = binary.AppendVarint(w.buf, v)
}

// Uvarint appends v as an unsigned LEB128 varint.
func (w *Writer) Uvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

// String appends an int16 length prefixed string.
func (w *Writer) String(v string) {
	if len(v) > math.MaxInt16 {
		w.fail(fmt.Errorf("string too long: %d bytes", len(v)))
		v = v[:math.MaxInt16]
	}
	w.Int16(int16(len(v)))
	w.buf = append(w.buf, v...)
}

// NullableString appends v, writing the -1 sentinel when v is empty.
func (w *Writer) NullableString(v string) {
	if v == "" {
		w.Int16(-1)
		return
	}
	w.String(v)
}

// BytesWithLength appends int32 length prefixed bytes.
func (w *Writer) BytesWithLength(b []byte) {
	w.Int32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// NullableBytes appends b, writing -1 when b is nil.
func (w *Writer) NullableBytes(b []byte) {
	if b == nil {
		w.Int32(-1)
		return
	}
	w.BytesWithLength(b)
}

// VarintBytes appends varint length prefixed bytes, -1 when b is nil.
func (w *Writer) VarintBytes(b []byte) {
	if b == nil {
		w.Varint(-1)
		return
	}
	w.Varint(int64(len(b)))
	w.buf = append(w.buf, b...)
}

// VarintString appends a varint length prefixed string.
func (w *Writer) VarintString(v string) {
	w.Varint(int64(len(v)))
	w.buf = append(w.buf, v...)
}

// UvarintSize returns the encoded length of v as an unsigned varint.
func UvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// VarintSize returns the encoded length of v as a zigzag varint.
func VarintSize(v int64) int {
	return UvarintSize(uint64(v<<1) ^ uint64(v>>63))
}

func StringSize(v string) int {
	return 2 + min(len(v), math.MaxInt16)
}

func NullableStringSize(v string) int {
	if v == "" {
		return 2
	}
	return StringSize(v)
}

func BytesSize(b []byte) int {
	return 4 + len(b)
}

func NullableBytesSize(b []byte) int {
	if b == nil {
		return 4
	}
	return BytesSize(b)
}

func VarintBytesSize(b []byte) int {
	if b == nil {
		return VarintSize(-1)
	}
	return VarintSize(int64(len(b))) + len(b)
}

func VarintStringSize(v string) int {
	return VarintSize(int64(len(v))) + len(v)
}

// Encode renders e into a fresh buffer.
func Encode(e Encoder) ([]byte, error) {
	w := NewWriter(e.Size())
	e.Encode(w)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Decode reads d from b and requires b to be fully consumed.
func Decode(b []byte, d Decoder) error {
	r := NewReader(b)
	if err := d.Decode(r); err != nil {
		return err
	}
	if r.Remaining() != 0 {
		return formatError(ErrTrailingBytes, "%d bytes left", r.Remaining())
	}
	return nil
}
