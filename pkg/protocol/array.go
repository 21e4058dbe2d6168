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

// ArraySize is the encoded size of an int32 counted array.
func ArraySize[T Encoder](items []T) int {
	n := 4
	for _, item := range items {
		n += item.Size()
	}
	return n
}

// WriteArray appends an int32 element count followed by every element.
func WriteArray[T Encoder](w *Writer, items []T) {
	w.Int32(int32(len(items)))
	for _, item := range items {
		item.Encode(w)
	}
}

// ReadArray reads an int32 counted array. A count of -1 yields nil.
func ReadArray[T any](r *Reader, read func(*Reader) (T, error)) ([]T, error) {
	count, err := r.Int32()
	if err != nil {
		return nil, err
	}
	return readElements(r, int64(count), read)
}

// ReadNonEmptyArray is ReadArray for contexts that require at least one
// element. Both an empty and a null (-1) count fail with ErrEmptySequence.
func ReadNonEmptyArray[T any](r *Reader, read func(*Reader) (T, error)) ([]T, error) {
	count, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if count == 0 || count == -1 {
		return nil, formatError(ErrEmptySequence, "array count %d", count)
	}
	return readElements(r, int64(count), read)
}

// VarintArraySize is the encoded size of a varint counted array.
func VarintArraySize[T Encoder](items []T) int {
	n := VarintSize(int64(len(items)))
	for _, item := range items {
		n += item.Size()
	}
	return n
}

// WriteVarintArray appends a varint element count followed by every element.
func WriteVarintArray[T Encoder](w *Writer, items []T) {
	w.Varint(int64(len(items)))
	for _, item := range items {
		item.Encode(w)
	}
}

// ReadVarintArray reads a varint counted array. A count of -1 yields nil.
func ReadVarintArray[T any](r *Reader, read func(*Reader) (T, error)) ([]T, error) {
	count, err := r.Varint()
	if err != nil {
		return nil, err
	}
	return readElements(r, count, read)
}

func readElements[T any](r *Reader, count int64, read func(*Reader) (T, error)) ([]T, error) {
	if count == -1 {
		return nil, nil
	}
	if count < 0 {
		return nil, formatError(ErrInvalidLength, "array count %d", count)
	}
	// every element takes at least one byte, so a count beyond the
	// remaining input is a truncated array and not worth allocating for
	if count > int64(r.Remaining()) {
		return nil, formatError(ErrTruncated, "array of %d elements with %d bytes left", count, r.Remaining())
	}
	out := make([]T, 0, count)
	for i := int64(0); i < count; i++ {
		v, err := read(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// SizedSize is the encoded size of v wrapped with a varint byte length.
func SizedSize(v Encoder) int {
	n := v.Size()
	return VarintSize(int64(n)) + n
}

// WriteSized prefixes v with its encoded length as a varint.
func WriteSized(w *Writer, v Encoder) {
	w.Varint(int64(v.Size()))
	v.Encode(w)
}

// ReadSized reads a varint byte length and decodes exactly that many bytes
// with read.
func ReadSized[T any](r *Reader, read func(*Reader) (T, error)) (T, error) {
	var zero T
	n, err := r.varintLength()
	if err != nil {
		return zero, err
	}
	if n < 0 {
		return zero, formatError(ErrInvalidLength, "sized value length %d", n)
	}
	sub, err := r.Sub(n)
	if err != nil {
		return zero, err
	}
	v, err := read(sub)
	if err != nil {
		return zero, err
	}
	if sub.Remaining() != 0 {
		return zero, formatError(ErrTrailingBytes, "sized value has %d unread bytes", sub.Remaining())
	}
	return v, nil
}

// Int32s adapts an int32 slice to the array helpers.
type Int32s []int32

func (s Int32s) Size() int { return 4 + 4*len(s) }

func (s Int32s) Encode(w *Writer) {
	w.Int32(int32(len(s)))
	for _, v := range s {
		w.Int32(v)
	}
}

func ReadInt32s(r *Reader) ([]int32, error) {
	return ReadArray(r, (*Reader).Int32)
}

// Strings adapts a string slice to the array helpers.
type Strings []string

func (s Strings) Size() int {
	n := 4
	for _, v := range s {
		n += StringSize(v)
	}
	return n
}

func (s Strings) Encode(w *Writer) {
	w.Int32(int32(len(s)))
	for _, v := range s {
		w.String(v)
	}
}

func ReadStrings(r *Reader) ([]string, error) {
	return ReadArray(r, (*Reader).String)
}
