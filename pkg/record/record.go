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

package record

import "github.com/novatechflow/kafclient/pkg/protocol"

// Header is user supplied record metadata.
type Header struct {
	Key   string
	Value []byte
}

func (h Header) Size() int {
	return protocol.VarintStringSize(h.Key) + protocol.VarintBytesSize(h.Value)
}

func (h Header) Encode(w *protocol.Writer) {
	w.VarintString(h.Key)
	w.VarintBytes(h.Value)
}

func readHeader(r *protocol.Reader) (Header, error) {
	var h Header
	var err error
	if h.Key, err = r.VarintString(); err != nil {
		return h, err
	}
	h.Value, err = r.VarintBytes()
	return h, err
}

// Record is a single v2 record. On the wire it is prefixed with its own
// length as a varint; a nil Key or Value is written as null.
type Record struct {
	Attributes     int8
	TimestampDelta int64
	OffsetDelta    int32
	Key            []byte
	Value          []byte
	Headers        []Header
}

func (r Record) bodySize() int {
	return 1 +
		protocol.VarintSize(r.TimestampDelta) +
		protocol.VarintSize(int64(r.OffsetDelta)) +
		protocol.VarintBytesSize(r.Key) +
		protocol.VarintBytesSize(r.Value) +
		protocol.VarintArraySize(r.Headers)
}

// Size includes the length prefix.
func (r Record) Size() int {
	n := r.bodySize()
	return protocol.VarintSize(int64(n)) + n
}

func (r Record) Encode(w *protocol.Writer) {
	w.Varint(int64(r.bodySize()))
	w.Int8(r.Attributes)
	w.Varint(r.TimestampDelta)
	w.Varint(int64(r.OffsetDelta))
	w.VarintBytes(r.Key)
	w.VarintBytes(r.Value)
	protocol.WriteVarintArray(w, r.Headers)
}

// ReadRecord decodes one length-prefixed record.
func ReadRecord(r *protocol.Reader) (Record, error) {
	return protocol.ReadSized(r, readRecordBody)
}

func readRecordBody(r *protocol.Reader) (Record, error) {
	var rec Record
	var err error
	if rec.Attributes, err = r.Int8(); err != nil {
		return rec, err
	}
	if rec.TimestampDelta, err = r.Varint(); err != nil {
		return rec, err
	}
	offsetDelta, err := r.Varint()
	if err != nil {
		return rec, err
	}
	rec.OffsetDelta = int32(offsetDelta)
	if rec.Key, err = r.VarintBytes(); err != nil {
		return rec, err
	}
	if rec.Value, err = r.VarintBytes(); err != nil {
		return rec, err
	}
	// a zero count decodes as an empty, non-nil slice
	if rec.Headers, err = protocol.ReadVarintArray(r, readHeader); err != nil {
		return rec, err
	}
	return rec, nil
}
