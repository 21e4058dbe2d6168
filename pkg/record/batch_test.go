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

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"reflect"
	"testing"

	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/novatechflow/kafclient/pkg/protocol"
)

func encodeBatch(t *testing.T, b *Batch) []byte {
	t.Helper()
	data, err := protocol.Encode(b)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != b.Size() {
		t.Fatalf("Size()=%d but encoded %d bytes", b.Size(), len(data))
	}
	return data
}

func TestSingleRecordBatchRoundTrip(t *testing.T) {
	batch, err := NewProducerBatch(1700000000000, Attributes{}, Record{Value: []byte("Hello"), Headers: []Header{}})
	if err != nil {
		t.Fatalf("NewProducerBatch: %v", err)
	}
	data := encodeBatch(t, batch)

	if batch.Magic != 2 || batch.PartitionLeaderEpoch != -1 {
		t.Fatalf("unexpected magic/epoch: %d/%d", batch.Magic, batch.PartitionLeaderEpoch)
	}
	if int(batch.BatchLength) != len(data)-12 {
		t.Fatalf("batch length %d, encoded %d bytes", batch.BatchLength, len(data))
	}
	if got := binary.BigEndian.Uint32(data[8:12]); got != uint32(batch.BatchLength) {
		t.Fatalf("batch length on the wire %d", got)
	}
	wantCRC := crc32.Checksum(data[21:], crc32.MakeTable(crc32.Castagnoli))
	if batch.CRC != wantCRC {
		t.Fatalf("crc %#x, independent computation %#x", batch.CRC, wantCRC)
	}
	if len(data) != headerSize+batch.Records[0].Size() {
		t.Fatalf("unexpected total size %d", len(data))
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, batch) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, batch)
	}
	if decoded.Records[0].Key != nil {
		t.Fatalf("absent key must decode as nil")
	}
	if decoded.Records[0].Headers == nil {
		t.Fatalf("empty headers must decode as an empty slice")
	}
}

func TestBatchMatchesKmsg(t *testing.T) {
	records := []Record{
		{Value: []byte("Hello"), Headers: []Header{}},
		{Key: []byte("k"), Value: []byte("v"), TimestampDelta: 5, Headers: []Header{{Key: "trace", Value: []byte("abc")}, {Key: "empty"}}},
	}
	batch, err := NewProducerBatch(1000, Attributes{}, records...)
	if err != nil {
		t.Fatalf("NewProducerBatch: %v", err)
	}
	data := encodeBatch(t, batch)

	var kb kmsg.RecordBatch
	if err := kb.ReadFrom(data); err != nil {
		t.Fatalf("kmsg ReadFrom: %v", err)
	}
	if kb.Length != batch.BatchLength || kb.Magic != 2 || uint32(kb.CRC) != batch.CRC {
		t.Fatalf("kmsg header mismatch: %+v", kb)
	}
	if kb.NumRecords != 2 || kb.LastOffsetDelta != 1 || kb.ProducerID != -1 || kb.PartitionLeaderEpoch != -1 {
		t.Fatalf("kmsg fields mismatch: %+v", kb)
	}
	if !bytes.Equal(kb.AppendTo(nil), data) {
		t.Fatalf("kmsg re-encoding differs")
	}

	rest := kb.Records
	for i, want := range records {
		var kr kmsg.Record
		if err := kr.ReadFrom(rest); err != nil {
			t.Fatalf("kmsg record %d: %v", i, err)
		}
		if string(kr.Value) != string(want.Value) || string(kr.Key) != string(want.Key) {
			t.Fatalf("record %d mismatch: %+v", i, kr)
		}
		if kr.OffsetDelta != int32(i) || kr.TimestampDelta64 != want.TimestampDelta {
			t.Fatalf("record %d deltas: %+v", i, kr)
		}
		if len(kr.Headers) != len(want.Headers) {
			t.Fatalf("record %d headers: %+v", i, kr.Headers)
		}
		rest = rest[want.Size():]
	}
	if len(rest) != 0 {
		t.Fatalf("%d bytes left after records", len(rest))
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(decoded.Records, batch.Records) {
		t.Fatalf("records mismatch:\n got %+v\nwant %+v", decoded.Records, batch.Records)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	in := Input{
		BaseTimestamp: 42,
		MaxTimestamp:  42,
		ProducerID:    -1,
		ProducerEpoch: -1,
		BaseSequence:  -1,
		Records:       []Record{{Value: []byte("x")}},
	}
	a, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.CRC != b.CRC || a.BatchLength != b.BatchLength {
		t.Fatalf("build not stable: %#x/%d vs %#x/%d", a.CRC, a.BatchLength, b.CRC, b.BatchLength)
	}
	in.BaseOffset = 100
	c, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if c.CRC != a.CRC {
		t.Fatalf("base offset is outside the checksummed range")
	}
}

func TestBuildRequiresRecords(t *testing.T) {
	if _, err := Build(Input{}); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
}

func TestDecodeDetectsCorruption(t *testing.T) {
	batch, err := NewProducerBatch(1, Attributes{}, Record{Value: []byte("payload")})
	if err != nil {
		t.Fatalf("NewProducerBatch: %v", err)
	}
	data := encodeBatch(t, batch)
	data[len(data)-1] ^= 0xff
	if _, err := Decode(data); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}

	short := encodeBatch(t, batch)[:30]
	if _, err := Decode(short); !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeRejectsEmptyBatch(t *testing.T) {
	b := &Batch{PartitionLeaderEpoch: -1, Magic: Magic}
	w := protocol.NewWriter(0)
	b.encodeChecksummed(w)
	b.CRC = crc32.Checksum(w.Bytes(), castagnoli)
	b.BatchLength = int32(b.Size() - batchLengthOffset)

	data := encodeBatch(t, b)
	if _, err := Decode(data); !errors.Is(err, protocol.ErrEmptySequence) {
		t.Fatalf("expected ErrEmptySequence, got %v", err)
	}

	// a null records array is as empty as a zero count
	null := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(null[len(null)-4:], 0xffffffff)
	binary.BigEndian.PutUint32(null[17:21], crc32.Checksum(null[21:], castagnoli))
	decoded, err := Decode(null)
	if !errors.Is(err, protocol.ErrEmptySequence) {
		t.Fatalf("null records: expected ErrEmptySequence, got batch %+v err %v", decoded, err)
	}
}

func TestDecodeRejectsCompressedRecords(t *testing.T) {
	batch, err := NewProducerBatch(1, Attributes{Compression: CompressionGzip}, Record{Value: []byte("x")})
	if err != nil {
		t.Fatalf("NewProducerBatch: %v", err)
	}
	if _, err := Decode(encodeBatch(t, batch)); !errors.Is(err, ErrCompressed) {
		t.Fatalf("expected ErrCompressed, got %v", err)
	}
}

func TestAttributesBits(t *testing.T) {
	cases := []struct {
		attrs Attributes
		bits  int16
	}{
		{Attributes{}, 0},
		{Attributes{Compression: CompressionZstd}, 0x04},
		{Attributes{Compression: CompressionSnappy, Transactional: true}, 0x12},
		{Attributes{Control: true}, 0x20},
		{Attributes{DeleteHorizons: true, Compression: CompressionLZ4}, 0x43},
		{Attributes{LogAppendTime: true}, 0x08},
	}
	for _, tc := range cases {
		if got := tc.attrs.Bits(); got != tc.bits {
			t.Fatalf("%+v: bits %#x want %#x", tc.attrs, got, tc.bits)
		}
		if got := AttributesFromBits(tc.bits); got != tc.attrs {
			t.Fatalf("%#x: unpacked %+v want %+v", tc.bits, got, tc.attrs)
		}
	}
	if CompressionLZ4.String() != "lz4" {
		t.Fatalf("unexpected name %q", CompressionLZ4.String())
	}
}

func TestRecordSizeMatchesEncoding(t *testing.T) {
	rec := Record{Attributes: 0, TimestampDelta: -3, OffsetDelta: 300, Key: []byte{}, Value: nil, Headers: []Header{{Key: "a", Value: nil}}}
	w := protocol.NewWriter(0)
	rec.Encode(w)
	if w.Len() != rec.Size() {
		t.Fatalf("Size()=%d wrote %d", rec.Size(), w.Len())
	}
	got, err := ReadRecord(protocol.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}
}
