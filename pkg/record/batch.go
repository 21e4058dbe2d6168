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
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/novatechflow/kafclient/pkg/protocol"
)

const (
	// Magic is the record batch format version written by this package.
	Magic int8 = 2

	// batchLengthOffset is the number of bytes preceding the fields counted
	// by BatchLength (base offset and the length itself).
	batchLengthOffset = 8 + 4
	// crcOffset is where the checksummed range starts.
	crcOffset = batchLengthOffset + 4 + 1 + 4
	// headerSize covers every fixed field up to and including the record count.
	headerSize = crcOffset + 2 + 4 + 8 + 8 + 8 + 2 + 4 + 4
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var (
	// ErrNoRecords is returned when building a batch without records.
	ErrNoRecords = errors.New("record batch requires at least one record")
	// ErrChecksum is returned when a decoded batch fails its CRC check.
	ErrChecksum = errors.New("record batch checksum mismatch")
	// ErrUnsupportedMagic is returned for batches that are not format v2.
	ErrUnsupportedMagic = errors.New("unsupported record batch magic")
	// ErrCompressed is returned when decoding records of a compressed batch.
	ErrCompressed = errors.New("compressed record batches are not supported")
)

// Batch is a v2 record batch as it appears on the wire.
type Batch struct {
	BaseOffset           int64
	BatchLength          int32
	PartitionLeaderEpoch int32
	Magic                int8
	CRC                  uint32
	Attributes           Attributes
	LastOffsetDelta      int32
	BaseTimestamp        int64
	MaxTimestamp         int64
	ProducerID           int64
	ProducerEpoch        int16
	BaseSequence         int32
	Records              []Record
}

// Input holds the caller controlled fields of a batch. Build derives the
// rest.
type Input struct {
	BaseOffset      int64
	Attributes      Attributes
	LastOffsetDelta int32
	BaseTimestamp   int64
	MaxTimestamp    int64
	ProducerID      int64
	ProducerEpoch   int16
	BaseSequence    int32
	Records         []Record
}

// Build assembles a batch from in. The CRC is computed first over the
// attributes through the records, then the batch length over everything
// after the length field.
func Build(in Input) (*Batch, error) {
	if len(in.Records) == 0 {
		return nil, ErrNoRecords
	}
	b := &Batch{
		BaseOffset:           in.BaseOffset,
		PartitionLeaderEpoch: -1,
		Magic:                Magic,
		Attributes:           in.Attributes,
		LastOffsetDelta:      in.LastOffsetDelta,
		BaseTimestamp:        in.BaseTimestamp,
		MaxTimestamp:         in.MaxTimestamp,
		ProducerID:           in.ProducerID,
		ProducerEpoch:        in.ProducerEpoch,
		BaseSequence:         in.BaseSequence,
		Records:              in.Records,
	}
	w := protocol.NewWriter(b.checksummedSize())
	b.encodeChecksummed(w)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode record batch: %w", err)
	}
	b.CRC = crc32.Checksum(w.Bytes(), castagnoli)
	b.BatchLength = int32(b.Size() - batchLengthOffset)
	return b, nil
}

// NewProducerBatch builds an idempotence-free batch for records produced at
// timestampMillis. Offset deltas are assigned from the record order.
func NewProducerBatch(timestampMillis int64, attrs Attributes, records ...Record) (*Batch, error) {
	for i := range records {
		records[i].OffsetDelta = int32(i)
	}
	return Build(Input{
		Attributes:      attrs,
		LastOffsetDelta: int32(len(records) - 1),
		BaseTimestamp:   timestampMillis,
		MaxTimestamp:    timestampMillis,
		ProducerID:      -1,
		ProducerEpoch:   -1,
		BaseSequence:    -1,
		Records:         records,
	})
}

func (b *Batch) checksummedSize() int {
	return 2 + 4 + 8 + 8 + 8 + 2 + 4 + protocol.ArraySize(b.Records)
}

func (b *Batch) encodeChecksummed(w *protocol.Writer) {
	w.Int16(b.Attributes.Bits())
	w.Int32(b.LastOffsetDelta)
	w.Int64(b.BaseTimestamp)
	w.Int64(b.MaxTimestamp)
	w.Int64(b.ProducerID)
	w.Int16(b.ProducerEpoch)
	w.Int32(b.BaseSequence)
	protocol.WriteArray(w, b.Records)
}

func (b *Batch) Size() int {
	return crcOffset + b.checksummedSize()
}

// Encode writes the batch exactly as stored; use Build to fill in the CRC
// and length.
func (b *Batch) Encode(w *protocol.Writer) {
	w.Int64(b.BaseOffset)
	w.Int32(b.BatchLength)
	w.Int32(b.PartitionLeaderEpoch)
	w.Int8(b.Magic)
	w.Uint32(b.CRC)
	b.encodeChecksummed(w)
}

// Decode reads one batch, verifying the magic byte, the CRC and that the
// batch holds at least one record.
func (b *Batch) Decode(r *protocol.Reader) error {
	var err error
	if b.BaseOffset, err = r.Int64(); err != nil {
		return err
	}
	if b.BatchLength, err = r.Int32(); err != nil {
		return err
	}
	body, err := r.Sub(int(b.BatchLength))
	if err != nil {
		return fmt.Errorf("record batch body: %w", err)
	}
	if b.PartitionLeaderEpoch, err = body.Int32(); err != nil {
		return err
	}
	if b.Magic, err = body.Int8(); err != nil {
		return err
	}
	if b.Magic != Magic {
		return fmt.Errorf("%w: %d", ErrUnsupportedMagic, b.Magic)
	}
	if b.CRC, err = body.Uint32(); err != nil {
		return err
	}
	if sum := crc32.Checksum(body.Rest(), castagnoli); sum != b.CRC {
		return fmt.Errorf("%w: header %#08x computed %#08x", ErrChecksum, b.CRC, sum)
	}
	attrs, err := body.Int16()
	if err != nil {
		return err
	}
	b.Attributes = AttributesFromBits(attrs)
	if b.LastOffsetDelta, err = body.Int32(); err != nil {
		return err
	}
	if b.BaseTimestamp, err = body.Int64(); err != nil {
		return err
	}
	if b.MaxTimestamp, err = body.Int64(); err != nil {
		return err
	}
	if b.ProducerID, err = body.Int64(); err != nil {
		return err
	}
	if b.ProducerEpoch, err = body.Int16(); err != nil {
		return err
	}
	if b.BaseSequence, err = body.Int32(); err != nil {
		return err
	}
	if b.Attributes.Compression != CompressionNone {
		return fmt.Errorf("%w: %s", ErrCompressed, b.Attributes.Compression)
	}
	if b.Records, err = protocol.ReadNonEmptyArray(body, ReadRecord); err != nil {
		return fmt.Errorf("record batch records: %w", err)
	}
	if body.Remaining() != 0 {
		return fmt.Errorf("record batch: %d unread bytes", body.Remaining())
	}
	return nil
}

// Decode parses a single encoded batch.
func Decode(data []byte) (*Batch, error) {
	var b Batch
	if err := protocol.Decode(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Count returns the number of records in the batch.
func (b *Batch) Count() int {
	return len(b.Records)
}
