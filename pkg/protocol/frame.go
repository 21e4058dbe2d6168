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
	"io"
)

// Frame represents a Kafka request or response frame.
type Frame struct {
	Length  int32
	Payload []byte
}

// DefaultMaxFrameSize matches the broker default for socket.request.max.bytes.
const DefaultMaxFrameSize = 100 * 1024 * 1024

// ReadFrame reads a single size-prefixed frame from r, refusing frames
// larger than DefaultMaxFrameSize.
func ReadFrame(r io.Reader) (*Frame, error) {
	return ReadFrameLimit(r, DefaultMaxFrameSize)
}

// ReadFrameLimit is ReadFrame with an explicit payload limit. A limit of
// zero or less means DefaultMaxFrameSize.
func ReadFrameLimit(r io.Reader, limit int32) (*Frame, error) {
	if limit <= 0 {
		limit = DefaultMaxFrameSize
	}
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame size: %w", err)
	}
	length := int32(binary.BigEndian.Uint32(lengthBuf[:]))
	if length < 0 {
		return nil, formatError(ErrInvalidLength, "frame length %d", length)
	}
	if length > limit {
		return nil, formatError(ErrFrameTooLarge, "%d bytes exceeds limit %d", length, limit)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return &Frame{Length: length, Payload: payload}, nil
}

// WriteFrame writes payload prefixed with its length to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var lengthBuf [4]byte
	if len(payload) > int(^uint32(0)>>1) {
		return fmt.Errorf("payload too large: %d", len(payload))
	}
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write frame size: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// AppendRequest encodes a length-prefixed request frame: the total length,
// the header, then the body.
func AppendRequest(header *RequestHeader, req Request) ([]byte, error) {
	size := header.Size() + req.Size()
	w := NewWriter(4 + size)
	w.Int32(int32(size))
	header.Encode(w)
	req.Encode(w)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode request (api key %d): %w", req.APIKey(), err)
	}
	if w.Len() != 4+size {
		return nil, fmt.Errorf("encode request (api key %d): wrote %d bytes, expected %d", req.APIKey(), w.Len()-4, size)
	}
	return w.Bytes(), nil
}

// ParseResponse splits a response frame payload into its correlation id and
// decodes the remaining body into resp.
func ParseResponse(payload []byte, resp Response) (int32, error) {
	r := NewReader(payload)
	correlationID, err := r.Int32()
	if err != nil {
		return 0, fmt.Errorf("read correlation id: %w", err)
	}
	if err := resp.Decode(r); err != nil {
		return correlationID, fmt.Errorf("decode response: %w", err)
	}
	if r.Remaining() != 0 {
		return correlationID, fmt.Errorf("decode response: %w", formatError(ErrTrailingBytes, "%d bytes left", r.Remaining()))
	}
	return correlationID, nil
}

// ParseRequestHeader decodes the header at the start of a request payload
// and returns a Reader positioned at the body.
func ParseRequestHeader(payload []byte) (*RequestHeader, *Reader, error) {
	r := NewReader(payload)
	var header RequestHeader
	if err := header.Decode(r); err != nil {
		return nil, nil, fmt.Errorf("read request header: %w", err)
	}
	return &header, r, nil
}

// AppendResponse encodes a length-prefixed response frame.
func AppendResponse(correlationID int32, body []byte) []byte {
	w := NewWriter(8 + len(body))
	w.Int32(int32(4 + len(body)))
	w.Int32(correlationID)
	w.Raw(body)
	return w.Bytes()
}
