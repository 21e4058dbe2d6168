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
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kerr"
)

// ErrorCode is a broker reported error. Zero means success; other values
// are opaque to the client beyond their Kafka name.
type ErrorCode int16

const (
	NONE                       ErrorCode = 0
	UNKNOWN_SERVER_ERROR       ErrorCode = -1
	CORRUPT_MESSAGE            ErrorCode = 2
	UNKNOWN_TOPIC_OR_PARTITION ErrorCode = 3
	LEADER_NOT_AVAILABLE       ErrorCode = 5
	NOT_LEADER_FOR_PARTITION   ErrorCode = 6
	REQUEST_TIMED_OUT          ErrorCode = 7
	INVALID_TOPIC_EXCEPTION    ErrorCode = 17
	INVALID_REQUIRED_ACKS      ErrorCode = 21
	UNSUPPORTED_VERSION        ErrorCode = 35
	TOPIC_ALREADY_EXISTS       ErrorCode = 36
	INVALID_PARTITIONS         ErrorCode = 37
	INVALID_REPLICATION_FACTOR ErrorCode = 38
)

// OK reports whether the code signals success.
func (c ErrorCode) OK() bool {
	return c == NONE
}

// Err returns the franz-go error for c, or nil when c is NONE.
func (c ErrorCode) Err() error {
	return kerr.ErrorForCode(int16(c))
}

// Retriable reports whether Kafka considers the error transient.
func (c ErrorCode) Retriable() bool {
	return kerr.IsRetriable(c.Err())
}

func (c ErrorCode) String() string {
	if c == NONE {
		return "NONE"
	}
	if e := kerr.TypedErrorForCode(int16(c)); e != nil && e.Code == int16(c) {
		return e.Message
	}
	return fmt.Sprintf("ERROR_CODE(%d)", int16(c))
}

var (
	// ErrTruncated indicates the input ended before a value was complete.
	ErrTruncated = errors.New("insufficient bytes")
	// ErrInvalidUTF8 indicates a string payload was not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid utf-8")
	// ErrEmptySequence indicates a zero element count where at least one element is required.
	ErrEmptySequence = errors.New("empty sequence")
	// ErrInvalidLength indicates a negative or otherwise impossible length prefix.
	ErrInvalidLength = errors.New("invalid length")
	// ErrVarintOverflow indicates a varint longer than 64 bits.
	ErrVarintOverflow = errors.New("varint overflow")
	// ErrTrailingBytes indicates input left over after a complete value.
	ErrTrailingBytes = errors.New("trailing bytes")
	// ErrFrameTooLarge indicates a frame length prefix above the reader's limit.
	ErrFrameTooLarge = errors.New("frame too large")
)

// FormatError reports malformed wire data. Err is one of the sentinel
// errors above so callers can match with errors.Is.
type FormatError struct {
	Err    error
	Detail string
}

func (e *FormatError) Error() string {
	if e.Detail == "" {
		return "kafka format: " + e.Err.Error()
	}
	return fmt.Sprintf("kafka format: %v: %s", e.Err, e.Detail)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatError(kind error, format string, args ...any) error {
	return &FormatError{Err: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsFormatError reports whether err was caused by malformed wire data.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
