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

import "fmt"

// Compression identifies the codec recorded in a batch's attributes. Only
// CompressionNone batches can be encoded or decoded by this package.
type Compression int8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionSnappy
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", int8(c))
	}
}

const (
	compressionMask    int16 = 0x07
	timestampTypeFlag  int16 = 0x08
	transactionalFlag  int16 = 0x10
	controlFlag        int16 = 0x20
	deleteHorizonsFlag int16 = 0x40
)

// Attributes are the batch level flags packed into an int16.
type Attributes struct {
	Compression    Compression
	LogAppendTime  bool
	Transactional  bool
	Control        bool
	DeleteHorizons bool
}

// Bits packs the attributes into their wire form.
func (a Attributes) Bits() int16 {
	v := int16(a.Compression) & compressionMask
	if a.LogAppendTime {
		v |= timestampTypeFlag
	}
	if a.Transactional {
		v |= transactionalFlag
	}
	if a.Control {
		v |= controlFlag
	}
	if a.DeleteHorizons {
		v |= deleteHorizonsFlag
	}
	return v
}

// AttributesFromBits unpacks a wire attributes value.
func AttributesFromBits(v int16) Attributes {
	return Attributes{
		Compression:    Compression(v & compressionMask),
		LogAppendTime:  v&timestampTypeFlag != 0,
		Transactional:  v&transactionalFlag != 0,
		Control:        v&controlFlag != 0,
		DeleteHorizons: v&deleteHorizonsFlag != 0,
	}
}
