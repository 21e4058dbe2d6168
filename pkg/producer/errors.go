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

package producer

import (
	"fmt"

	"github.com/novatechflow/kafclient/pkg/protocol"
)

// NodeNotFoundError means metadata named a partition leader that is not in
// the response's broker list.
type NodeNotFoundError struct {
	NodeID    int32
	Topic     string
	Partition int32
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("leader node %d of %s[%d] is not among the reported brokers", e.NodeID, e.Topic, e.Partition)
}

// LeaderNotFoundError means a metadata refresh succeeded but reported no
// usable leader for the partition. Code carries the partition or topic
// error the broker sent, if any.
type LeaderNotFoundError struct {
	Topic     string
	Partition int32
	Code      protocol.ErrorCode
}

func (e *LeaderNotFoundError) Error() string {
	if e.Code.OK() {
		return fmt.Sprintf("no leader for %s[%d]", e.Topic, e.Partition)
	}
	return fmt.Sprintf("no leader for %s[%d]: %s", e.Topic, e.Partition, e.Code)
}

func (e *LeaderNotFoundError) Unwrap() error {
	return e.Code.Err()
}
