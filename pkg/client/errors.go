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

package client

import (
	"fmt"
	"strings"

	"github.com/novatechflow/kafclient/pkg/protocol"
)

// TopicOperation names the admin call a TopicErrors came from.
type TopicOperation int

const (
	TopicCreation TopicOperation = iota
	TopicDeletion
)

func (o TopicOperation) String() string {
	switch o {
	case TopicCreation:
		return "topic creation"
	case TopicDeletion:
		return "topic deletion"
	default:
		return fmt.Sprintf("TopicOperation(%d)", int(o))
	}
}

// TopicError is one topic the broker refused.
type TopicError struct {
	Topic string
	Code  protocol.ErrorCode
}

// TopicErrors lists every topic of a create or delete call that came back
// with a nonzero error code. Topics that succeeded are not listed.
type TopicErrors struct {
	Operation TopicOperation
	Errors    []TopicError
}

func (e *TopicErrors) Error() string {
	parts := make([]string, len(e.Errors))
	for i, te := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", te.Topic, te.Code)
	}
	return fmt.Sprintf("%s failed for %d topic(s): %s", e.Operation, len(e.Errors), strings.Join(parts, ", "))
}

// Unwrap exposes the Kafka errors so callers can match them with errors.Is,
// e.g. against kerr.TopicAlreadyExists.
func (e *TopicErrors) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, te := range e.Errors {
		errs = append(errs, te.Code.Err())
	}
	return errs
}

func collectTopicErrors(op TopicOperation, results []protocol.TopicResult) error {
	var failed []TopicError
	for _, r := range results {
		if !r.ErrorCode.OK() {
			failed = append(failed, TopicError{Topic: r.Name, Code: r.ErrorCode})
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &TopicErrors{Operation: op, Errors: failed}
}

// PartitionError is one partition a produce request failed on.
type PartitionError struct {
	Topic     string
	Partition int32
	Code      protocol.ErrorCode
}

// ProduceErrors lists every partition of a produce response carrying a
// nonzero error code.
type ProduceErrors struct {
	Errors []PartitionError
}

func (e *ProduceErrors) Error() string {
	parts := make([]string, len(e.Errors))
	for i, pe := range e.Errors {
		parts[i] = fmt.Sprintf("%s[%d]: %s", pe.Topic, pe.Partition, pe.Code)
	}
	return fmt.Sprintf("produce failed for %d partition(s): %s", len(e.Errors), strings.Join(parts, ", "))
}

func (e *ProduceErrors) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, pe := range e.Errors {
		errs = append(errs, pe.Code.Err())
	}
	return errs
}

// Retriable reports whether every failed partition carries an error Kafka
// considers transient.
func (e *ProduceErrors) Retriable() bool {
	for _, pe := range e.Errors {
		if !pe.Code.Retriable() {
			return false
		}
	}
	return len(e.Errors) > 0
}

// Topics returns the distinct topics that failed, in first-seen order.
func (e *ProduceErrors) Topics() []string {
	seen := make(map[string]bool)
	var topics []string
	for _, pe := range e.Errors {
		if !seen[pe.Topic] {
			seen[pe.Topic] = true
			topics = append(topics, pe.Topic)
		}
	}
	return topics
}

func collectProduceErrors(resp *protocol.ProduceResponse) error {
	var failed []PartitionError
	for _, t := range resp.Topics {
		for _, p := range t.Partitions {
			if !p.ErrorCode.OK() {
				failed = append(failed, PartitionError{Topic: t.Name, Partition: p.Partition, Code: p.ErrorCode})
			}
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &ProduceErrors{Errors: failed}
}
