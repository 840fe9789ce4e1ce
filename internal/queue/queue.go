// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package queue adapts durable queues to a batch-at-a-time delivery
// model. A Source reads a batch, hands it to the handler, then settles
// each delivery according to the outcome the handler returned for it.
package queue

import "context"

// Outcome tells a Source what to do with one delivery.
type Outcome int

const (
	// Ack removes the delivery from the queue.
	Ack Outcome = iota
	// Retry makes the delivery available again later.
	Retry
	// DeadLetter moves the delivery to the dead-letter destination.
	DeadLetter
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case DeadLetter:
		return "dead-letter"
	}
	return "unknown"
}

// Delivery is one message read from a queue.
type Delivery struct {
	// ID identifies the delivery for logging; it is not the event id.
	ID   string
	Body []byte
	// Attempt counts deliveries of this message, starting at 1.
	Attempt int
}

// BatchHandler returns one outcome per delivery, in order.
type BatchHandler func(ctx context.Context, deliveries []Delivery) []Outcome

type Source interface {
	// Run delivers batches to handle until ctx is cancelled.
	Run(ctx context.Context, handle BatchHandler) error
	Close() error
}
