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

// Package usageevent defines the usage events emitted when decisions are
// resolved or acted upon, and their JSON encoding on the queue.
package usageevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cardinalhq/flagrunner/internal/idgen"
)

type Type string

const (
	// Ping records that a caller was shown a decision.
	Ping Type = "PING"
	// Act records an explicit caller action on a decision.
	Act Type = "ACT"
)

var (
	ErrUnknownType = errors.New("unknown usage event type")
	ErrInvalid     = errors.New("invalid usage event")
)

// ParseType accepts only the declared event types.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case Ping, Act:
		return Type(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Event is immutable once built. ID is assigned where the event is
// produced and identifies it across queue redeliveries.
type Event struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	Type       Type      `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"durationMs"`
}

var ids = idgen.NewULIDGenerator()

// New builds an event with a fresh ID, stamped now.
func New(projectID string, typ Type, duration time.Duration) Event {
	now := time.Now().UTC()
	return Event{
		ID:         ids.Make(now),
		ProjectID:  projectID,
		Type:       typ,
		Timestamp:  now,
		DurationMs: duration.Milliseconds(),
	}
}

// Validate checks an event before it is produced.
func (e Event) Validate() error {
	if _, err := ParseType(string(e.Type)); err != nil {
		return err
	}
	return e.validateFields()
}

func (e Event) validateFields() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	if e.ProjectID == "" {
		return fmt.Errorf("%w: missing projectId", ErrInvalid)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalid)
	}
	if e.DurationMs < 0 {
		return fmt.Errorf("%w: negative durationMs", ErrInvalid)
	}
	return nil
}

func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a queued event. The type is passed through unchecked;
// consumers switch on it exhaustively.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := e.validateFields(); err != nil {
		return Event{}, err
	}
	return e, nil
}
