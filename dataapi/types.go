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

package dataapi

import (
	"time"

	"github.com/cardinalhq/flagrunner/pkg/usageevent"
)

// TrackRequest is the body accepted by the track endpoints. ID and
// Timestamp are assigned when absent. FunctionDuration is the legacy
// name for DurationMs.
type TrackRequest struct {
	ProjectID        string     `json:"projectId"`
	Type             string     `json:"type"`
	DurationMs       *int64     `json:"durationMs,omitempty"`
	FunctionDuration *float64   `json:"functionDuration,omitempty"`
	ID               string     `json:"id,omitempty"`
	Timestamp        *time.Time `json:"timestamp,omitempty"`
}

// Event validates the request and builds the event to enqueue.
func (r TrackRequest) Event() (usageevent.Event, error) {
	typ, err := usageevent.ParseType(r.Type)
	if err != nil {
		return usageevent.Event{}, err
	}

	var duration time.Duration
	switch {
	case r.DurationMs != nil:
		duration = time.Duration(*r.DurationMs) * time.Millisecond
	case r.FunctionDuration != nil:
		duration = time.Duration(*r.FunctionDuration * float64(time.Millisecond))
	}

	ev := usageevent.New(r.ProjectID, typ, duration)
	if r.ID != "" {
		ev.ID = r.ID
	}
	if r.Timestamp != nil {
		ev.Timestamp = r.Timestamp.UTC()
	}
	return ev, ev.Validate()
}

type TrackResponse struct {
	ID string `json:"id"`
}

type TriesLeftResponse struct {
	TriesLeft int `json:"triesLeft"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
