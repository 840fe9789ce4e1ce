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

package flagclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cardinalhq/flagrunner/pkg/usageevent"
)

const (
	eventQueueSize = 256
	emitWorkers    = 4
	emitTimeout    = 5 * time.Second
	// pingWait bounds how long a PING waits for queue space before it is
	// dropped. ACT events wait until queued or the caller's ctx ends.
	pingWait = 100 * time.Millisecond
)

// httpEmitter submits usage events from a bounded queue drained by a
// fixed set of workers, so resolution never waits on the network.
type httpEmitter struct {
	client *http.Client
	url    string
	logger *slog.Logger

	queue     chan usageevent.Event
	pending   sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

func newHTTPEmitter(client *http.Client, url string, logger *slog.Logger) *httpEmitter {
	e := &httpEmitter{
		client: client,
		url:    url,
		logger: logger,
		queue:  make(chan usageevent.Event, eventQueueSize),
		closed: make(chan struct{}),
	}
	for range emitWorkers {
		go e.run()
	}
	return e
}

func (e *httpEmitter) run() {
	for {
		select {
		case ev := <-e.queue:
			e.submit(ev)
		case <-e.closed:
			// Drain anything queued before close.
			for {
				select {
				case ev := <-e.queue:
					e.submit(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *httpEmitter) submit(ev usageevent.Event) {
	defer e.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := e.send(ctx, ev); err != nil {
		e.logger.Warn("Failed to submit usage event",
			slog.String("projectID", ev.ProjectID),
			slog.String("type", string(ev.Type)),
			slog.Any("error", err))
	}
}

// Emit queues ev. When the queue is full a PING is dropped after a short
// wait; an ACT waits for space until ctx ends.
func (e *httpEmitter) Emit(ctx context.Context, ev usageevent.Event) {
	select {
	case <-e.closed:
		e.drop(ev, "emitter closed")
		return
	default:
	}

	e.pending.Add(1)
	select {
	case e.queue <- ev:
		return
	default:
	}

	var wait <-chan time.Time
	if ev.Type != usageevent.Act {
		timer := time.NewTimer(pingWait)
		defer timer.Stop()
		wait = timer.C
	}
	select {
	case e.queue <- ev:
	case <-wait:
		e.pending.Done()
		e.drop(ev, "queue full")
	case <-ctx.Done():
		e.pending.Done()
		e.drop(ev, ctx.Err().Error())
	case <-e.closed:
		e.pending.Done()
		e.drop(ev, "emitter closed")
	}
}

func (e *httpEmitter) drop(ev usageevent.Event, reason string) {
	e.logger.Warn("Dropping usage event",
		slog.String("projectID", ev.ProjectID),
		slog.String("type", string(ev.Type)),
		slog.String("reason", reason))
}

func (e *httpEmitter) send(ctx context.Context, ev usageevent.Event) error {
	body, err := usageevent.Encode(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// flush waits until every queued event has been submitted.
func (e *httpEmitter) flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close tells the workers to exit once the queue has drained.
func (e *httpEmitter) close() {
	e.closeOnce.Do(func() { close(e.closed) })
}
