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

// Package ingestion consumes usage events from a queue and accounts for
// them. Each event is processed in its own unit: a failure or panic in
// one event never affects the others in its batch.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cardinalhq/flagrunner/internal/accounting"
	"github.com/cardinalhq/flagrunner/internal/counterstore"
	"github.com/cardinalhq/flagrunner/internal/logctx"
	"github.com/cardinalhq/flagrunner/internal/queue"
	"github.com/cardinalhq/flagrunner/pkg/usageevent"
	"github.com/cardinalhq/flagrunner/usagedb"
)

// Request log values written for each event.
const (
	RequestTypeView       = "TRACK_VIEW"
	RequestTypeConversion = "TRACK_CONVERSION"
	APIVersion            = "V1"
)

const (
	requestCountWindow = 24 * time.Hour
	requestCountTTL    = 48 * time.Hour
)

// Accountant records one event against its project's usage.
type Accountant interface {
	Record(ctx context.Context, ev usageevent.Event) (accounting.Outcome, error)
}

// RequestLog stores the per-event request row.
type RequestLog interface {
	InsertAPIRequest(ctx context.Context, arg usagedb.InsertAPIRequestParams) error
}

type Config struct {
	// Concurrency bounds events processed at once.
	Concurrency int64
	// MaxRetries is the delivery attempt after which a failing event is
	// dead-lettered.
	MaxRetries int
	// StepTimeout bounds the processing of one event.
	StepTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Concurrency: 50, MaxRetries: 5, StepTimeout: 30 * time.Second}
}

type Worker struct {
	cfg        Config
	accountant Accountant
	requests   RequestLog
	counters   counterstore.Store
	sem        *semaphore.Weighted
}

func NewWorker(cfg Config, accountant Accountant, requests RequestLog, counters counterstore.Store) *Worker {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	return &Worker{
		cfg:        cfg,
		accountant: accountant,
		requests:   requests,
		counters:   counters,
		sem:        semaphore.NewWeighted(cfg.Concurrency),
	}
}

// Run processes deliveries from src until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, src queue.Source) error {
	slog.Info("Starting usage event worker",
		slog.Int64("concurrency", w.cfg.Concurrency),
		slog.Int("maxRetries", w.cfg.MaxRetries))
	return src.Run(ctx, w.HandleBatch)
}

// HandleBatch processes every delivery concurrently, bounded by the
// worker's semaphore, and returns their outcomes in order. Deliveries
// not started before ctx ends are retried.
func (w *Worker) HandleBatch(ctx context.Context, deliveries []queue.Delivery) []queue.Outcome {
	outcomes := make([]queue.Outcome, len(deliveries))
	var wg sync.WaitGroup
	for i, d := range deliveries {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(deliveries); j++ {
				outcomes[j] = queue.Retry
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer w.sem.Release(1)
			outcomes[i] = w.handle(ctx, d)
		}()
	}
	wg.Wait()
	return outcomes
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) (outcome queue.Outcome) {
	start := time.Now()
	ctx = logctx.With(ctx, slog.String("deliveryID", d.ID), slog.Int("attempt", d.Attempt))

	ev, err := usageevent.Decode(d.Body)
	if err != nil {
		return w.deadLetter(ctx, d, "undecodable", err)
	}
	ctx = logctx.With(ctx,
		slog.String("eventID", ev.ID),
		slog.String("projectID", ev.ProjectID),
		slog.String("type", string(ev.Type)))

	defer func() {
		if r := recover(); r != nil {
			outcome = w.deadLetter(ctx, d, "panic", fmt.Errorf("panic: %v", r))
		}
	}()

	if err := w.process(ctx, ev); err != nil {
		if d.Attempt >= w.cfg.MaxRetries {
			return w.deadLetter(ctx, d, "retries exhausted", err)
		}
		logctx.FromContext(ctx).Warn("Usage event failed, will retry", slog.Any("error", err))
		recordOutcome(ctx, queue.Retry, "error")
		return queue.Retry
	}

	recordOutcome(ctx, queue.Ack, "")
	recordDuration(ctx, time.Since(start))
	return queue.Ack
}

func (w *Worker) deadLetter(ctx context.Context, d queue.Delivery, reason string, err error) queue.Outcome {
	logctx.FromContext(ctx).Error("Dead-lettering usage event",
		slog.String("reason", reason),
		slog.Any("error", err))
	recordDeadLettered(ctx, reason)
	recordOutcome(ctx, queue.DeadLetter, reason)
	return queue.DeadLetter
}

// process accounts for ev and writes its request log entry concurrently.
// Both must succeed for the event to be acknowledged.
func (w *Worker) process(ctx context.Context, ev usageevent.Event) error {
	requestType := requestTypeFor(ev.Type)

	ctx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := w.accountant.Record(gctx, ev)
		if err != nil {
			return err
		}
		logctx.FromContext(gctx).Debug("Usage event accounted",
			slog.Int64("count", out.Count),
			slog.Bool("duplicate", out.Duplicate),
			slog.String("threshold", out.Threshold))
		return nil
	})
	g.Go(func() error {
		return w.logRequest(gctx, ev, requestType)
	})
	return g.Wait()
}

func (w *Worker) logRequest(ctx context.Context, ev usageevent.Event, requestType string) error {
	key := "requests:" + ev.ProjectID + ":" + requestType
	if _, err := w.counters.Increment(ctx, key, counterstore.WindowStart(ev.Timestamp, requestCountWindow), requestCountTTL); err != nil {
		return fmt.Errorf("counting request: %w", err)
	}
	if err := w.requests.InsertAPIRequest(ctx, usagedb.InsertAPIRequestParams{
		ID:          uuid.New(),
		EventID:     ev.ID,
		ProjectID:   ev.ProjectID,
		RequestType: requestType,
		DurationMs:  ev.DurationMs,
		ApiVersion:  APIVersion,
	}); err != nil {
		return fmt.Errorf("logging request: %w", err)
	}
	return nil
}

// requestTypeFor panics on a type outside the declared set.
func requestTypeFor(t usageevent.Type) string {
	switch t {
	case usageevent.Ping:
		return RequestTypeView
	case usageevent.Act:
		return RequestTypeConversion
	}
	panic(fmt.Sprintf("unhandled usage event type %q", t))
}
