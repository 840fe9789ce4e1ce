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

// Package dataapi is the HTTP surface of flagrunner: it serves project
// data snapshots, enqueues usage events, accepts configuration change
// notifications and exposes metered tool quotas.
package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cardinalhq/flagrunner/config"
	"github.com/cardinalhq/flagrunner/internal/configcache"
	"github.com/cardinalhq/flagrunner/internal/logctx"
	"github.com/cardinalhq/flagrunner/internal/usageguard"
	"github.com/cardinalhq/flagrunner/pkg/projectdata"
	"github.com/cardinalhq/flagrunner/pkg/usageevent"
)

// DefaultEnvironment is served when a data request names none.
const DefaultEnvironment = "production"

// SnapshotCache loads snapshots and drops them when a project changes.
type SnapshotCache interface {
	Load(ctx context.Context, projectID, environment string) (*projectdata.Store, error)
	InvalidateProject(ctx context.Context, projectID string) error
}

// EventPublisher enqueues a usage event for the ingestion worker.
type EventPublisher interface {
	Publish(ctx context.Context, ev usageevent.Event) error
}

// Guard meters per-caller features.
type Guard interface {
	Increment(ctx context.Context, feature, identity string) (int64, error)
	TriesLeft(ctx context.Context, feature, identity string) (int, error)
}

type Service struct {
	cfg       config.APIConfig
	cache     SnapshotCache
	publisher EventPublisher
	guard     Guard
}

func NewService(cfg config.APIConfig, cache SnapshotCache, publisher EventPublisher, guard Guard) *Service {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 * 1024
	}
	return &Service{
		cfg:       cfg,
		cache:     cache,
		publisher: publisher,
		guard:     guard,
	}
}

// Handler returns the routed handler with CORS applied.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", instrument("health", s.handleHealth))
	mux.HandleFunc("GET /api/v1/data/{projectId}", instrument("data", s.handleData))
	mux.HandleFunc("GET /api/dashboard/{projectId}/data", instrument("data", s.handleData))
	mux.HandleFunc("POST /api/v1/track", instrument("track", s.handleTrack))
	mux.HandleFunc("POST /api/data", instrument("track", s.handleTrack))
	mux.HandleFunc("POST /api/v1/config/{projectId}/invalidate", instrument("invalidate", s.handleInvalidate))
	mux.HandleFunc("GET /api/v1/tools/{feature}", instrument("tools", s.handleTriesLeft))
	mux.HandleFunc("POST /api/v1/tools/{feature}", instrument("tools", s.handleToolUse))
	return withCORS(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting data API", slog.String("addr", s.cfg.ListenAddr))

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleData(w http.ResponseWriter, req *http.Request) {
	projectID := req.PathValue("projectId")
	environment := req.URL.Query().Get("environment")
	if environment == "" {
		environment = DefaultEnvironment
	}

	store, err := s.cache.Load(req.Context(), projectID, environment)
	switch {
	case errors.Is(err, configcache.ErrNotFound):
		writeError(w, http.StatusNotFound, "no data for project environment")
		return
	case err != nil:
		logctx.FromContext(req.Context()).Error("Failed to load project data",
			slog.String("projectID", projectID),
			slog.String("environment", environment),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "project data unavailable")
		return
	}
	writeJSON(w, http.StatusOK, store)
}

func (s *Service) handleTrack(w http.ResponseWriter, req *http.Request) {
	var body TrackRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, s.cfg.MaxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "empty body")
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	ev, err := body.Event()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.publisher.Publish(req.Context(), ev); err != nil {
		logctx.FromContext(req.Context()).Error("Failed to enqueue usage event",
			slog.String("projectID", ev.ProjectID),
			slog.String("eventID", ev.ID),
			slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "could not enqueue event")
		return
	}
	writeJSON(w, http.StatusAccepted, TrackResponse{ID: ev.ID})
}

// handleInvalidate is not rate limited: a refused notification would
// leave a committed write visible as stale data.
func (s *Service) handleInvalidate(w http.ResponseWriter, req *http.Request) {
	projectID := req.PathValue("projectId")
	if err := s.cache.InvalidateProject(req.Context(), projectID); err != nil {
		logctx.FromContext(req.Context()).Error("Failed to invalidate project",
			slog.String("projectID", projectID),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "invalidation incomplete")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleTriesLeft(w http.ResponseWriter, req *http.Request) {
	left, err := s.guard.TriesLeft(req.Context(), req.PathValue("feature"), callerIdentity(req))
	if err != nil {
		s.writeGuardError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, TriesLeftResponse{TriesLeft: left})
}

func (s *Service) handleToolUse(w http.ResponseWriter, req *http.Request) {
	feature := req.PathValue("feature")
	identity := callerIdentity(req)
	if _, err := s.guard.Increment(req.Context(), feature, identity); err != nil {
		s.writeGuardError(w, req, err)
		return
	}
	left, err := s.guard.TriesLeft(req.Context(), feature, identity)
	if err != nil {
		s.writeGuardError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, TriesLeftResponse{TriesLeft: left})
}

func (s *Service) writeGuardError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, usageguard.ErrLimitExceeded):
		writeJSON(w, http.StatusTooManyRequests, TriesLeftResponse{TriesLeft: 0})
	case errors.Is(err, usageguard.ErrUnknownFeature):
		writeError(w, http.StatusNotFound, "unknown feature")
	default:
		logctx.FromContext(req.Context()).Error("Usage guard failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "usage guard unavailable")
	}
}
