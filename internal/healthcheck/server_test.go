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

package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/flagrunner/config"
)

func probe(t *testing.T, s *Server, path string) (int, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "starting", StatusStarting.String())
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "unhealthy", StatusUnhealthy.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestServer_LivenessFollowsStatus(t *testing.T) {
	s := NewServer(config.HealthConfig{})

	code, resp := probe(t, s, "/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "starting", resp.Status)

	s.SetStatus(StatusUnhealthy)
	code, _ = probe(t, s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestServer_ReadinessRunsChecks(t *testing.T) {
	s := NewServer(config.HealthConfig{})
	dbUp := true
	s.AddCheck("usagedb", func(context.Context) error {
		if !dbUp {
			return errors.New("connection refused")
		}
		return nil
	})
	s.AddCheck("kafka", func(context.Context) error { return nil })

	code, _ := probe(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready while starting")

	s.SetStatus(StatusHealthy)
	code, resp := probe(t, s, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, resp.Failing)

	dbUp = false
	code, resp = probe(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"usagedb": "connection refused"}, resp.Failing)
}
