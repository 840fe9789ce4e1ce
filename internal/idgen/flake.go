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

package idgen

import (
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

// DefaultFlakeGenerator names process instances in logs and telemetry.
// It is built on first use. A host without a private address gets a
// generator that falls back to random IDs instead of failing.
var DefaultFlakeGenerator = sync.OnceValue(func() *SonyFlakeGenerator {
	gen, err := newFlakeGenerator()
	if err != nil {
		slog.Warn("Sonyflake unavailable, using random instance IDs", slog.Any("error", err))
		return &SonyFlakeGenerator{}
	}
	return gen
})

type SonyFlakeGenerator struct {
	sf *sonyflake.Sonyflake
}

func newFlakeGenerator() (*SonyFlakeGenerator, error) {
	settings := sonyflake.Settings{
		StartTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	sf, err := sonyflake.New(settings)
	if err != nil {
		return nil, err
	}
	return &SonyFlakeGenerator{sf: sf}, nil
}

// NextID returns a positive int64 that'll increase roughly in time order.
func (g *SonyFlakeGenerator) NextID() int64 {
	if g.sf == nil {
		return rand.Int64()
	}
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

// NextInstanceID is NextID rendered in base 36.
func (g *SonyFlakeGenerator) NextInstanceID() string {
	return strconv.FormatInt(g.NextID(), 36)
}
