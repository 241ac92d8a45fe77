// Copyright 2025 Kadir Pekel
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

// Package ratelimit caps how many API requests a caller may make per window.
// Every chat turn can fan out into several model calls, so the cap is applied
// before the coordinator is reached.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/finrag/pkg/config"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the current window ends.
	Reset time.Time
}

// RetryAfter is how long a rejected caller should wait.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || !r.Reset.After(now) {
		return 0
	}
	return r.Reset.Sub(now)
}

// Limiter counts requests per identifier in fixed windows.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count int
	end   time.Time
}

func New(cfg config.RateLimitConfig) (*Limiter, error) {
	cfg.SetDefaults()
	if cfg.Requests <= 0 {
		return nil, errors.New("requests must be positive")
	}
	return &Limiter{
		limit:   cfg.Requests,
		window:  cfg.Window,
		now:     time.Now,
		windows: map[string]*window{},
	}, nil
}

// Allow records one request for id when it fits in the current window.
// Rejected requests are not counted.
func (l *Limiter) Allow(_ context.Context, id string) (Result, error) {
	if id == "" {
		return Result{}, fmt.Errorf("identifier cannot be empty")
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[id]
	if !ok || !now.Before(w.end) {
		w = &window{end: now.Add(l.window)}
		l.windows[id] = w
	}

	res := Result{Limit: l.limit, Reset: w.end}
	if w.count >= l.limit {
		return res, nil
	}
	w.count++
	res.Allowed = true
	res.Remaining = l.limit - w.count
	return res, nil
}

// Sweep drops expired windows. It returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, w := range l.windows {
		if !now.Before(w.end) {
			delete(l.windows, id)
			n++
		}
	}
	return n
}

// Run sweeps expired windows every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}
