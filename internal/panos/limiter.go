package panos

/*
pawl — Palo Alto firewall URL allow-list tool in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"math"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/x-stp/pawl/internal/metrics"
)

// Rate bounds and steps for the adaptive limiter, in requests per second.
const (
	MinRate = 0.5
	MaxRate = 20.0
	// RateIncreaseStep is added after each successful call.
	RateIncreaseStep = 0.5
	// RateDecreaseFactor multiplies the rate after a transport failure.
	RateDecreaseFactor = 0.5
)

// RateLimiter paces calls to the management plane. The rate creeps up while
// calls succeed and halves on transport failures, staying in [MinRate, MaxRate]
// or the configured ceiling, whichever is lower.
//
// A nil *RateLimiter allows everything.
type RateLimiter struct {
	lim     *rate.Limiter
	ceiling float64
	// currentRate holds the float64 bits of the current limit.
	currentRate  atomic.Uint64
	successCount atomic.Uint64
	failureCount atomic.Uint64
}

// NewRateLimiter starts at initialRate, which is also the ceiling. A
// non-positive initialRate yields a nil limiter.
func NewRateLimiter(initialRate float64, burst int) *RateLimiter {
	if initialRate <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	ceiling := math.Min(initialRate, MaxRate)
	rl := &RateLimiter{
		lim:     rate.NewLimiter(rate.Limit(ceiling), burst),
		ceiling: ceiling,
	}
	rl.setRate(ceiling)
	return rl
}

// Wait blocks until a call may proceed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	return rl.lim.Wait(ctx)
}

// RecordSuccess nudges the rate up.
func (rl *RateLimiter) RecordSuccess() {
	if rl == nil {
		return
	}
	rl.successCount.Add(1)
	rl.adjustRate(rl.getRate() + RateIncreaseStep)
}

// RecordFailure cuts the rate.
func (rl *RateLimiter) RecordFailure() {
	if rl == nil {
		return
	}
	rl.failureCount.Add(1)
	rl.adjustRate(rl.getRate() * RateDecreaseFactor)
}

// GetCurrentRate returns the current limit in requests per second.
func (rl *RateLimiter) GetCurrentRate() float64 {
	if rl == nil {
		return math.Inf(1)
	}
	return rl.getRate()
}

// GetStats returns counters for diagnostics.
func (rl *RateLimiter) GetStats() map[string]any {
	if rl == nil {
		return map[string]any{"current_rate": "unlimited"}
	}
	return map[string]any{
		"current_rate":  rl.getRate(),
		"success_count": rl.successCount.Load(),
		"failure_count": rl.failureCount.Load(),
	}
}

func (rl *RateLimiter) adjustRate(r float64) {
	r = math.Min(math.Max(r, MinRate), rl.ceiling)
	if r == rl.getRate() {
		return
	}
	rl.setRate(r)
	rl.lim.SetLimit(rate.Limit(r))
	metrics.GetMetrics().UpdateRateLimit(r)
}

func (rl *RateLimiter) getRate() float64 {
	return math.Float64frombits(rl.currentRate.Load())
}

func (rl *RateLimiter) setRate(r float64) {
	rl.currentRate.Store(math.Float64bits(r))
}
