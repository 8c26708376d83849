package common

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/unkuseni/rs-smm-v2/internal/logging"
)

// RateLimiter is the per-venue request budget shared by every outgoing REST
// call. Callers acquire a token before dispatch and queue when the bucket is
// empty; it also tracks the venue-reported weight usage from response
// headers.
type RateLimiter struct {
	bucket *rate.Limiter
	log    *logging.Logger

	mu            sync.Mutex
	usedWeight    int
	weightLimit   int
	lastReset     time.Time
	resetInterval time.Duration
}

// NewRateLimiter creates a limiter allowing perSecond requests with the
// given burst, tracking weight usage against weightLimit per window.
func NewRateLimiter(perSecond float64, burst, weightLimit int, window time.Duration, log *logging.Logger) *RateLimiter {
	if log == nil {
		log = logging.Discard()
	}
	return &RateLimiter{
		bucket:        rate.NewLimiter(rate.Limit(perSecond), burst),
		log:           log,
		weightLimit:   weightLimit,
		resetInterval: window,
		lastReset:     time.Now(),
	}
}

// Acquire blocks until a token is available or ctx expires. Expiry surfaces
// as ErrTimeout so callers see the taxonomy error, not a context error.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	if err := rl.bucket.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return err
		}
		// Wait fails with its own error, without blocking, when the needed
		// delay would overrun the caller's deadline. Any deadline-driven
		// failure maps to ErrTimeout.
		if _, hasDeadline := ctx.Deadline(); hasDeadline || errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	}
	return nil
}

// UpdateFromHeader folds in the venue-reported used weight from a response
// header, warning as the ban threshold approaches.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	pct := float64(rl.usedWeight) / float64(rl.weightLimit) * 100
	if pct >= 95 {
		rl.log.Critical("rate limit critical: %d/%d (%.1f%%)", rl.usedWeight, rl.weightLimit, pct)
	} else if pct >= 80 {
		rl.log.Warning("rate limit high: %d/%d (%.1f%%)", rl.usedWeight, rl.weightLimit, pct)
	}
}

// Usage returns the tracked weight usage for the current window.
func (rl *RateLimiter) Usage() (used, limit int, pct float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.weightLimit, 0
	}
	return rl.usedWeight, rl.weightLimit, float64(rl.usedWeight) / float64(rl.weightLimit) * 100
}
