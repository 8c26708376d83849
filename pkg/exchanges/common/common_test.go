package common

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestErrorTaxonomy(t *testing.T) {
	rej := &RejectionError{Code: -2010, Reason: "insufficient margin"}
	wrapped := fmt.Errorf("place order: %w", rej)
	if !IsRejection(wrapped) {
		t.Error("IsRejection did not see through the wrap")
	}
	if IsValidation(wrapped) {
		t.Error("rejection classified as validation")
	}

	val := &ValidationError{Field: "qty", Reason: "below minimum"}
	if !IsValidation(val) {
		t.Error("IsValidation missed a ValidationError")
	}
	if IsRejection(val) {
		t.Error("validation classified as rejection")
	}

	if !errors.Is(fmt.Errorf("session: %w", ErrAuth), ErrAuth) {
		t.Error("wrapped ErrAuth not matched")
	}
}

func TestTimeSyncOffset(t *testing.T) {
	const skew = int64(5000)
	ts := NewTimeSync(func(ctx context.Context) (int64, error) {
		return time.Now().UnixMilli() + skew, nil
	}, nil)

	if err := ts.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	off := ts.Offset().Milliseconds()
	if off < skew-100 || off > skew+100 {
		t.Errorf("offset = %dms, want about %dms", off, skew)
	}

	now := ts.Now()
	local := time.Now().UnixMilli()
	if now-local < skew-100 || now-local > skew+100 {
		t.Errorf("Now() ahead of local by %dms, want about %dms", now-local, skew)
	}
}

func TestTimeSyncPropagatesError(t *testing.T) {
	want := errors.New("boom")
	ts := NewTimeSync(func(ctx context.Context) (int64, error) { return 0, want }, nil)
	if err := ts.Sync(context.Background()); !errors.Is(err, want) {
		t.Errorf("Sync = %v, want %v", err, want)
	}
	if ts.Offset() != 0 {
		t.Errorf("offset = %v after failed sync, want 0", ts.Offset())
	}
}

func TestRateLimiterAcquireTimeout(t *testing.T) {
	rl := NewRateLimiter(1, 1, 100, time.Minute, nil)

	// First token is free; second must wait about a second, longer than the
	// deadline below.
	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("second Acquire = %v, want ErrTimeout", err)
	}
}

func TestRateLimiterAcquireCancelled(t *testing.T) {
	rl := NewRateLimiter(1, 1, 100, time.Minute, nil)
	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	// Cancellation is not a timeout; the caller sees it as-is.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rl.Acquire(ctx)
	if err == nil {
		t.Fatal("Acquire succeeded on a cancelled context")
	}
	if errors.Is(err, ErrTimeout) {
		t.Errorf("Acquire = %v, cancellation must not map to ErrTimeout", err)
	}
}

func TestRateLimiterUsageTracking(t *testing.T) {
	rl := NewRateLimiter(100, 10, 1200, time.Minute, nil)

	rl.UpdateFromHeader("300")
	used, limit, pct := rl.Usage()
	if used != 300 || limit != 1200 {
		t.Errorf("usage = %d/%d, want 300/1200", used, limit)
	}
	if pct != 25 {
		t.Errorf("pct = %v, want 25", pct)
	}

	rl.UpdateFromHeader("")        // ignored
	rl.UpdateFromHeader("garbage") // ignored
	if used, _, _ := rl.Usage(); used != 300 {
		t.Errorf("usage = %d after ignored headers, want 300", used)
	}
}

func TestReconnectorRetriesUntilSuccess(t *testing.T) {
	r := NewReconnector("test", nil)
	var calls atomic.Int32

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("dropped")
			}
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after a clean session")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("sessions = %d, want 3", got)
	}
	if r.State() != ConnDisconnected {
		t.Errorf("state = %v, want disconnected after clean exit", r.State())
	}
}

func TestReconnectorStopsOnAuthError(t *testing.T) {
	r := NewReconnector("test", nil)
	var calls atomic.Int32

	r.Run(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return fmt.Errorf("handshake: %w", ErrAuth)
	})

	if got := calls.Load(); got != 1 {
		t.Errorf("sessions = %d, want 1 (no retry on auth failure)", got)
	}
	if r.State() != ConnFatal {
		t.Errorf("state = %v, want fatal", r.State())
	}
}

func TestReconnectorHonorsContext(t *testing.T) {
	r := NewReconnector("test", nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

func TestConnStateString(t *testing.T) {
	tests := []struct {
		s    ConnState
		want string
	}{
		{ConnDisconnected, "disconnected"},
		{ConnConnecting, "connecting"},
		{ConnAwaitingSnapshot, "awaiting_snapshot"},
		{ConnStreaming, "streaming"},
		{ConnFatal, "fatal"},
		{ConnState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
