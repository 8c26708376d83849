package common

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"github.com/unkuseni/rs-smm-v2/internal/logging"
)

// ConnState is the lifecycle of one venue stream connection.
type ConnState int32

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnAwaitingSnapshot
	ConnStreaming
	ConnFatal
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnAwaitingSnapshot:
		return "awaiting_snapshot"
	case ConnStreaming:
		return "streaming"
	case ConnFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Reconnector supervises a stream session function, reconnecting with
// jittered exponential backoff when it drops. Auth failures stop the loop
// permanently; everything else is retried.
type Reconnector struct {
	name  string
	log   *logging.Logger
	b     *backoff.Backoff
	state atomic.Int32
}

// NewReconnector creates a supervisor for the named stream.
func NewReconnector(name string, log *logging.Logger) *Reconnector {
	if log == nil {
		log = logging.Discard()
	}
	return &Reconnector{
		name: name,
		log:  log,
		b: &backoff.Backoff{
			Min:    500 * time.Millisecond,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}
}

// State returns the current connection state.
func (r *Reconnector) State() ConnState {
	return ConnState(r.state.Load())
}

// SetState records a state transition reported by the session itself, such
// as moving from AwaitingSnapshot to Streaming once the first snapshot has
// been applied.
func (r *Reconnector) SetState(s ConnState) {
	r.state.Store(int32(s))
}

// Run calls session until ctx is cancelled or the session fails with
// ErrAuth. A session that stays up for a while earns a backoff reset, so a
// long-lived connection followed by a drop reconnects quickly.
func (r *Reconnector) Run(ctx context.Context, session func(ctx context.Context) error) {
	for {
		if ctx.Err() != nil {
			r.SetState(ConnDisconnected)
			return
		}

		r.SetState(ConnConnecting)
		started := time.Now()
		err := session(ctx)
		up := time.Since(started)

		if ctx.Err() != nil || err == nil {
			r.SetState(ConnDisconnected)
			return
		}
		if errors.Is(err, ErrAuth) {
			r.SetState(ConnFatal)
			r.log.Critical("%s stream: authentication failed, not retrying: %v", r.name, err)
			return
		}

		if up > time.Minute {
			r.b.Reset()
		}
		wait := r.b.Duration()
		r.SetState(ConnDisconnected)
		r.log.Warning("%s stream dropped after %s: %v (reconnect in %s)", r.name, up.Round(time.Millisecond), err, wait.Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
