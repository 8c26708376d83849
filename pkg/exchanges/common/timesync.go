package common

import (
	"context"
	"sync"
	"time"

	"github.com/unkuseni/rs-smm-v2/internal/logging"
	"github.com/unkuseni/rs-smm-v2/pkg/timeutil"
)

// TimeSync tracks the offset between the venue clock and the local clock so
// signed requests carry timestamps the venue accepts.
type TimeSync struct {
	getServerTime func(ctx context.Context) (int64, error)
	log           *logging.Logger
	syncInterval  time.Duration

	mu       sync.RWMutex
	offset   int64 // milliseconds, server - local
	lastSync time.Time
}

// NewTimeSync creates a synchronizer around a venue server-time call.
func NewTimeSync(getServerTime func(ctx context.Context) (int64, error), log *logging.Logger) *TimeSync {
	if log == nil {
		log = logging.Discard()
	}
	return &TimeSync{
		getServerTime: getServerTime,
		log:           log,
		syncInterval:  30 * time.Minute,
	}
}

// Start performs an initial sync and keeps re-syncing periodically until ctx
// is cancelled.
func (ts *TimeSync) Start(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil {
		ts.log.Warning("initial time sync failed: %v", err)
	}

	go func() {
		ticker := time.NewTicker(ts.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(ctx); err != nil {
					ts.log.Warning("time sync failed: %v", err)
				}
			}
		}
	}()
}

// Sync measures the offset once, assuming symmetric network latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	localBefore := timeutil.NowMillis()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := timeutil.NowMillis()

	latency := (localAfter - localBefore) / 2
	localMid := localBefore + latency

	ts.mu.Lock()
	ts.offset = serverTime - localMid
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	ts.log.Debug("time sync: offset=%dms latency=%dms", serverTime-localMid, latency)
	return nil
}

// Now returns the current time in venue milliseconds.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return timeutil.NowMillis() + ts.offset
}

// Offset returns the measured clock offset.
func (ts *TimeSync) Offset() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Duration(ts.offset) * time.Millisecond
}
