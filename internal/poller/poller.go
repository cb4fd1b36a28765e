// Package poller implements the activity polling loop that runs while a
// generation request is outstanding.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/stratforge/internal/session"
	"github.com/user/stratforge/internal/types"
)

// DefaultInterval is the reference polling period.
const DefaultInterval = 500 * time.Millisecond

// ActivityFetcher fetches the current activity snapshot from the
// generation service.
type ActivityFetcher interface {
	FetchActivities(ctx context.Context) ([]types.AgentActivity, bool, error)
}

// Poller periodically fetches the activity snapshot and publishes it to
// the session store, replacing the previous snapshot. Polling is
// best-effort telemetry: a failed tick is logged and skipped, never
// surfaced to the user.
//
// The fetch runs inline in the single loop goroutine, so two fetches
// never overlap; a fetch slower than the interval simply delays
// subsequent ticks (the ticker drops missed ticks).
type Poller struct {
	fetcher  ActivityFetcher
	store    *session.Store
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Poller publishing into store. A non-positive interval
// falls back to DefaultInterval.
func New(fetcher ActivityFetcher, store *session.Store, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		store:    store,
		interval: interval,
	}
}

// Start begins the polling loop. Calling Start while the loop is
// already running is a no-op; there is at most one loop per poller.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.loop(pollCtx)
}

// Stop cancels the loop and waits for it to exit. After Stop returns,
// no further store writes can occur: a fetch that was mid-flight when
// Stop was called completes first (Stop blocks on it) and its result is
// discarded. Stop is safe to call when the poller is not running.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.cancel = nil
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	activities, _, err := p.fetcher.FetchActivities(ctx)
	if err != nil {
		slog.Debug("activity poll failed", "error", err)
		return
	}
	// Discard results that arrive after cancellation.
	if ctx.Err() != nil {
		return
	}
	p.store.SetActivities(activities)
}
