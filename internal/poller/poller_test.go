package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/stratforge/internal/session"
	"github.com/user/stratforge/internal/types"
)

// fakeFetcher returns canned snapshots and can block a fetch in flight.
type fakeFetcher struct {
	calls   atomic.Int64
	fail    atomic.Bool
	block   chan struct{} // when non-nil, fetch waits for a receive
	entered chan struct{} // signalled when a fetch begins
}

func (f *fakeFetcher) FetchActivities(ctx context.Context) ([]types.AgentActivity, bool, error) {
	n := f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.fail.Load() {
		return nil, false, errors.New("connection refused")
	}
	return []types.AgentActivity{
		{Agent: "Alpha", Status: types.ActivityRunning, Message: "tick", Timestamp: time.Now().Format("15:04:05")},
	}, n > 0, nil
}

func TestPollerPublishesSnapshots(t *testing.T) {
	store := session.NewStore()
	fetcher := &fakeFetcher{}
	p := New(fetcher, store, 5*time.Millisecond)

	p.Start(context.Background())
	defer p.Stop()

	deadline := time.After(time.Second)
	for len(store.Activities()) == 0 {
		select {
		case <-deadline:
			t.Fatal("poller never published a snapshot")
		case <-time.After(time.Millisecond):
		}
	}

	if store.Activities()[0].Agent != "Alpha" {
		t.Errorf("unexpected snapshot %+v", store.Activities())
	}
}

func TestPollerSwallowsTickFailures(t *testing.T) {
	store := session.NewStore()
	fetcher := &fakeFetcher{}
	fetcher.fail.Store(true)
	p := New(fetcher, store, 5*time.Millisecond)

	p.Start(context.Background())

	// Let several failing ticks elapse, then recover.
	deadline := time.After(time.Second)
	for fetcher.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("poller stopped ticking after failures")
		case <-time.After(time.Millisecond):
		}
	}
	if len(store.Activities()) != 0 {
		t.Error("failed ticks must not write to the store")
	}

	fetcher.fail.Store(false)
	deadline = time.After(time.Second)
	for len(store.Activities()) == 0 {
		select {
		case <-deadline:
			t.Fatal("poller did not recover after failures")
		case <-time.After(time.Millisecond):
		}
	}
	p.Stop()
}

func TestPollerStopDiscardsInFlightTick(t *testing.T) {
	store := session.NewStore()
	fetcher := &fakeFetcher{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	p := New(fetcher, store, time.Millisecond)

	p.Start(context.Background())

	// Wait for a fetch to be mid-flight, then stop while it is blocked.
	<-fetcher.entered

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	// Release the in-flight fetch; its (delayed) result must be discarded.
	close(fetcher.block)
	<-stopped

	if len(store.Activities()) != 0 {
		t.Error("in-flight tick resolving after Stop must not write to the store")
	}

	// And nothing may arrive later either.
	calls := fetcher.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if fetcher.calls.Load() != calls {
		t.Error("poller kept fetching after Stop returned")
	}
	if len(store.Activities()) != 0 {
		t.Error("store written after Stop returned")
	}
}

func TestPollerStartIsIdempotent(t *testing.T) {
	store := session.NewStore()
	fetcher := &fakeFetcher{}
	p := New(fetcher, store, 5*time.Millisecond)

	ctx := context.Background()
	p.Start(ctx)
	p.Start(ctx) // no-op: at most one loop
	defer p.Stop()

	time.Sleep(30 * time.Millisecond)
	p.Stop()
	calls := fetcher.calls.Load()

	// A second loop would roughly double the tick rate; allow generous
	// slack but catch duplication.
	if calls > 12 {
		t.Errorf("tick count %d suggests more than one polling loop", calls)
	}
}

func TestPollerStopWithoutStart(t *testing.T) {
	p := New(&fakeFetcher{}, session.NewStore(), time.Millisecond)
	p.Stop() // must not panic or block
}

func TestPollerRestartAfterStop(t *testing.T) {
	store := session.NewStore()
	fetcher := &fakeFetcher{}
	p := New(fetcher, store, time.Millisecond)

	p.Start(context.Background())
	p.Stop()

	before := fetcher.calls.Load()
	p.Start(context.Background())
	defer p.Stop()

	deadline := time.After(time.Second)
	for fetcher.calls.Load() == before {
		select {
		case <-deadline:
			t.Fatal("poller did not restart after Stop")
		case <-time.After(time.Millisecond):
		}
	}
}
