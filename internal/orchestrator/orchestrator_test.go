package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/stratforge/internal/poller"
	"github.com/user/stratforge/internal/session"
	"github.com/user/stratforge/internal/types"
	"github.com/user/stratforge/pkg/forge"
)

// fakeTransport is a scriptable Transport plus ActivityFetcher.
type fakeTransport struct {
	mu            sync.Mutex
	generateCalls int
	feedbackCalls int
	lastFeedback  forge.FeedbackRequest

	result      *types.GenerationResult
	generateErr error
	feedbackErr error

	// generateDelay holds the generate call open so poll ticks can run.
	generateDelay time.Duration

	// snapshots are served to FetchActivities in order; the last one
	// repeats once exhausted.
	snapshots  [][]types.AgentActivity
	fetchCalls atomic.Int64
}

func (f *fakeTransport) Generate(ctx context.Context, req forge.GenerateRequest) (*types.GenerationResult, error) {
	f.mu.Lock()
	f.generateCalls++
	delay := f.generateDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	result := *f.result
	return &result, nil
}

func (f *fakeTransport) SubmitFeedback(ctx context.Context, req forge.FeedbackRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedbackCalls++
	f.lastFeedback = req
	return f.feedbackErr
}

func (f *fakeTransport) FetchActivities(ctx context.Context) ([]types.AgentActivity, bool, error) {
	n := int(f.fetchCalls.Add(1)) - 1
	if len(f.snapshots) == 0 {
		return nil, true, nil
	}
	if n >= len(f.snapshots) {
		n = len(f.snapshots) - 1
	}
	return f.snapshots[n], true, nil
}

func (f *fakeTransport) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls, f.feedbackCalls
}

// fakePoller records lifecycle calls.
type fakePoller struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (p *fakePoller) Start(ctx context.Context) { p.starts.Add(1) }
func (p *fakePoller) Stop()                     { p.stops.Add(1) }

func settingsWith(key string) types.SettingsProvider {
	return types.SettingsFunc(func() types.Settings {
		return types.Settings{APIKey: key, Temperature: 0.6, MaxAttempts: 5}
	})
}

func TestSubmitPromptWithoutAPIKey(t *testing.T) {
	transport := &fakeTransport{}
	store := session.NewStore()
	p := &fakePoller{}
	o := New(transport, store, p, settingsWith(""))

	err := o.SubmitPrompt(context.Background(), "RSI scalper")
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}

	snap := store.Snapshot()
	if len(snap.Conversation) != 2 {
		t.Fatalf("expected 2 turns (user, config notice), got %d", len(snap.Conversation))
	}
	if snap.Conversation[0].Role != types.RoleUser || snap.Conversation[0].Content != "RSI scalper" {
		t.Errorf("unexpected user turn %+v", snap.Conversation[0])
	}
	if snap.Conversation[1].Role != types.RoleAssistant || snap.Conversation[1].Content != apiKeyMissingMessage {
		t.Errorf("unexpected notice turn %+v", snap.Conversation[1])
	}
	if snap.CurrentResult != nil {
		t.Error("expected no result")
	}
	if snap.LastError == "" {
		t.Error("expected lastError set")
	}
	if generates, _ := transport.counts(); generates != 0 {
		t.Errorf("transport must not be called, saw %d calls", generates)
	}
	if p.starts.Load() != 0 {
		t.Error("poller must not be started on the configuration-error path")
	}
}

func TestSubmitPromptEmpty(t *testing.T) {
	transport := &fakeTransport{}
	store := session.NewStore()
	o := New(transport, store, &fakePoller{}, settingsWith("key"))

	if err := o.SubmitPrompt(context.Background(), "   \n"); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	if len(store.Snapshot().Conversation) != 0 {
		t.Error("empty prompt must have no side effects")
	}
}

func TestSubmitPromptSuccess(t *testing.T) {
	transport := &fakeTransport{
		result: &types.GenerationResult{
			Success:      true,
			Code:         "strategy(\"Test\", overlay=true)",
			Attempts:     3,
			QualityScore: 91,
		},
	}
	store := session.NewStore()
	p := &fakePoller{}
	o := New(transport, store, p, settingsWith("key"))

	if err := o.SubmitPrompt(context.Background(), "EMA crossover"); err != nil {
		t.Fatal(err)
	}

	snap := store.Snapshot()
	if snap.Busy {
		t.Error("expected busy false after settle")
	}
	if snap.CurrentResult == nil {
		t.Fatal("expected a current result")
	}
	if snap.CurrentResult.Code != "strategy(\"Test\", overlay=true)" {
		t.Errorf("unexpected code %q", snap.CurrentResult.Code)
	}
	if snap.CurrentResult.Attempts != 3 || snap.CurrentResult.QualityScore != 91 {
		t.Errorf("telemetry not preserved: %+v", snap.CurrentResult)
	}
	if snap.FeedbackSubmitted {
		t.Error("expected feedbackSubmitted false for a fresh result")
	}
	if len(snap.Conversation) != 2 {
		t.Fatalf("expected 2 turns (user, code), got %d", len(snap.Conversation))
	}
	for _, turn := range snap.Conversation {
		if turn.Pending {
			t.Error("pending turn not removed")
		}
	}
	if p.starts.Load() != 1 || p.stops.Load() != 1 {
		t.Errorf("expected poller start/stop once each, got %d/%d", p.starts.Load(), p.stops.Load())
	}
}

func TestSubmitPromptWhileBusy(t *testing.T) {
	transport := &fakeTransport{
		result:        &types.GenerationResult{Success: true, Code: "plot(close)"},
		generateDelay: 200 * time.Millisecond,
	}
	store := session.NewStore()
	o := New(transport, store, &fakePoller{}, settingsWith("key"))

	done := make(chan error, 1)
	go func() { done <- o.SubmitPrompt(context.Background(), "first") }()

	deadline := time.After(time.Second)
	for !store.Busy() {
		select {
		case <-deadline:
			t.Fatal("first submission never became busy")
		case <-time.After(time.Millisecond):
		}
	}

	if err := o.SubmitPrompt(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	if err := <-done; err != nil {
		t.Fatal(err)
	}

	snap := store.Snapshot()
	if len(snap.Conversation) != 2 {
		t.Fatalf("rejected submission leaked turns: %d", len(snap.Conversation))
	}
	if snap.Conversation[0].Content != "first" {
		t.Errorf("unexpected conversation head %q", snap.Conversation[0].Content)
	}
	if generates, _ := transport.counts(); generates != 1 {
		t.Errorf("expected exactly 1 generate call, got %d", generates)
	}
}

func TestSubmitPromptDomainFailure(t *testing.T) {
	transport := &fakeTransport{
		result: &types.GenerationResult{Success: false, Error: "syntax error"},
	}
	store := session.NewStore()
	p := &fakePoller{}
	o := New(transport, store, p, settingsWith("key"))

	err := o.SubmitPrompt(context.Background(), "broken idea")
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DomainError, got %v", err)
	}

	snap := store.Snapshot()
	if snap.CurrentResult != nil {
		t.Error("expected no result on domain failure")
	}
	if snap.LastError != "syntax error" {
		t.Errorf("expected lastError 'syntax error', got %q", snap.LastError)
	}
	if snap.Busy {
		t.Error("busy must be reset on every exit path")
	}
	last := snap.Conversation[len(snap.Conversation)-1]
	if last.Pending || last.Role != types.RoleAssistant {
		t.Errorf("expected terminal error turn, got %+v", last)
	}
	if p.stops.Load() != 1 {
		t.Error("poller must be stopped on domain failure")
	}
}

func TestSubmitPromptTransportFailure(t *testing.T) {
	transport := &fakeTransport{
		generateErr: &forge.TransportError{Op: "generate", Message: "connection refused"},
	}
	store := session.NewStore()
	p := &fakePoller{}
	o := New(transport, store, p, settingsWith("key"))

	err := o.SubmitPrompt(context.Background(), "anything")
	var te *forge.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}

	snap := store.Snapshot()
	if snap.CurrentResult != nil {
		t.Error("expected no result on transport failure")
	}
	if snap.LastError == "" {
		t.Error("expected lastError set")
	}
	if snap.Busy {
		t.Error("busy must be reset on every exit path")
	}
	if p.stops.Load() != 1 {
		t.Error("poller must be stopped on transport failure")
	}
}

// A generate call that spans several poll
// intervals and then resolves success=false. The store must reflect the
// last snapshot polled before resolution, end with an error turn, and
// leave no result.
func TestSlowFailureKeepsLastPolledSnapshot(t *testing.T) {
	transport := &fakeTransport{
		result:        &types.GenerationResult{Success: false, Error: "syntax error"},
		generateDelay: 100 * time.Millisecond,
		snapshots: [][]types.AgentActivity{
			{{Agent: "Alpha", Status: types.ActivityRunning, Message: "planning"}},
			{{Agent: "Alpha", Status: types.ActivityCompleted, Message: "planned"}},
			{
				{Agent: "Alpha", Status: types.ActivityCompleted, Message: "planned"},
				{Agent: "Gamma", Status: types.ActivityError, Message: "syntax error"},
			},
		},
	}
	store := session.NewStore()
	p := poller.New(transport, store, 10*time.Millisecond)
	o := New(transport, store, p, settingsWith("key"))

	err := o.SubmitPrompt(context.Background(), "RSI scalper")
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DomainError, got %v", err)
	}

	snap := store.Snapshot()
	if snap.Busy {
		t.Error("expected busy false")
	}
	if snap.CurrentResult != nil {
		t.Error("expected no result")
	}
	activities := snap.Activities
	if len(activities) == 0 {
		t.Fatal("expected polled activities to be retained")
	}
	last := activities[len(activities)-1]
	if last.Agent != "Gamma" || last.Status != types.ActivityError {
		t.Errorf("expected the last polled snapshot, got %+v", activities)
	}

	// No further activity writes after settle.
	calls := transport.fetchCalls.Load()
	time.Sleep(50 * time.Millisecond)
	if transport.fetchCalls.Load() != calls {
		t.Error("poller kept fetching after the generation settled")
	}
}

func TestResultInheritsPolledActivityLog(t *testing.T) {
	transport := &fakeTransport{
		result:        &types.GenerationResult{Success: true, Code: "plot(close)"},
		generateDelay: 80 * time.Millisecond,
		snapshots: [][]types.AgentActivity{
			{{Agent: "Gamma", Status: types.ActivityCompleted, Message: "done"}},
		},
	}
	store := session.NewStore()
	p := poller.New(transport, store, 10*time.Millisecond)
	o := New(transport, store, p, settingsWith("key"))

	if err := o.SubmitPrompt(context.Background(), "momentum breakout"); err != nil {
		t.Fatal(err)
	}

	result := store.CurrentResult()
	if result == nil {
		t.Fatal("expected result")
	}
	if len(result.ActivityLog) != 1 || result.ActivityLog[0].Agent != "Gamma" {
		t.Errorf("expected polled snapshot merged into result, got %+v", result.ActivityLog)
	}
}

func TestSubmitFeedbackWithoutResult(t *testing.T) {
	transport := &fakeTransport{}
	store := session.NewStore()
	o := New(transport, store, &fakePoller{}, settingsWith("key"))

	if err := o.SubmitFeedback(context.Background(), true, ""); !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
	if _, feedbacks := transport.counts(); feedbacks != 0 {
		t.Error("feedback without a result must not call the transport")
	}
}

func TestSubmitFeedbackReasonRequired(t *testing.T) {
	transport := &fakeTransport{
		result: &types.GenerationResult{Success: true, Code: "plot(close)"},
	}
	store := session.NewStore()
	o := New(transport, store, &fakePoller{}, settingsWith("key"))
	if err := o.SubmitPrompt(context.Background(), "prompt"); err != nil {
		t.Fatal(err)
	}

	if err := o.SubmitFeedback(context.Background(), false, "  "); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	if _, feedbacks := transport.counts(); feedbacks != 0 {
		t.Error("negative feedback without a reason must not call the transport")
	}

	if err := o.SubmitFeedback(context.Background(), false, "does not plot"); err != nil {
		t.Fatal(err)
	}
	if _, feedbacks := transport.counts(); feedbacks != 1 {
		t.Errorf("expected exactly 1 feedback call, got %d", feedbacks)
	}
	if transport.lastFeedback.Reason != "does not plot" || transport.lastFeedback.Works {
		t.Errorf("unexpected feedback request %+v", transport.lastFeedback)
	}
}

// Full round trip: a fixed successful result, then positive
// feedback. feedbackSubmitted flips to true and exactly one
// acknowledgement turn is appended.
func TestGenerateThenFeedbackRoundTrip(t *testing.T) {
	transport := &fakeTransport{
		result: &types.GenerationResult{
			Success:      true,
			Code:         "strategy(\"Round Trip\")",
			Attempts:     3,
			QualityScore: 91,
		},
	}
	store := session.NewStore()
	o := New(transport, store, &fakePoller{}, settingsWith("key"))

	if err := o.SubmitPrompt(context.Background(), "round trip"); err != nil {
		t.Fatal(err)
	}
	turnsBefore := len(store.Snapshot().Conversation)

	if err := o.SubmitFeedback(context.Background(), true, ""); err != nil {
		t.Fatal(err)
	}

	snap := store.Snapshot()
	if !snap.FeedbackSubmitted {
		t.Error("expected feedbackSubmitted true")
	}
	if snap.CurrentResult.Attempts != 3 || snap.CurrentResult.QualityScore != 91 {
		t.Errorf("result fields changed by feedback: %+v", snap.CurrentResult)
	}
	if len(snap.Conversation) != turnsBefore+1 {
		t.Errorf("expected exactly one ack turn, conversation grew by %d", len(snap.Conversation)-turnsBefore)
	}
	if transport.lastFeedback.Code != "strategy(\"Round Trip\")" {
		t.Errorf("feedback must reference the stored code, got %q", transport.lastFeedback.Code)
	}
}

func TestSubmitFeedbackTransportFailure(t *testing.T) {
	transport := &fakeTransport{
		result:      &types.GenerationResult{Success: true, Code: "plot(close)"},
		feedbackErr: &forge.TransportError{Op: "feedback", Message: "service unavailable"},
	}
	store := session.NewStore()
	o := New(transport, store, &fakePoller{}, settingsWith("key"))
	if err := o.SubmitPrompt(context.Background(), "prompt"); err != nil {
		t.Fatal(err)
	}
	turnsBefore := len(store.Snapshot().Conversation)

	if err := o.SubmitFeedback(context.Background(), true, ""); err == nil {
		t.Fatal("expected error")
	}

	snap := store.Snapshot()
	if snap.FeedbackSubmitted {
		t.Error("failed feedback must not set feedbackSubmitted")
	}
	if snap.LastError == "" {
		t.Error("expected lastError set")
	}
	if len(snap.Conversation) != turnsBefore {
		t.Error("failed feedback must leave the conversation unchanged")
	}

	// The user may retry.
	transport.feedbackErr = nil
	if err := o.SubmitFeedback(context.Background(), true, ""); err != nil {
		t.Fatal(err)
	}
	if !store.Snapshot().FeedbackSubmitted {
		t.Error("retry after failure should succeed")
	}
}

type rejectAllGuard struct{}

func (rejectAllGuard) Check(string) error { return errors.New("prompt exceeds token budget") }

func TestPromptGuardRejectsBeforeAnyStateChange(t *testing.T) {
	transport := &fakeTransport{}
	store := session.NewStore()
	o := New(transport, store, &fakePoller{}, settingsWith("key"), WithPromptGuard(rejectAllGuard{}))

	if err := o.SubmitPrompt(context.Background(), "a very long prompt"); err == nil {
		t.Fatal("expected guard rejection")
	}
	if len(store.Snapshot().Conversation) != 0 {
		t.Error("guard rejection must have no side effects")
	}
	if generates, _ := transport.counts(); generates != 0 {
		t.Error("guard rejection must not call the transport")
	}
}

// A settings provider can legitimately change between submissions (the
// user removes their key while a generation runs). The late submission
// must resolve to a clean busy rejection, not append the configuration
// notice or clear the in-flight request's state.
func TestSubmitPromptWhileBusyWithEmptyKey(t *testing.T) {
	transport := &fakeTransport{
		result:        &types.GenerationResult{Success: true, Code: "plot(close)"},
		generateDelay: 200 * time.Millisecond,
	}
	store := session.NewStore()

	var key atomic.Value
	key.Store("key")
	settings := types.SettingsFunc(func() types.Settings {
		return types.Settings{APIKey: key.Load().(string), Temperature: 0.6, MaxAttempts: 5}
	})
	o := New(transport, store, &fakePoller{}, settings)

	done := make(chan error, 1)
	go func() { done <- o.SubmitPrompt(context.Background(), "first") }()

	deadline := time.After(time.Second)
	for !store.Busy() {
		select {
		case <-deadline:
			t.Fatal("first submission never became busy")
		case <-time.After(time.Millisecond):
		}
	}
	key.Store("")

	if err := o.SubmitPrompt(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	if err := <-done; err != nil {
		t.Fatal(err)
	}

	snap := store.Snapshot()
	if len(snap.Conversation) != 2 {
		t.Fatalf("rejected submission leaked turns: %d", len(snap.Conversation))
	}
	for _, turn := range snap.Conversation {
		if turn.Content == apiKeyMissingMessage {
			t.Error("configuration notice appended during a busy session")
		}
	}
	if snap.CurrentResult == nil || snap.CurrentResult.Code != "plot(close)" {
		t.Errorf("in-flight result lost: %+v", snap.CurrentResult)
	}
	if generates, _ := transport.counts(); generates != 1 {
		t.Errorf("expected exactly 1 generate call, got %d", generates)
	}
}

func TestSubmitPromptInvalidSettings(t *testing.T) {
	transport := &fakeTransport{}
	store := session.NewStore()
	settings := types.SettingsFunc(func() types.Settings {
		return types.Settings{APIKey: "key", Temperature: 5.0, MaxAttempts: 5}
	})
	o := New(transport, store, &fakePoller{}, settings)

	if err := o.SubmitPrompt(context.Background(), "prompt"); err == nil {
		t.Fatal("expected validation error")
	}
	if len(store.Snapshot().Conversation) != 0 {
		t.Error("invalid settings must have no side effects")
	}
	if generates, _ := transport.counts(); generates != 0 {
		t.Error("invalid settings must not call the transport")
	}
}
