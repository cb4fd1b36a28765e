// Package session holds the client-side state for one generation
// workflow: the ordered conversation, the latest generation result, the
// latest activity snapshot, and the transient flags around them.
//
// The store is the only shared mutable state in the system. It is
// mutated exclusively by the orchestrator and the activity poller;
// presentation code reads immutable snapshots and is notified of
// changes through Subscribe.
package session

import (
	"errors"
	"sync"

	"github.com/user/stratforge/internal/types"
)

// ErrBusy is returned when a generation is requested while another one
// is still outstanding. Submissions are rejected, never queued.
var ErrBusy = errors.New("a generation is already in progress")

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	Conversation      []types.ConversationTurn
	CurrentResult     *types.GenerationResult
	Activities        []types.AgentActivity
	Busy              bool
	LastError         string
	FeedbackSubmitted bool
}

// Store serializes all session mutations behind one mutex, reproducing
// the single-writer discipline of an event loop on a multi-threaded
// platform.
type Store struct {
	mu                sync.RWMutex
	conversation      []types.ConversationTurn
	currentResult     *types.GenerationResult
	activities        []types.AgentActivity
	busy              bool
	lastError         string
	feedbackSubmitted bool

	subMu   sync.RWMutex
	subs    map[int]chan struct{}
	nextSub int
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		subs: make(map[int]chan struct{}),
	}
}

// Subscribe registers for change notifications. Every mutation signals
// the returned channel (coalesced; the channel has a buffer of one).
// The returned cancel function unregisters the subscriber.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// notify signals all subscribers without blocking. A subscriber that
// has not drained its channel keeps the single pending signal.
func (s *Store) notify() {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Snapshot returns a copy of the current state. The returned slices and
// result are owned by the caller.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Conversation:      make([]types.ConversationTurn, len(s.conversation)),
		Activities:        make([]types.AgentActivity, len(s.activities)),
		Busy:              s.busy,
		LastError:         s.lastError,
		FeedbackSubmitted: s.feedbackSubmitted,
	}
	copy(snap.Conversation, s.conversation)
	copy(snap.Activities, s.activities)
	if s.currentResult != nil {
		result := *s.currentResult
		snap.CurrentResult = &result
	}
	return snap
}

// Busy reports whether a generation call is outstanding.
func (s *Store) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy
}

// LastError returns the most recent user-facing error message, or "".
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// CurrentResult returns a copy of the current generation result, or nil.
func (s *Store) CurrentResult() *types.GenerationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentResult == nil {
		return nil
	}
	result := *s.currentResult
	return &result
}

// Activities returns a copy of the latest activity snapshot.
func (s *Store) Activities() []types.AgentActivity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.AgentActivity, len(s.activities))
	copy(out, s.activities)
	return out
}

// BeginGeneration atomically claims the session for a new generation
// request. While a request is outstanding it fails with ErrBusy and has
// no side effects. On success it clears the previous result, error,
// feedback flag, and activity snapshot, appends the user turn and the
// pending assistant turn, and marks the session busy.
func (s *Store) BeginGeneration(userTurn, pendingTurn types.ConversationTurn) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.currentResult = nil
	s.lastError = ""
	s.feedbackSubmitted = false
	s.activities = nil
	s.conversation = append(s.conversation, userTurn, pendingTurn)
	s.busy = true
	s.mu.Unlock()

	s.notify()
	return nil
}

// RejectUnconfigured records a submission that halted before reaching
// the transport because no API key is configured: the user turn plus an
// instructional assistant turn, with lastError set. It also clears any
// stale result, matching the start-of-submission reset. Like
// BeginGeneration it returns ErrBusy, with no state change at all,
// while a generation is outstanding: the in-flight request owns the
// session until it settles.
func (s *Store) RejectUnconfigured(userTurn, noticeTurn types.ConversationTurn, message string) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.currentResult = nil
	s.feedbackSubmitted = false
	s.conversation = append(s.conversation, userTurn, noticeTurn)
	s.lastError = message
	s.mu.Unlock()

	s.notify()
	return nil
}

// ResolvePending settles the outstanding request: it removes the pending
// turn with the given ID, appends the terminal turn, stores the result
// (nil on failure paths), records the error message ("" on success),
// and clears the busy flag. It returns false, with no state change, if
// the pending turn has already been resolved; the pending-to-removed
// transition happens at most once.
func (s *Store) ResolvePending(pendingID types.TurnID, finalTurn types.ConversationTurn, result *types.GenerationResult, errMessage string) bool {
	s.mu.Lock()

	idx := -1
	for i, turn := range s.conversation {
		if turn.ID == pendingID && turn.Pending {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	s.conversation = append(s.conversation[:idx], s.conversation[idx+1:]...)
	s.conversation = append(s.conversation, finalTurn)
	s.currentResult = result
	s.feedbackSubmitted = false
	s.lastError = errMessage
	s.busy = false
	s.mu.Unlock()

	s.notify()
	return true
}

// SetActivities replaces the activity snapshot wholesale. Snapshots are
// last-received-wins; no merging is attempted.
func (s *Store) SetActivities(activities []types.AgentActivity) {
	s.mu.Lock()
	s.activities = activities
	s.mu.Unlock()

	s.notify()
}

// MarkFeedbackSubmitted records a successful feedback submission and
// appends the acknowledgement turn.
func (s *Store) MarkFeedbackSubmitted(ackTurn types.ConversationTurn) {
	s.mu.Lock()
	s.feedbackSubmitted = true
	s.conversation = append(s.conversation, ackTurn)
	s.mu.Unlock()

	s.notify()
}

// SetLastError records a user-facing error without touching the
// conversation (used for failed feedback submissions, which the user
// may retry).
func (s *Store) SetLastError(message string) {
	s.mu.Lock()
	s.lastError = message
	s.mu.Unlock()

	s.notify()
}
