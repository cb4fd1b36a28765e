// Package orchestrator ties the transport client, session store, and
// activity poller into the generation-session state machine: it
// validates submissions, emits conversation turns, runs the polling
// loop for the lifetime of each request, reconciles the final result,
// and drives feedback submission.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/stratforge/internal/session"
	"github.com/user/stratforge/internal/types"
	"github.com/user/stratforge/pkg/forge"
)

// apiKeyMissingMessage is the fixed instructional notice shown when a
// prompt is submitted without a configured API key.
const apiKeyMissingMessage = "Please add an API key to your settings before generating scripts."

// feedbackAckMessage acknowledges recorded feedback in the conversation.
const feedbackAckMessage = "Thanks! Your feedback has been recorded."

var (
	// ErrBusy mirrors session.ErrBusy for callers of this package.
	ErrBusy = session.ErrBusy
	// ErrEmptyPrompt rejects blank submissions before any state change.
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrNoAPIKey marks the configuration-error path: the submission
	// halted locally and never reached the transport.
	ErrNoAPIKey = errors.New("no API key configured")
	// ErrNoResult rejects feedback when there is no generated code to
	// give feedback on.
	ErrNoResult = errors.New("no generation result to give feedback on")
	// ErrReasonRequired rejects negative feedback with no reason.
	ErrReasonRequired = errors.New("a reason is required when reporting that a script does not work")
)

// DomainError is a generation that completed with a failure outcome: a
// valid response envelope carrying success=false. It is displayed to
// the user the same way as a transport failure but is a distinct case.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string { return e.Message }

// Transport is the slice of the service client the orchestrator uses on
// its core path.
type Transport interface {
	Generate(ctx context.Context, req forge.GenerateRequest) (*types.GenerationResult, error)
	SubmitFeedback(ctx context.Context, req forge.FeedbackRequest) error
}

// Poller runs the activity polling loop while a generation is in
// flight. Stop must guarantee no store writes after it returns.
type Poller interface {
	Start(ctx context.Context)
	Stop()
}

// PromptGuard validates a prompt before submission (e.g. a token-budget
// check). A guard error rejects the submission with no side effects.
type PromptGuard interface {
	Check(prompt string) error
}

// Orchestrator is the generation-session state machine. Its methods are
// safe for concurrent use; the exactly-one-outstanding-generation
// invariant is enforced atomically by the session store.
type Orchestrator struct {
	transport Transport
	store     *session.Store
	poller    Poller
	settings  types.SettingsProvider
	guard     PromptGuard
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPromptGuard installs a pre-submission prompt check.
func WithPromptGuard(g PromptGuard) Option {
	return func(o *Orchestrator) { o.guard = g }
}

// New creates an Orchestrator.
func New(transport Transport, store *session.Store, p Poller, settings types.SettingsProvider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport: transport,
		store:     store,
		poller:    p,
		settings:  settings,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Store exposes the session store for presentation-layer reads.
func (o *Orchestrator) Store() *session.Store { return o.store }

// SubmitPrompt runs one generation request to completion. It blocks
// until the request settles; every failure is converted into session
// state (conversation turn plus lastError) before being returned, so
// callers may ignore the error and render the store instead.
//
// A submission while another request is outstanding returns ErrBusy
// with no side effects. A submission without a configured API key
// appends the instructional notice and returns ErrNoAPIKey without
// touching the transport or the poller.
func (o *Orchestrator) SubmitPrompt(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}
	if o.guard != nil {
		if err := o.guard.Check(prompt); err != nil {
			return fmt.Errorf("prompt rejected: %w", err)
		}
	}

	settings := o.settings.Settings()

	if settings.APIKey == "" {
		// Configuration error, not a service failure: never reaches the
		// transport and never starts the poller. The store refuses the
		// notice while a generation is outstanding, so a concurrent
		// submission still resolves to a clean ErrBusy.
		if err := o.store.RejectUnconfigured(
			types.NewUserTurn(prompt),
			types.NewAssistantTurn(apiKeyMissingMessage),
			ErrNoAPIKey.Error(),
		); err != nil {
			return err
		}
		slog.Warn("generation rejected", "reason", "no API key configured")
		return ErrNoAPIKey
	}

	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	pendingTurn := types.NewPendingTurn()
	if err := o.store.BeginGeneration(types.NewUserTurn(prompt), pendingTurn); err != nil {
		return err
	}

	o.poller.Start(ctx)
	slog.Info("generation started", "prompt_len", len(prompt), "temperature", settings.Temperature, "max_attempts", settings.MaxAttempts)

	result, err := o.transport.Generate(ctx, forge.GenerateRequest{
		Prompt:      prompt,
		APIKey:      settings.APIKey,
		Temperature: settings.Temperature,
		MaxAttempts: settings.MaxAttempts,
	})

	// Stop before resolving so the stored activity snapshot is final:
	// the terminal response takes precedence over any later tick.
	o.poller.Stop()

	if err != nil {
		slog.Error("generation failed", "error", err)
		o.store.ResolvePending(pendingTurn.ID, types.NewErrorTurn(err.Error()), nil, err.Error())
		return err
	}

	if !result.Success {
		message := result.Error
		if message == "" {
			message = "generation failed"
		}
		slog.Warn("generation unsuccessful", "error", message, "attempts", result.Attempts)
		o.store.ResolvePending(pendingTurn.ID, types.NewErrorTurn(message), nil, message)
		return &DomainError{Message: message}
	}

	// The final result owns the activity log; fall back to the last
	// polled snapshot when the envelope did not carry one.
	if len(result.ActivityLog) == 0 {
		result.ActivityLog = o.store.Activities()
	}

	slog.Info("generation succeeded", "attempts", result.Attempts, "quality_score", result.QualityScore)
	o.store.ResolvePending(pendingTurn.ID, types.NewCodeTurn(result.Code), result, "")
	return nil
}

// SubmitFeedback reports whether the current generated script works.
// It is a local no-op (no transport call) when there is no current
// result or when works=false arrives without a reason. A transport
// failure sets lastError and leaves the conversation unchanged so the
// user can retry.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, works bool, reason string) error {
	result := o.store.CurrentResult()
	if result == nil || result.Code == "" {
		return ErrNoResult
	}
	if !works && strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}

	err := o.transport.SubmitFeedback(ctx, forge.FeedbackRequest{
		Code:   result.Code,
		Works:  works,
		Reason: reason,
	})
	if err != nil {
		slog.Error("feedback submission failed", "error", err)
		o.store.SetLastError(err.Error())
		return err
	}

	slog.Info("feedback submitted", "works", works)
	o.store.MarkFeedbackSubmitted(types.NewAssistantTurn(feedbackAckMessage))
	return nil
}
