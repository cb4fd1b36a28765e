// internal/types/models.go
package types

import (
	"fmt"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message in the session conversation.
// Turns are append-only: a turn is never edited after creation, except
// that a pending turn is removed (not mutated) once its request settles.
type ConversationTurn struct {
	ID        TurnID    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Pending   bool      `json:"pending,omitempty"`
}

// NewUserTurn creates a turn for a submitted prompt.
func NewUserTurn(content string) ConversationTurn {
	return ConversationTurn{
		ID:        NewTurnID(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewPendingTurn creates the placeholder assistant turn that stands in
// for an outstanding generation request.
func NewPendingTurn() ConversationTurn {
	return ConversationTurn{
		ID:        NewTurnID(),
		Role:      RoleAssistant,
		Content:   "Generating strategy script...",
		CreatedAt: time.Now(),
		Pending:   true,
	}
}

// NewCodeTurn creates the terminal assistant turn embedding generated code.
func NewCodeTurn(code string) ConversationTurn {
	return ConversationTurn{
		ID:        NewTurnID(),
		Role:      RoleAssistant,
		Content:   fmt.Sprintf("Here is your strategy script:\n\n```pine\n%s\n```", code),
		CreatedAt: time.Now(),
	}
}

// NewErrorTurn creates a terminal assistant turn carrying a failure message.
func NewErrorTurn(message string) ConversationTurn {
	return ConversationTurn{
		ID:        NewTurnID(),
		Role:      RoleAssistant,
		Content:   "Generation failed: " + message,
		CreatedAt: time.Now(),
	}
}

// NewAssistantTurn creates a plain assistant turn (configuration notices,
// feedback acknowledgements).
func NewAssistantTurn(content string) ConversationTurn {
	return ConversationTurn{
		ID:        NewTurnID(),
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// ActivityStatus is the lifecycle state of one agent activity entry.
// It is terminal once it leaves "running".
type ActivityStatus string

const (
	ActivityRunning   ActivityStatus = "running"
	ActivityCompleted ActivityStatus = "completed"
	ActivityError     ActivityStatus = "error"
)

// AgentActivity is one entry in the service's activity feed. Timestamp
// is provider-supplied display text; it is not assumed monotonic or
// parseable.
type AgentActivity struct {
	Agent     string         `json:"agent"`
	Status    ActivityStatus `json:"status"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
}

// GenerationResult is the outcome of one completed generation call.
// Code is present iff Success is true; Error is present iff it is false.
type GenerationResult struct {
	Success              bool            `json:"success"`
	Code                 string          `json:"code,omitempty"`
	Error                string          `json:"error,omitempty"`
	Attempts             int             `json:"attempts,omitempty"`
	QualityScore         float64         `json:"quality_score,omitempty"`
	ExecutionTimeSeconds float64         `json:"execution_time,omitempty"`
	ActivityLog          []AgentActivity `json:"activities,omitempty"`
}

// Settings are the user-configured generation parameters, supplied by an
// external configuration collaborator and read-only to the core.
type Settings struct {
	APIKey      string  `json:"api_key"`
	Temperature float64 `json:"temperature"`
	MaxAttempts int     `json:"max_attempts"`
}

// Validate checks that the tunable parameters are within their domains.
// An empty APIKey is legal here; it means "unconfigured" and is handled
// by the orchestrator, not treated as a validation failure.
func (s Settings) Validate() error {
	if s.Temperature < 0.1 || s.Temperature > 1.0 {
		return fmt.Errorf("temperature %.2f out of range [0.1, 1.0]", s.Temperature)
	}
	if s.MaxAttempts < 1 || s.MaxAttempts > 15 {
		return fmt.Errorf("max_attempts %d out of range [1, 15]", s.MaxAttempts)
	}
	return nil
}

// SettingsProvider supplies the current Settings on each submission.
// Implementations must be safe for concurrent reads.
type SettingsProvider interface {
	Settings() Settings
}

// SettingsFunc adapts a function to the SettingsProvider interface.
type SettingsFunc func() Settings

func (f SettingsFunc) Settings() Settings { return f() }

// ServiceStatus is the informational snapshot returned by the remote
// service's status endpoint.
type ServiceStatus struct {
	Status        string `json:"status"`
	IsGenerating  bool   `json:"isGenerating"`
	ActivityCount int    `json:"activityCount,omitempty"`
}
