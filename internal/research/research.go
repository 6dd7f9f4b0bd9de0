// Package research runs bounded multi-step investigations over the graph.
// A session plans a sequence of tool calls, executes them sequentially under
// its consent ceiling, and records findings and tool logs as it goes. The
// engine never mutates the entity store.
package research

import (
	"time"

	"github.com/open-justice/intervention-graph/internal/model"
)

// Status is the lifecycle state of a session. Completed and failed are
// absorbing: no plan or execution mutation is permitted after either.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session is one bounded investigation.
type Session struct {
	ID              string             `json:"id" db:"id"`
	Query           string             `json:"query" db:"query"`
	Depth           int                `json:"depth" db:"depth"`
	MaxConsentLevel model.ConsentLevel `json:"max_consent_level" db:"max_consent_level"`
	Plan            []PlanStep         `json:"plan,omitempty" db:"plan"`
	Status          Status             `json:"status" db:"status"`
	Results         string             `json:"results,omitempty" db:"results"`
	Feedback        *Feedback          `json:"feedback,omitempty" db:"feedback"`
	ErrorMessage    string             `json:"error_message,omitempty" db:"error_message"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty" db:"completed_at"`
}

// PlanStep is one planned tool invocation.
type PlanStep struct {
	Tool  string `json:"tool"`
	Query string `json:"query"`
}

// Finding is one piece of session output. Findings are ordered within a
// session and immutable once written.
type Finding struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Seq       int       `json:"seq" db:"seq"`
	Source    string    `json:"source" db:"source"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ToolLog records one tool invocation. Append-only.
type ToolLog struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Tool      string    `json:"tool" db:"tool"`
	Duration  int64     `json:"duration_ms" db:"duration_ms"`
	Success   bool      `json:"success" db:"success"`
	Error     string    `json:"error,omitempty" db:"error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Feedback is the single post-completion feedback slot on a session's
// scratchpad. Resubmitting replaces it wholesale.
type Feedback struct {
	Helpful             bool     `json:"helpful"`
	Corrections         string   `json:"corrections,omitempty"`
	AdditionalQuestions []string `json:"additional_questions,omitempty"`
}
