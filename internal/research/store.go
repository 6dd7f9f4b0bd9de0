package research

import (
	"context"
	"time"
)

// Store persists sessions, findings, tool logs, and execution leases.
// Status transition methods are compare-and-set on the expected current
// status; a transition from any other status returns a conflict error, or
// not-found when the session is unknown.
type Store interface {
	Migrate(ctx context.Context) error

	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]Session, error)

	MarkPlanning(ctx context.Context, id string) error
	RecordPlan(ctx context.Context, id string, plan []PlanStep) error
	MarkExecuting(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, results string) error
	// MarkFailed transitions from any non-terminal status.
	MarkFailed(ctx context.Context, id, errorMessage string) error

	AppendFinding(ctx context.Context, f *Finding) error
	ListFindings(ctx context.Context, sessionID string) ([]Finding, error)
	AppendToolLog(ctx context.Context, l *ToolLog) error
	ListToolLogs(ctx context.Context, sessionID string) ([]ToolLog, error)

	// SetFeedback overwrites the single feedback slot. Allowed only once the
	// session is terminal; it never changes status.
	SetFeedback(ctx context.Context, sessionID string, fb Feedback) error

	// AcquireLease claims the session for holder until now+ttl. It succeeds
	// when no lease exists, the lease is expired, or holder already owns it.
	AcquireLease(ctx context.Context, sessionID, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, sessionID, holder string) error
}
