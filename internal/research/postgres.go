package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/open-justice/intervention-graph/internal/db"
	"github.com/open-justice/intervention-graph/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const researchMigration = `
CREATE TABLE IF NOT EXISTS research_sessions (
	id                TEXT PRIMARY KEY,
	query             TEXT NOT NULL,
	depth             INTEGER NOT NULL DEFAULT 1,
	max_consent_level TEXT NOT NULL DEFAULT 'public_knowledge_commons',
	plan              JSONB NOT NULL DEFAULT '[]',
	status            TEXT NOT NULL DEFAULT 'pending',
	results           TEXT NOT NULL DEFAULT '',
	scratchpad        JSONB NOT NULL DEFAULT '{}',
	error_message     TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS research_findings (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES research_sessions(id),
	seq        INTEGER NOT NULL,
	source     TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (session_id, seq)
);

CREATE TABLE IF NOT EXISTS research_tool_logs (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES research_sessions(id),
	tool        TEXT NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	success     BOOLEAN NOT NULL DEFAULT false,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS session_leases (
	session_id TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_research_findings_session ON research_findings(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_research_tool_logs_session ON research_tool_logs(session_id, created_at);
`

// Migrate creates the research tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, researchMigration)
	return eris.Wrap(err, "research: migrate")
}

const sessionColumns = `id, query, depth, max_consent_level, plan, status, results,
	scratchpad, error_message, created_at, updated_at, completed_at`

// CreateSession inserts a new session in pending status.
func (s *PostgresStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.Query == "" {
		return model.NewValidationError("query", "must not be empty")
	}
	if sess.Depth <= 0 {
		sess.Depth = 1
	}
	if sess.MaxConsentLevel == "" {
		sess.MaxConsentLevel = model.ConsentPublicCommons
	}
	if _, err := model.ParseConsentLevel(string(sess.MaxConsentLevel)); err != nil {
		return model.NewValidationError("max_consent_level", "unknown level")
	}
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	sess.Status = StatusPending
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_sessions (id, query, depth, max_consent_level, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'pending', $5, $6)`,
		sess.ID, sess.Query, sess.Depth, string(sess.MaxConsentLevel), sess.CreatedAt, sess.UpdatedAt,
	)
	return eris.Wrapf(err, "research: create session %s", sess.ID)
}

// GetSession returns one session by id.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM research_sessions WHERE id = $1`, sessionColumns), id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError("research session", id)
		}
		return nil, eris.Wrapf(err, "research: get session %s", id)
	}
	return sess, nil
}

// ListSessions returns sessions newest first.
func (s *PostgresStore) ListSessions(ctx context.Context, limit, offset int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM research_sessions ORDER BY created_at DESC LIMIT $1 OFFSET $2`, sessionColumns),
		limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "research: list sessions")
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "research: scan session")
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// MarkPlanning transitions pending -> planning.
func (s *PostgresStore) MarkPlanning(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		`UPDATE research_sessions SET status = 'planning', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`)
}

// RecordPlan stores the generated plan while the session is planning.
func (s *PostgresStore) RecordPlan(ctx context.Context, id string, plan []PlanStep) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "research: marshal plan")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_sessions SET plan = $2, updated_at = now()
		 WHERE id = $1 AND status = 'planning'`, id, planJSON)
	if err != nil {
		return eris.Wrapf(err, "research: record plan %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id)
	}
	return nil
}

// MarkExecuting transitions planning -> executing.
func (s *PostgresStore) MarkExecuting(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		`UPDATE research_sessions SET status = 'executing', updated_at = now()
		 WHERE id = $1 AND status = 'planning'`)
}

// MarkCompleted transitions executing -> completed and records results.
func (s *PostgresStore) MarkCompleted(ctx context.Context, id, results string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_sessions SET status = 'completed', results = $2,
			updated_at = now(), completed_at = now()
		 WHERE id = $1 AND status = 'executing'`, id, results)
	if err != nil {
		return eris.Wrapf(err, "research: complete session %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id)
	}
	return nil
}

// MarkFailed transitions any non-terminal status to failed.
func (s *PostgresStore) MarkFailed(ctx context.Context, id, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_sessions SET status = 'failed', error_message = $2,
			updated_at = now(), completed_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`, id, errorMessage)
	if err != nil {
		return eris.Wrapf(err, "research: fail session %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id)
	}
	return nil
}

// AppendFinding writes one immutable finding.
func (s *PostgresStore) AppendFinding(ctx context.Context, f *Finding) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_findings (id, session_id, seq, source, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.SessionID, f.Seq, f.Source, f.Content, f.CreatedAt,
	)
	return eris.Wrapf(err, "research: append finding for %s", f.SessionID)
}

// ListFindings returns a session's findings in order.
func (s *PostgresStore) ListFindings(ctx context.Context, sessionID string) ([]Finding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, seq, source, content, created_at
		 FROM research_findings WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "research: list findings for %s", sessionID)
	}
	defer rows.Close()

	var out []Finding
	for rows.Next() {
		var f Finding
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Seq, &f.Source, &f.Content, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "research: scan finding")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AppendToolLog writes one tool log entry.
func (s *PostgresStore) AppendToolLog(ctx context.Context, l *ToolLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_tool_logs (id, session_id, tool, duration_ms, success, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.SessionID, l.Tool, l.Duration, l.Success, l.Error, l.CreatedAt,
	)
	return eris.Wrapf(err, "research: append tool log for %s", l.SessionID)
}

// ListToolLogs returns a session's tool logs in invocation order.
func (s *PostgresStore) ListToolLogs(ctx context.Context, sessionID string) ([]ToolLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, tool, duration_ms, success, error, created_at
		 FROM research_tool_logs WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "research: list tool logs for %s", sessionID)
	}
	defer rows.Close()

	var out []ToolLog
	for rows.Next() {
		var l ToolLog
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Tool, &l.Duration, &l.Success, &l.Error, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "research: scan tool log")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetFeedback overwrites the feedback slot in the scratchpad of a terminal
// session.
func (s *PostgresStore) SetFeedback(ctx context.Context, sessionID string, fb Feedback) error {
	fbJSON, err := json.Marshal(fb)
	if err != nil {
		return eris.Wrap(err, "research: marshal feedback")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_sessions SET scratchpad = jsonb_set(scratchpad, '{feedback}', $2::jsonb),
			updated_at = now()
		 WHERE id = $1 AND status IN ('completed', 'failed')`, sessionID, fbJSON)
	if err != nil {
		return eris.Wrapf(err, "research: set feedback %s", sessionID)
	}
	if tag.RowsAffected() == 0 {
		sess, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		return model.NewConflictError("research session", sessionID,
			fmt.Sprintf("feedback requires a terminal session, status is %s", sess.Status))
	}
	return nil
}

// AcquireLease claims the session lease, taking over expired leases and
// renewing a lease the holder already owns.
func (s *PostgresStore) AcquireLease(ctx context.Context, sessionID, holder string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO session_leases (session_id, holder, expires_at)
		 VALUES ($1, $2, now() + make_interval(secs => $3))
		 ON CONFLICT (session_id) DO UPDATE
		 SET holder = $2, expires_at = now() + make_interval(secs => $3)
		 WHERE session_leases.expires_at < now() OR session_leases.holder = $2`,
		sessionID, holder, ttl.Seconds())
	if err != nil {
		return false, eris.Wrapf(err, "research: acquire lease %s", sessionID)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseLease drops the lease if holder still owns it.
func (s *PostgresStore) ReleaseLease(ctx context.Context, sessionID, holder string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM session_leases WHERE session_id = $1 AND holder = $2`,
		sessionID, holder)
	return eris.Wrapf(err, "research: release lease %s", sessionID)
}

func (s *PostgresStore) transition(ctx context.Context, id, sql string) error {
	tag, err := s.pool.Exec(ctx, sql, id)
	if err != nil {
		return eris.Wrapf(err, "research: transition session %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id)
	}
	return nil
}

func (s *PostgresStore) transitionFailure(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return model.NewConflictError("research session", id,
		fmt.Sprintf("unexpected status %s", sess.Status))
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	var level string
	var status string
	var planJSON, scratchJSON []byte
	if err := row.Scan(
		&sess.ID, &sess.Query, &sess.Depth, &level, &planJSON, &status,
		&sess.Results, &scratchJSON, &sess.ErrorMessage,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.CompletedAt,
	); err != nil {
		return nil, err
	}
	sess.MaxConsentLevel = model.ConsentLevel(level)
	sess.Status = Status(status)
	if len(planJSON) > 0 {
		if err := json.Unmarshal(planJSON, &sess.Plan); err != nil {
			return nil, eris.Wrap(err, "research: unmarshal plan")
		}
	}
	if len(scratchJSON) > 0 {
		var scratch struct {
			Feedback *Feedback `json:"feedback"`
		}
		if err := json.Unmarshal(scratchJSON, &scratch); err != nil {
			return nil, eris.Wrap(err, "research: unmarshal scratchpad")
		}
		sess.Feedback = scratch.Feedback
	}
	return &sess, nil
}
