package research

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/open-justice/intervention-graph/internal/model"
)

// SQLiteStore implements Store on a local SQLite file for offline research
// runs. It mirrors the Postgres schema with SQLite types.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a SQLite-backed store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "research: open sqlite %s", path)
	}
	// Sequential session execution; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS research_sessions (
	id                TEXT PRIMARY KEY,
	query             TEXT NOT NULL,
	depth             INTEGER NOT NULL DEFAULT 1,
	max_consent_level TEXT NOT NULL DEFAULT 'public_knowledge_commons',
	plan              TEXT NOT NULL DEFAULT '[]',
	status            TEXT NOT NULL DEFAULT 'pending',
	results           TEXT NOT NULL DEFAULT '',
	scratchpad        TEXT NOT NULL DEFAULT '{}',
	error_message     TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL,
	completed_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS research_findings (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	source     TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (session_id, seq)
);

CREATE TABLE IF NOT EXISTS research_tool_logs (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	tool        TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	success     INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS session_leases (
	session_id TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
`

// Migrate creates the research tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "research: migrate sqlite")
}

// CreateSession inserts a new session in pending status.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_sessions (id, query, depth, max_consent_level, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'pending', ?, ?)`,
		sess.ID, sess.Query, sess.Depth, string(sess.MaxConsentLevel), sess.CreatedAt, sess.UpdatedAt,
	)
	return eris.Wrapf(err, "research: create session %s", sess.ID)
}

// GetSession returns one session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, query, depth, max_consent_level, plan, status, results,
			scratchpad, error_message, created_at, updated_at, completed_at
		 FROM research_sessions WHERE id = ?`, id)

	var sess Session
	var level, status, planJSON, scratchJSON string
	var completedAt sql.NullTime
	err := row.Scan(
		&sess.ID, &sess.Query, &sess.Depth, &level, &planJSON, &status,
		&sess.Results, &scratchJSON, &sess.ErrorMessage,
		&sess.CreatedAt, &sess.UpdatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.NewNotFoundError("research session", id)
		}
		return nil, eris.Wrapf(err, "research: get session %s", id)
	}
	sess.MaxConsentLevel = model.ConsentLevel(level)
	sess.Status = Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(planJSON), &sess.Plan); err != nil {
		return nil, eris.Wrap(err, "research: unmarshal plan")
	}
	var scratch struct {
		Feedback *Feedback `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(scratchJSON), &scratch); err != nil {
		return nil, eris.Wrap(err, "research: unmarshal scratchpad")
	}
	sess.Feedback = scratch.Feedback
	return &sess, nil
}

// ListSessions returns sessions newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM research_sessions ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "research: list sessions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "research: scan session id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, nil
}

// MarkPlanning transitions pending -> planning.
func (s *SQLiteStore) MarkPlanning(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		`UPDATE research_sessions SET status = 'planning', updated_at = ?
		 WHERE id = ? AND status = 'pending'`)
}

// RecordPlan stores the generated plan while the session is planning.
func (s *SQLiteStore) RecordPlan(ctx context.Context, id string, plan []PlanStep) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "research: marshal plan")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_sessions SET plan = ?, updated_at = ?
		 WHERE id = ? AND status = 'planning'`,
		string(planJSON), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "research: record plan %s", id)
	}
	return s.checkAffected(ctx, id, res)
}

// MarkExecuting transitions planning -> executing.
func (s *SQLiteStore) MarkExecuting(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		`UPDATE research_sessions SET status = 'executing', updated_at = ?
		 WHERE id = ? AND status = 'planning'`)
}

// MarkCompleted transitions executing -> completed and records results.
func (s *SQLiteStore) MarkCompleted(ctx context.Context, id, results string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_sessions SET status = 'completed', results = ?,
			updated_at = ?, completed_at = ?
		 WHERE id = ? AND status = 'executing'`, results, now, now, id)
	if err != nil {
		return eris.Wrapf(err, "research: complete session %s", id)
	}
	return s.checkAffected(ctx, id, res)
}

// MarkFailed transitions any non-terminal status to failed.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id, errorMessage string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_sessions SET status = 'failed', error_message = ?,
			updated_at = ?, completed_at = ?
		 WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		errorMessage, now, now, id)
	if err != nil {
		return eris.Wrapf(err, "research: fail session %s", id)
	}
	return s.checkAffected(ctx, id, res)
}

// AppendFinding writes one immutable finding.
func (s *SQLiteStore) AppendFinding(ctx context.Context, f *Finding) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_findings (id, session_id, seq, source, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.SessionID, f.Seq, f.Source, f.Content, f.CreatedAt,
	)
	return eris.Wrapf(err, "research: append finding for %s", f.SessionID)
}

// ListFindings returns a session's findings in order.
func (s *SQLiteStore) ListFindings(ctx context.Context, sessionID string) ([]Finding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, seq, source, content, created_at
		 FROM research_findings WHERE session_id = ? ORDER BY seq`, sessionID)
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
func (s *SQLiteStore) AppendToolLog(ctx context.Context, l *ToolLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_tool_logs (id, session_id, tool, duration_ms, success, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.SessionID, l.Tool, l.Duration, l.Success, l.Error, l.CreatedAt,
	)
	return eris.Wrapf(err, "research: append tool log for %s", l.SessionID)
}

// ListToolLogs returns a session's tool logs in invocation order.
func (s *SQLiteStore) ListToolLogs(ctx context.Context, sessionID string) ([]ToolLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tool, duration_ms, success, error, created_at
		 FROM research_tool_logs WHERE session_id = ? ORDER BY created_at, id`, sessionID)
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

// SetFeedback overwrites the feedback slot of a terminal session.
func (s *SQLiteStore) SetFeedback(ctx context.Context, sessionID string, fb Feedback) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Status.Terminal() {
		return model.NewConflictError("research session", sessionID,
			fmt.Sprintf("feedback requires a terminal session, status is %s", sess.Status))
	}

	scratch := map[string]any{"feedback": fb}
	scratchJSON, err := json.Marshal(scratch)
	if err != nil {
		return eris.Wrap(err, "research: marshal feedback")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE research_sessions SET scratchpad = ?, updated_at = ? WHERE id = ?`,
		string(scratchJSON), time.Now().UTC(), sessionID)
	return eris.Wrapf(err, "research: set feedback %s", sessionID)
}

// AcquireLease claims the session lease, taking over expired leases and
// renewing a lease the holder already owns.
func (s *SQLiteStore) AcquireLease(ctx context.Context, sessionID, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO session_leases (session_id, holder, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		 WHERE session_leases.expires_at < ? OR session_leases.holder = excluded.holder`,
		sessionID, holder, now.Add(ttl), now)
	if err != nil {
		return false, eris.Wrapf(err, "research: acquire lease %s", sessionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "research: lease rows affected")
	}
	return n > 0, nil
}

// ReleaseLease drops the lease if holder still owns it.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, sessionID, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_leases WHERE session_id = ? AND holder = ?`,
		sessionID, holder)
	return eris.Wrapf(err, "research: release lease %s", sessionID)
}

func (s *SQLiteStore) transition(ctx context.Context, id, query string) error {
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "research: transition session %s", id)
	}
	return s.checkAffected(ctx, id, res)
}

func (s *SQLiteStore) checkAffected(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "research: rows affected")
	}
	if n == 0 {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		return model.NewConflictError("research session", id,
			fmt.Sprintf("unexpected status %s", sess.Status))
	}
	return nil
}
