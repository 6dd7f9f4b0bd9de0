package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
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

const entityMigration = `
CREATE TABLE IF NOT EXISTS interventions (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	type               TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	evidence_level     TEXT NOT NULL DEFAULT 'untested',
	current_funding    TEXT NOT NULL DEFAULT 'unfunded',
	consent_level      TEXT NOT NULL DEFAULT 'unset',
	cultural_authority BOOLEAN NOT NULL DEFAULT false,
	geography          TEXT[] NOT NULL DEFAULT '{}',
	latitude           DOUBLE PRECISION,
	longitude          DOUBLE PRECISION,
	ext                JSONB NOT NULL DEFAULT '{}',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS evidence (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	source_url   TEXT NOT NULL DEFAULT '',
	source_title TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outcomes (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS community_contexts (
	id         TEXT PRIMARY KEY,
	community  TEXT NOT NULL,
	needs      TEXT NOT NULL DEFAULT '',
	assets     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS intervention_evidence (
	intervention_id TEXT NOT NULL REFERENCES interventions(id),
	evidence_id     TEXT NOT NULL REFERENCES evidence(id),
	PRIMARY KEY (intervention_id, evidence_id)
);

CREATE TABLE IF NOT EXISTS intervention_outcomes (
	intervention_id TEXT NOT NULL REFERENCES interventions(id),
	outcome_id      TEXT NOT NULL REFERENCES outcomes(id),
	PRIMARY KEY (intervention_id, outcome_id)
);

CREATE TABLE IF NOT EXISTS article_evidence (
	article_id     TEXT NOT NULL,
	evidence_id    TEXT NOT NULL REFERENCES evidence(id),
	relevance_note TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (article_id, evidence_id)
);

CREATE INDEX IF NOT EXISTS idx_interventions_name ON interventions(name);
CREATE INDEX IF NOT EXISTS idx_interventions_type ON interventions(type);
CREATE INDEX IF NOT EXISTS idx_intervention_evidence_evidence ON intervention_evidence(evidence_id);
CREATE INDEX IF NOT EXISTS idx_intervention_outcomes_outcome ON intervention_outcomes(outcome_id);
`

// Migrate creates the entity and link tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, entityMigration)
	return eris.Wrap(err, "entity: migrate")
}

const interventionColumns = `i.id, i.name, i.type, i.description, i.evidence_level,
	i.current_funding, i.consent_level, i.cultural_authority, i.geography,
	i.latitude, i.longitude, i.ext, i.created_at, i.updated_at`

// consentJoin returns the SQL fragment and argument that restrict an
// intervention query to rows visible at the ceiling. The inner join drops
// entities with no ledger entry; only the admin sentinel ceiling skips the
// join entirely.
func consentJoin(entityType string, ceiling model.ConsentLevel, argIdx int) (join string, cond string, args []any) {
	return consentJoinFor(entityType, "i.id", ceiling, argIdx)
}

// visibleLevels lists the stored level strings readable at a ceiling.
func visibleLevels(ceiling model.ConsentLevel) []string {
	var levels []string
	for _, l := range []model.ConsentLevel{model.ConsentPublicCommons, model.ConsentCommunityControlled} {
		if l.Visible(ceiling) {
			levels = append(levels, string(l))
		}
	}
	return levels
}

// CreateIntervention inserts a new intervention. The caller is responsible
// for granting its consent ledger entry in the same unit of work.
func (s *PostgresStore) CreateIntervention(ctx context.Context, iv *model.Intervention) error {
	if err := validateIntervention(iv); err != nil {
		return err
	}
	if iv.ID == "" {
		iv.ID = uuid.New().String()
	}
	if iv.Ext.SchemaVersion == 0 {
		iv.Ext.SchemaVersion = model.ExtSchemaVersion
	}
	now := time.Now().UTC()
	iv.CreatedAt = now
	iv.UpdatedAt = now

	extJSON, err := json.Marshal(iv.Ext)
	if err != nil {
		return eris.Wrap(err, "entity: marshal ext")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO interventions
		 (id, name, type, description, evidence_level, current_funding, consent_level,
		  cultural_authority, geography, latitude, longitude, ext, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		iv.ID, iv.Name, iv.Type, iv.Description, string(iv.EvidenceLevel),
		string(iv.CurrentFunding), string(iv.ConsentLevel), iv.CulturalAuthority,
		iv.Geography, iv.Latitude, iv.Longitude, extJSON, iv.CreatedAt, iv.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "entity: create intervention %s", iv.Name)
	}
	return nil
}

// UpdateIntervention rewrites the mutable fields of an intervention.
func (s *PostgresStore) UpdateIntervention(ctx context.Context, iv *model.Intervention) error {
	if iv.ID == "" {
		return model.NewValidationError("id", "must not be empty")
	}
	if err := validateIntervention(iv); err != nil {
		return err
	}

	extJSON, err := json.Marshal(iv.Ext)
	if err != nil {
		return eris.Wrap(err, "entity: marshal ext")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE interventions SET
			name = $2, type = $3, description = $4, evidence_level = $5,
			current_funding = $6, consent_level = $7, cultural_authority = $8,
			geography = $9, latitude = $10, longitude = $11, ext = $12,
			updated_at = now()
		 WHERE id = $1`,
		iv.ID, iv.Name, iv.Type, iv.Description, string(iv.EvidenceLevel),
		string(iv.CurrentFunding), string(iv.ConsentLevel), iv.CulturalAuthority,
		iv.Geography, iv.Latitude, iv.Longitude, extJSON,
	)
	if err != nil {
		return eris.Wrapf(err, "entity: update intervention %s", iv.ID)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError("intervention", iv.ID)
	}
	return nil
}

// GetIntervention returns one intervention if visible at the ceiling. A
// record hidden by consent is indistinguishable from a missing one.
func (s *PostgresStore) GetIntervention(ctx context.Context, id string, ceiling model.ConsentLevel) (*model.Intervention, error) {
	join, cond, joinArgs := consentJoin("intervention", ceiling, 2)

	query := fmt.Sprintf(`SELECT %s FROM interventions i %s WHERE i.id = $1`, interventionColumns, join)
	if cond != "" {
		query += " AND " + cond
	}
	args := append([]any{id}, joinArgs...)

	row := s.pool.QueryRow(ctx, query, args...)
	iv, err := scanIntervention(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError("intervention", id)
		}
		return nil, eris.Wrapf(err, "entity: get intervention %s", id)
	}
	return iv, nil
}

// ListInterventions returns interventions matching the filter, restricted to
// the ceiling.
func (s *PostgresStore) ListInterventions(ctx context.Context, filter ListFilter, ceiling model.ConsentLevel) ([]model.Intervention, error) {
	var conditions []string
	var args []any
	argIdx := 1

	join, cond, joinArgs := consentJoin("intervention", ceiling, argIdx)
	if cond != "" {
		conditions = append(conditions, cond)
		args = append(args, joinArgs...)
		argIdx++
	}

	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("i.type = $%d", argIdx))
		args = append(args, filter.Type)
		argIdx++
	}
	if filter.Jurisdiction != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(i.geography)", argIdx))
		args = append(args, filter.Jurisdiction)
		argIdx++
	}
	if filter.Funding != "" {
		conditions = append(conditions, fmt.Sprintf("i.current_funding = $%d", argIdx))
		args = append(args, string(filter.Funding))
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(
		`SELECT %s FROM interventions i %s %s ORDER BY i.name LIMIT $%d OFFSET $%d`,
		interventionColumns, join, where, argIdx, argIdx+1,
	)
	args = append(args, limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "entity: list interventions")
	}
	defer rows.Close()

	return scanInterventions(rows)
}

// SearchInterventions matches the query against name and description,
// restricted to the ceiling.
func (s *PostgresStore) SearchInterventions(ctx context.Context, query string, ceiling model.ConsentLevel, limit int) ([]model.Intervention, error) {
	if strings.TrimSpace(query) == "" {
		return nil, model.NewValidationError("query", "must not be empty")
	}
	if limit <= 0 {
		limit = 50
	}

	join, cond, joinArgs := consentJoin("intervention", ceiling, 2)
	sql := fmt.Sprintf(
		`SELECT %s FROM interventions i %s WHERE (i.name ILIKE $1 OR i.description ILIKE $1)`,
		interventionColumns, join,
	)
	args := []any{"%" + query + "%"}
	argIdx := 2
	if cond != "" {
		sql += " AND " + cond
		args = append(args, joinArgs...)
		argIdx++
	}
	sql += fmt.Sprintf(" ORDER BY i.name LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "entity: search interventions")
	}
	defer rows.Close()

	return scanInterventions(rows)
}

// DeleteIntervention removes an intervention and its link rows in one tx.
// Evidence and outcome rows survive: they may be shared.
func (s *PostgresStore) DeleteIntervention(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "entity: begin delete tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM intervention_evidence WHERE intervention_id = $1`, id); err != nil {
		return eris.Wrapf(err, "entity: delete evidence links %s", id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM intervention_outcomes WHERE intervention_id = $1`, id); err != nil {
		return eris.Wrapf(err, "entity: delete outcome links %s", id)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM interventions WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "entity: delete intervention %s", id)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError("intervention", id)
	}

	return eris.Wrap(tx.Commit(ctx), "entity: commit delete tx")
}

// CreateEvidence inserts a new evidence record.
func (s *PostgresStore) CreateEvidence(ctx context.Context, ev *model.Evidence) error {
	if ev.Title == "" {
		return model.NewValidationError("title", "must not be empty")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO evidence (id, title, source_url, source_title, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Title, ev.SourceURL, ev.SourceTitle, ev.CreatedAt,
	)
	return eris.Wrapf(err, "entity: create evidence %s", ev.Title)
}

// GetEvidence returns one evidence record if visible at the ceiling.
func (s *PostgresStore) GetEvidence(ctx context.Context, id string, ceiling model.ConsentLevel) (*model.Evidence, error) {
	join, cond, joinArgs := consentJoinFor("evidence", "e.id", ceiling, 2)

	query := fmt.Sprintf(
		`SELECT e.id, e.title, e.source_url, e.source_title, e.created_at FROM evidence e %s WHERE e.id = $1`,
		join,
	)
	if cond != "" {
		query += " AND " + cond
	}
	args := append([]any{id}, joinArgs...)

	var ev model.Evidence
	err := s.pool.QueryRow(ctx, query, args...).
		Scan(&ev.ID, &ev.Title, &ev.SourceURL, &ev.SourceTitle, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError("evidence", id)
		}
		return nil, eris.Wrapf(err, "entity: get evidence %s", id)
	}
	return &ev, nil
}

// ListEvidenceForIntervention returns the evidence linked to an intervention,
// restricted to the ceiling.
func (s *PostgresStore) ListEvidenceForIntervention(ctx context.Context, interventionID string, ceiling model.ConsentLevel) ([]model.Evidence, error) {
	join, cond, joinArgs := consentJoinFor("evidence", "e.id", ceiling, 2)

	query := fmt.Sprintf(`
		SELECT e.id, e.title, e.source_url, e.source_title, e.created_at
		FROM evidence e
		JOIN intervention_evidence ie ON ie.evidence_id = e.id
		%s
		WHERE ie.intervention_id = $1`, join)
	if cond != "" {
		query += " AND " + cond
	}
	args := append([]any{interventionID}, joinArgs...)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "entity: list evidence for %s", interventionID)
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		var ev model.Evidence
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.SourceURL, &ev.SourceTitle, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "entity: scan evidence")
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CreateOutcome inserts a new outcome category.
func (s *PostgresStore) CreateOutcome(ctx context.Context, oc *model.Outcome) error {
	if oc.Name == "" {
		return model.NewValidationError("name", "must not be empty")
	}
	if oc.ID == "" {
		oc.ID = uuid.New().String()
	}
	oc.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO outcomes (id, name, description, created_at) VALUES ($1, $2, $3, $4)`,
		oc.ID, oc.Name, oc.Description, oc.CreatedAt,
	)
	return eris.Wrapf(err, "entity: create outcome %s", oc.Name)
}

// ListOutcomesForIntervention returns the outcome categories linked to an
// intervention, restricted to the ceiling.
func (s *PostgresStore) ListOutcomesForIntervention(ctx context.Context, interventionID string, ceiling model.ConsentLevel) ([]model.Outcome, error) {
	join, cond, joinArgs := consentJoinFor("outcome", "o.id", ceiling, 2)

	query := fmt.Sprintf(`
		SELECT o.id, o.name, o.description, o.created_at
		FROM outcomes o
		JOIN intervention_outcomes io ON io.outcome_id = o.id
		%s
		WHERE io.intervention_id = $1`, join)
	if cond != "" {
		query += " AND " + cond
	}
	query += " ORDER BY o.name"
	args := append([]any{interventionID}, joinArgs...)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "entity: list outcomes for %s", interventionID)
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		var oc model.Outcome
		if err := rows.Scan(&oc.ID, &oc.Name, &oc.Description, &oc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "entity: scan outcome")
		}
		out = append(out, oc)
	}
	return out, rows.Err()
}

// CreateCommunityContext inserts a community context record.
func (s *PostgresStore) CreateCommunityContext(ctx context.Context, cc *model.CommunityContext) error {
	if cc.Community == "" {
		return model.NewValidationError("community", "must not be empty")
	}
	if cc.ID == "" {
		cc.ID = uuid.New().String()
	}
	cc.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO community_contexts (id, community, needs, assets, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		cc.ID, cc.Community, cc.Needs, cc.Assets, cc.CreatedAt,
	)
	return eris.Wrapf(err, "entity: create community context %s", cc.Community)
}

// ListCommunityContexts returns community contexts visible at the ceiling.
func (s *PostgresStore) ListCommunityContexts(ctx context.Context, ceiling model.ConsentLevel) ([]model.CommunityContext, error) {
	join, cond, joinArgs := consentJoinFor("community_context", "c.id", ceiling, 1)

	query := fmt.Sprintf(
		`SELECT c.id, c.community, c.needs, c.assets, c.created_at FROM community_contexts c %s`,
		join,
	)
	var args []any
	if cond != "" {
		query += " WHERE " + cond
		args = append(args, joinArgs...)
	}
	query += " ORDER BY c.community"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "entity: list community contexts")
	}
	defer rows.Close()

	var out []model.CommunityContext
	for rows.Next() {
		var cc model.CommunityContext
		if err := rows.Scan(&cc.ID, &cc.Community, &cc.Needs, &cc.Assets, &cc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "entity: scan community context")
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

// LinkEvidence links an evidence record to an intervention. Re-linking an
// existing pair is a no-op.
func (s *PostgresStore) LinkEvidence(ctx context.Context, interventionID, evidenceID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO intervention_evidence (intervention_id, evidence_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		interventionID, evidenceID,
	)
	return eris.Wrapf(err, "entity: link evidence %s -> %s", evidenceID, interventionID)
}

// LinkOutcome links an outcome category to an intervention idempotently.
func (s *PostgresStore) LinkOutcome(ctx context.Context, interventionID, outcomeID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO intervention_outcomes (intervention_id, outcome_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		interventionID, outcomeID,
	)
	return eris.Wrapf(err, "entity: link outcome %s -> %s", outcomeID, interventionID)
}

// LinkArticleEvidence links a narrative article to an evidence record,
// keeping the relevance note from the first write.
func (s *PostgresStore) LinkArticleEvidence(ctx context.Context, link model.ArticleEvidenceLink) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO article_evidence (article_id, evidence_id, relevance_note)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		link.ArticleID, link.EvidenceID, link.RelevanceNote,
	)
	return eris.Wrapf(err, "entity: link article %s -> evidence %s", link.ArticleID, link.EvidenceID)
}

// consentJoinFor is consentJoin generalized over the joined id column.
func consentJoinFor(entityType, idCol string, ceiling model.ConsentLevel, argIdx int) (join string, cond string, args []any) {
	if ceiling == model.ConsentAdminCeiling {
		return "", "", nil
	}
	join = fmt.Sprintf(
		`JOIN consent_ledger cl ON cl.entity_type = '%s' AND cl.entity_id = %s`,
		entityType, idCol,
	)
	cond = fmt.Sprintf(`cl.consent_level = ANY($%d)`, argIdx)
	return join, cond, []any{visibleLevels(ceiling)}
}

func validateIntervention(iv *model.Intervention) error {
	if iv.Name == "" {
		return model.NewValidationError("name", "must not be empty")
	}
	if len(iv.Geography) == 0 {
		return model.NewValidationError("geography", "must list at least one jurisdiction")
	}
	return nil
}

func scanIntervention(row pgx.Row) (*model.Intervention, error) {
	var iv model.Intervention
	var extJSON []byte
	if err := row.Scan(
		&iv.ID, &iv.Name, &iv.Type, &iv.Description, &iv.EvidenceLevel,
		&iv.CurrentFunding, &iv.ConsentLevel, &iv.CulturalAuthority, &iv.Geography,
		&iv.Latitude, &iv.Longitude, &extJSON, &iv.CreatedAt, &iv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(extJSON) > 0 {
		if err := json.Unmarshal(extJSON, &iv.Ext); err != nil {
			return nil, eris.Wrap(err, "entity: unmarshal ext")
		}
	}
	return &iv, nil
}

func scanInterventions(rows pgx.Rows) ([]model.Intervention, error) {
	var out []model.Intervention
	for rows.Next() {
		iv, err := scanIntervention(rows)
		if err != nil {
			return nil, eris.Wrap(err, "entity: scan intervention")
		}
		out = append(out, *iv)
	}
	return out, rows.Err()
}
