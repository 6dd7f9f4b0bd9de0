// Package consent implements the consent ledger: the disclosure grant for
// every exposed entity, and the visibility check every read path runs
// through.
package consent

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/open-justice/intervention-graph/internal/db"
	"github.com/open-justice/intervention-graph/internal/model"
)

// Grant holds the parameters of a consent grant.
type Grant struct {
	EntityType             string
	EntityID               string
	Level                  model.ConsentLevel
	GivenBy                string
	RevenueShareEnabled    bool
	RevenueSharePercentage float64
}

// Ledger defines the consent ledger operations.
type Ledger interface {
	// Grant upserts the ledger entry for an entity. Concurrent grants to the
	// same entity are last-write-wins.
	Grant(ctx context.Context, g Grant) (*model.LedgerEntry, error)

	// LevelOf returns the recorded level for an entity. A missing entry
	// resolves to ConsentUnset: the fail-closed sentinel, not an error.
	LevelOf(ctx context.Context, entityType, entityID string) (model.ConsentLevel, error)
}

// Visible reports whether a record at the given level may be returned at the
// given ceiling.
func Visible(level, ceiling model.ConsentLevel) bool {
	return level.Visible(ceiling)
}

// PostgresLedger implements Ledger using pgx.
type PostgresLedger struct {
	pool db.Pool
}

// NewPostgresLedger creates a PostgresLedger.
func NewPostgresLedger(pool db.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

const ledgerMigration = `
CREATE TABLE IF NOT EXISTS consent_ledger (
	entity_type              TEXT NOT NULL,
	entity_id                TEXT NOT NULL,
	consent_level            TEXT NOT NULL DEFAULT 'unset',
	given_by                 TEXT NOT NULL DEFAULT '',
	revenue_share_enabled    BOOLEAN NOT NULL DEFAULT false,
	revenue_share_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
	granted_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (entity_type, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_consent_ledger_level ON consent_ledger(consent_level);
`

// Migrate creates the ledger table.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, ledgerMigration)
	return eris.Wrap(err, "consent: migrate")
}

// Grant upserts the ledger entry keyed by (entity_type, entity_id).
func (l *PostgresLedger) Grant(ctx context.Context, g Grant) (*model.LedgerEntry, error) {
	if g.EntityType == "" {
		return nil, model.NewValidationError("entity_type", "must not be empty")
	}
	if g.EntityID == "" {
		return nil, model.NewValidationError("entity_id", "must not be empty")
	}
	if _, err := model.ParseConsentLevel(string(g.Level)); err != nil {
		return nil, model.NewValidationError("consent_level", "unknown level")
	}

	_, err := l.pool.Exec(ctx,
		`INSERT INTO consent_ledger
		 (entity_type, entity_id, consent_level, given_by, revenue_share_enabled, revenue_share_percentage, granted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (entity_type, entity_id) DO UPDATE SET
		   consent_level = $3, given_by = $4,
		   revenue_share_enabled = $5, revenue_share_percentage = $6,
		   granted_at = now()`,
		g.EntityType, g.EntityID, string(g.Level), g.GivenBy,
		g.RevenueShareEnabled, g.RevenueSharePercentage,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "consent: grant %s/%s", g.EntityType, g.EntityID)
	}

	return &model.LedgerEntry{
		EntityType:             g.EntityType,
		EntityID:               g.EntityID,
		ConsentLevel:           g.Level,
		GivenBy:                g.GivenBy,
		RevenueShareEnabled:    g.RevenueShareEnabled,
		RevenueSharePercentage: g.RevenueSharePercentage,
	}, nil
}

// LevelOf returns the ledger level for an entity, or ConsentUnset when no
// entry exists.
func (l *PostgresLedger) LevelOf(ctx context.Context, entityType, entityID string) (model.ConsentLevel, error) {
	var level string
	err := l.pool.QueryRow(ctx,
		`SELECT consent_level FROM consent_ledger WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID,
	).Scan(&level)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConsentUnset, nil
		}
		return model.ConsentUnset, eris.Wrapf(err, "consent: level of %s/%s", entityType, entityID)
	}

	parsed, err := model.ParseConsentLevel(level)
	if err != nil {
		// An unrecognized stored value fails closed.
		return model.ConsentUnset, nil
	}
	return parsed, nil
}
