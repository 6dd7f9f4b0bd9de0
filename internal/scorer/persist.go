package scorer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/open-justice/intervention-graph/internal/db"
)

const snapshotMigration = `
CREATE TABLE IF NOT EXISTS alpha_snapshots (
	intervention_id TEXT NOT NULL,
	evidence_score  DOUBLE PRECISION NOT NULL,
	authority_score DOUBLE PRECISION NOT NULL,
	narrative_score DOUBLE PRECISION NOT NULL,
	alpha           DOUBLE PRECISION NOT NULL,
	market_status   TEXT NOT NULL,
	scored_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_alpha_snapshots_intervention ON alpha_snapshots(intervention_id, scored_at DESC);
`

// MigrateSnapshots creates the score history table.
func MigrateSnapshots(ctx context.Context, pool db.Pool) error {
	_, err := pool.Exec(ctx, snapshotMigration)
	return eris.Wrap(err, "scorer: migrate snapshots")
}

// SaveSnapshots appends a scoring run to the history table in one tx. The
// history is for trend dashboards; live reads always recompute.
func SaveSnapshots(ctx context.Context, pool db.Pool, scores []AlphaScore) error {
	if len(scores) == 0 {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "scorer: begin snapshot tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, s := range scores {
		_, err := tx.Exec(ctx, `
			INSERT INTO alpha_snapshots
				(intervention_id, evidence_score, authority_score, narrative_score, alpha, market_status)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, s.InterventionID, s.EvidenceScore, s.AuthorityScore, s.NarrativeScore, s.Alpha, string(s.MarketStatus))
		if err != nil {
			return eris.Wrapf(err, "scorer: insert snapshot for %s", s.InterventionID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "scorer: commit snapshots")
	}

	zap.L().Info("scorer: saved snapshots", zap.Int("count", len(scores)))
	return nil
}
