package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/open-justice/intervention-graph/internal/db"
	"github.com/open-justice/intervention-graph/internal/model"
)

// Store persists discovered items and enforces the review state machine.
// Transition methods are compare-and-set on pending: a second reviewer
// acting on the same item gets a conflict, not a silent overwrite.
type Store interface {
	Migrate(ctx context.Context) error
	Insert(ctx context.Context, item *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	List(ctx context.Context, opts ListOpts) ([]Item, error)
	MarkApproved(ctx context.Context, id string) error
	MarkRejected(ctx context.Context, id, reason string) error
	MarkMerged(ctx context.Context, id, targetID string) error
	// Revert returns a just-claimed item to pending when promotion fails
	// partway, so the claim does not strand it in a terminal state.
	Revert(ctx context.Context, id string, from Status) error
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const discoveryMigration = `
CREATE TABLE IF NOT EXISTS discovered_items (
	id                     TEXT PRIMARY KEY,
	source_id              TEXT NOT NULL,
	source_url             TEXT NOT NULL DEFAULT '',
	item_type              TEXT NOT NULL DEFAULT '',
	raw_data               JSONB,
	extracted              JSONB NOT NULL DEFAULT '{}',
	extraction_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	similarity_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	potential_duplicate_id TEXT,
	status                 TEXT NOT NULL DEFAULT 'pending',
	rejection_reason       TEXT NOT NULL DEFAULT '',
	discovered_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_discovered_items_status ON discovered_items(status);
CREATE INDEX IF NOT EXISTS idx_discovered_items_source ON discovered_items(source_id);
`

// Migrate creates the review queue table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, discoveryMigration)
	return eris.Wrap(err, "discovery: migrate")
}

const itemColumns = `id, source_id, source_url, item_type, raw_data, extracted,
	extraction_confidence, similarity_score, potential_duplicate_id, status,
	rejection_reason, discovered_at`

// Insert stores a new discovered item.
func (s *PostgresStore) Insert(ctx context.Context, item *Item) error {
	extJSON, err := json.Marshal(item.Extracted)
	if err != nil {
		return eris.Wrap(err, "discovery: marshal extracted")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO discovered_items
		 (id, source_id, source_url, item_type, raw_data, extracted,
		  extraction_confidence, similarity_score, potential_duplicate_id, status,
		  rejection_reason, discovered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID, item.SourceID, item.SourceURL, item.ItemType, item.RawData, extJSON,
		item.ExtractionConfidence, item.SimilarityScore, item.PotentialDuplicateID,
		string(item.Status), item.RejectionReason, item.DiscoveredAt,
	)
	return eris.Wrapf(err, "discovery: insert item from %s", item.SourceID)
}

// Get returns one discovered item by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Item, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM discovered_items WHERE id = $1`, itemColumns), id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError("discovered item", id)
		}
		return nil, eris.Wrapf(err, "discovery: get item %s", id)
	}
	return item, nil
}

// List returns queue items matching the options, newest first.
func (s *PostgresStore) List(ctx context.Context, opts ListOpts) ([]Item, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if opts.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.ItemType != "" {
		conditions = append(conditions, fmt.Sprintf("item_type = $%d", argIdx))
		args = append(args, opts.ItemType)
		argIdx++
	}
	if opts.SourceID != "" {
		conditions = append(conditions, fmt.Sprintf("source_id = $%d", argIdx))
		args = append(args, opts.SourceID)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(
		`SELECT %s FROM discovered_items %s ORDER BY discovered_at DESC LIMIT $%d OFFSET $%d`,
		itemColumns, where, argIdx, argIdx+1,
	)
	args = append(args, limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: list items")
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "discovery: scan item")
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// MarkApproved claims a pending item as approved.
func (s *PostgresStore) MarkApproved(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		`UPDATE discovered_items SET status = 'approved' WHERE id = $1 AND status = 'pending'`)
}

// MarkRejected claims a pending item as rejected, keeping the reason.
func (s *PostgresStore) MarkRejected(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovered_items SET status = 'rejected', rejection_reason = $2
		 WHERE id = $1 AND status = 'pending'`, id, reason)
	if err != nil {
		return eris.Wrapf(err, "discovery: reject item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id)
	}
	return nil
}

// MarkMerged claims a pending item as merged into the target intervention.
func (s *PostgresStore) MarkMerged(ctx context.Context, id, targetID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovered_items SET status = 'merged', potential_duplicate_id = $2
		 WHERE id = $1 AND status = 'pending'`, id, targetID)
	if err != nil {
		return eris.Wrapf(err, "discovery: merge item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id)
	}
	return nil
}

// Revert moves an item back to pending from the given claimed status.
func (s *PostgresStore) Revert(ctx context.Context, id string, from Status) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE discovered_items SET status = 'pending' WHERE id = $1 AND status = $2`,
		id, string(from))
	return eris.Wrapf(err, "discovery: revert item %s", id)
}

func (s *PostgresStore) transition(ctx context.Context, id, sql string) error {
	tag, err := s.pool.Exec(ctx, sql, id)
	if err != nil {
		return eris.Wrapf(err, "discovery: transition item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id)
	}
	return nil
}

// transitionFailure distinguishes a missing item from one already reviewed.
func (s *PostgresStore) transitionFailure(ctx context.Context, id string) error {
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return model.NewConflictError("discovered item", id,
		fmt.Sprintf("already %s", item.Status))
}

func scanItem(row pgx.Row) (*Item, error) {
	var item Item
	var extJSON []byte
	var status string
	if err := row.Scan(
		&item.ID, &item.SourceID, &item.SourceURL, &item.ItemType, &item.RawData,
		&extJSON, &item.ExtractionConfidence, &item.SimilarityScore,
		&item.PotentialDuplicateID, &status, &item.RejectionReason, &item.DiscoveredAt,
	); err != nil {
		return nil, err
	}
	item.Status = Status(status)
	if len(extJSON) > 0 {
		if err := json.Unmarshal(extJSON, &item.Extracted); err != nil {
			return nil, eris.Wrap(err, "discovery: unmarshal extracted")
		}
	}
	return &item, nil
}
