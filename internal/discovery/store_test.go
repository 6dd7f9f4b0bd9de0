package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-justice/intervention-graph/internal/model"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock, NewPostgresStore(mock)
}

func itemRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "source_id", "source_url", "item_type", "raw_data", "extracted",
		"extraction_confidence", "similarity_score", "potential_duplicate_id",
		"status", "rejection_reason", "discovered_at",
	})
}

func TestInsertItem(t *testing.T) {
	mock, store := newMockStore(t)

	item := &Item{
		ID:                   "item-1",
		SourceID:             "qld-open-data",
		Extracted:            Extracted{Title: "Night Patrol"},
		ExtractionConfidence: 0.25,
		Status:               StatusPending,
		DiscoveredAt:         time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO discovered_items").
		WithArgs(item.ID, item.SourceID, "", "", []byte(nil), pgxmock.AnyArg(),
			0.25, 0.0, (*string)(nil), "pending", "", item.DiscoveredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), item))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkApprovedClaimsPendingOnly(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("UPDATE discovered_items SET status = 'approved'").
		WithArgs("item-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkApproved(context.Background(), "item-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkApprovedAlreadyReviewedIsConflict(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("UPDATE discovered_items SET status = 'approved'").
		WithArgs("item-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT (.+) FROM discovered_items WHERE id").
		WithArgs("item-1").
		WillReturnRows(itemRows().AddRow(
			"item-1", "src", "", "", []byte(nil), []byte(`{}`),
			0.0, 0.0, (*string)(nil), "rejected", "duplicate", time.Now(),
		))

	err := store.MarkApproved(context.Background(), "item-1")
	assert.True(t, model.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkApprovedUnknownItemIsNotFound(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("UPDATE discovered_items SET status = 'approved'").
		WithArgs("nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT (.+) FROM discovered_items WHERE id").
		WithArgs("nope").
		WillReturnRows(itemRows())

	err := store.MarkApproved(context.Background(), "nope")
	assert.True(t, model.IsNotFound(err))
}

func TestMarkRejectedKeepsReason(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("UPDATE discovered_items SET status = 'rejected'").
		WithArgs("item-1", "out of scope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkRejected(context.Background(), "item-1", "out of scope"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFiltersByStatusAndSource(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM discovered_items WHERE status = \\$1 AND source_id = \\$2").
		WithArgs("pending", "qld-open-data", 50, 0).
		WillReturnRows(itemRows().AddRow(
			"item-1", "qld-open-data", "", "program", []byte(nil), []byte(`{"title":"Night Patrol"}`),
			0.5, 0.0, (*string)(nil), "pending", "", time.Now(),
		))

	items, err := store.List(context.Background(), ListOpts{
		Status: StatusPending, SourceID: "qld-open-data", Limit: 50,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Night Patrol", items[0].Extracted.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevertReturnsClaimedItemToPending(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("UPDATE discovered_items SET status = 'pending'").
		WithArgs("item-1", "approved").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Revert(context.Background(), "item-1", StatusApproved))
	assert.NoError(t, mock.ExpectationsWereMet())
}
