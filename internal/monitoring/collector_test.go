package monitoring

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockCollector(t *testing.T) (pgxmock.PgxPoolIface, *Collector) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock, NewCollector(mock)
}

func TestCollect(t *testing.T) {
	mock, c := newMockCollector(t)

	mock.ExpectQuery("SELECT status, count\\(\\*\\) FROM discovered_items").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 12).
			AddRow("approved", 30).
			AddRow("rejected", 4).
			AddRow("merged", 2))

	mock.ExpectQuery("SELECT status, count\\(\\*\\) FROM research_sessions").
		WithArgs(24).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("completed", 8).
			AddRow("failed", 2).
			AddRow("executing", 1))

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM research_findings").
		WithArgs(24).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(57))

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 12, snap.QueuePending)
	assert.Equal(t, 30, snap.QueueApproved)
	assert.Equal(t, 4, snap.QueueRejected)
	assert.Equal(t, 2, snap.QueueMerged)

	assert.Equal(t, 11, snap.SessionsTotal)
	assert.Equal(t, 8, snap.SessionsCompleted)
	assert.Equal(t, 2, snap.SessionsFailed)
	assert.Equal(t, 1, snap.SessionsRunning)
	assert.InDelta(t, 0.2, snap.SessionFailRate, 1e-9)

	assert.Equal(t, 57, snap.FindingsRecorded)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollect_DefaultsLookback(t *testing.T) {
	mock, c := newMockCollector(t)

	mock.ExpectQuery("SELECT status, count\\(\\*\\) FROM discovered_items").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}))
	mock.ExpectQuery("SELECT status, count\\(\\*\\) FROM research_sessions").
		WithArgs(24).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM research_findings").
		WithArgs(24).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

	snap, err := c.Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Zero(t, snap.SessionFailRate)
	assert.NoError(t, mock.ExpectationsWereMet())
}
