package consent

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-justice/intervention-graph/internal/model"
)

func newMockLedger(t *testing.T) (pgxmock.PgxPoolIface, *PostgresLedger) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock, NewPostgresLedger(mock)
}

func TestGrantUpserts(t *testing.T) {
	mock, ledger := newMockLedger(t)

	mock.ExpectExec("INSERT INTO consent_ledger").
		WithArgs("intervention", "abc", "community_controlled", "elder-council", true, 12.5).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	entry, err := ledger.Grant(context.Background(), Grant{
		EntityType:             "intervention",
		EntityID:               "abc",
		Level:                  model.ConsentCommunityControlled,
		GivenBy:                "elder-council",
		RevenueShareEnabled:    true,
		RevenueSharePercentage: 12.5,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ConsentCommunityControlled, entry.ConsentLevel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRejectsMalformedInput(t *testing.T) {
	_, ledger := newMockLedger(t)

	_, err := ledger.Grant(context.Background(), Grant{
		EntityID: "abc",
		Level:    model.ConsentPublicCommons,
	})
	assert.True(t, model.IsValidation(err))

	_, err = ledger.Grant(context.Background(), Grant{
		EntityType: "intervention",
		EntityID:   "abc",
		Level:      "open_bar",
	})
	assert.True(t, model.IsValidation(err))
}

func TestLevelOfMissingEntryFailsClosed(t *testing.T) {
	mock, ledger := newMockLedger(t)

	mock.ExpectQuery("SELECT consent_level FROM consent_ledger").
		WithArgs("intervention", "nope").
		WillReturnRows(pgxmock.NewRows([]string{"consent_level"}))

	level, err := ledger.LevelOf(context.Background(), "intervention", "nope")
	require.NoError(t, err)
	assert.Equal(t, model.ConsentUnset, level)
}

func TestLevelOfUnrecognizedValueFailsClosed(t *testing.T) {
	mock, ledger := newMockLedger(t)

	mock.ExpectQuery("SELECT consent_level FROM consent_ledger").
		WithArgs("intervention", "abc").
		WillReturnRows(pgxmock.NewRows([]string{"consent_level"}).AddRow("widely_shared"))

	level, err := ledger.LevelOf(context.Background(), "intervention", "abc")
	require.NoError(t, err)
	assert.Equal(t, model.ConsentUnset, level)
}

func TestLevelOfReturnsStoredLevel(t *testing.T) {
	mock, ledger := newMockLedger(t)

	mock.ExpectQuery("SELECT consent_level FROM consent_ledger").
		WithArgs("evidence", "ev-1").
		WillReturnRows(pgxmock.NewRows([]string{"consent_level"}).AddRow("public_knowledge_commons"))

	level, err := ledger.LevelOf(context.Background(), "evidence", "ev-1")
	require.NoError(t, err)
	assert.Equal(t, model.ConsentPublicCommons, level)
}
