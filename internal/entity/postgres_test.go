package entity

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

func interventionRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "name", "type", "description", "evidence_level",
		"current_funding", "consent_level", "cultural_authority", "geography",
		"latitude", "longitude", "ext", "created_at", "updated_at",
	})
}

func TestVisibleLevels(t *testing.T) {
	assert.Equal(t, []string{"public_knowledge_commons"}, visibleLevels(model.ConsentPublicCommons))
	assert.Equal(t,
		[]string{"public_knowledge_commons", "community_controlled"},
		visibleLevels(model.ConsentCommunityControlled),
	)
}

func TestListInterventionsFiltersByConsent(t *testing.T) {
	mock, store := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM interventions i JOIN consent_ledger cl`).
		WithArgs([]string{"public_knowledge_commons"}, 100, 0).
		WillReturnRows(interventionRows().AddRow(
			"iv-1", "Night Patrol", "diversion", "", "promising",
			"established", "public_knowledge_commons", false, []string{"NT"},
			nil, nil, []byte(`{"schema_version":1}`), now, now,
		))

	got, err := store.ListInterventions(context.Background(), ListFilter{}, model.ConsentPublicCommons)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Night Patrol", got[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListInterventionsAdminCeilingSkipsJoin(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM interventions i\s+ORDER BY i\.name`).
		WithArgs(100, 0).
		WillReturnRows(interventionRows())

	_, err := store.ListInterventions(context.Background(), ListFilter{}, model.ConsentAdminCeiling)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInterventionHiddenLooksMissing(t *testing.T) {
	mock, store := newMockStore(t)

	// Row exists at community level but caller holds the public ceiling:
	// the join yields no rows, and the error is a plain not-found.
	mock.ExpectQuery(`SELECT .+ FROM interventions i JOIN consent_ledger cl`).
		WithArgs("iv-2", []string{"public_knowledge_commons"}).
		WillReturnRows(interventionRows())

	_, err := store.GetIntervention(context.Background(), "iv-2", model.ConsentPublicCommons)
	assert.True(t, model.IsNotFound(err))
}

func TestCreateInterventionValidates(t *testing.T) {
	_, store := newMockStore(t)

	err := store.CreateIntervention(context.Background(), &model.Intervention{Geography: []string{"NT"}})
	assert.True(t, model.IsValidation(err))

	err = store.CreateIntervention(context.Background(), &model.Intervention{Name: "X"})
	assert.True(t, model.IsValidation(err))
}

func TestLinkEvidenceIsIdempotent(t *testing.T) {
	mock, store := newMockStore(t)

	// Second insert of the same pair hits ON CONFLICT DO NOTHING: zero rows,
	// no error.
	mock.ExpectExec("INSERT INTO intervention_evidence").
		WithArgs("iv-1", "ev-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO intervention_evidence").
		WithArgs("iv-1", "ev-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.LinkEvidence(context.Background(), "iv-1", "ev-1"))
	require.NoError(t, store.LinkEvidence(context.Background(), "iv-1", "ev-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEvidenceValidates(t *testing.T) {
	_, store := newMockStore(t)

	err := store.CreateEvidence(context.Background(), &model.Evidence{SourceURL: "https://example.org"})
	assert.True(t, model.IsValidation(err))
}

func TestCreateEvidenceAssignsID(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("INSERT INTO evidence").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ev := &model.Evidence{Title: "RCT of night patrols"}
	require.NoError(t, store.CreateEvidence(context.Background(), ev))
	assert.NotEmpty(t, ev.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEvidenceHiddenLooksMissing(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM evidence e JOIN consent_ledger cl`).
		WithArgs("ev-1", []string{"public_knowledge_commons"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "source_url", "source_title", "created_at"}))

	_, err := store.GetEvidence(context.Background(), "ev-1", model.ConsentPublicCommons)
	assert.True(t, model.IsNotFound(err))
}

func TestGetEvidenceVisibleAtCeiling(t *testing.T) {
	mock, store := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM evidence e JOIN consent_ledger cl`).
		WithArgs("ev-1", []string{"public_knowledge_commons", "community_controlled"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "source_url", "source_title", "created_at"}).
			AddRow("ev-1", "RCT of night patrols", "", "Justice Review", now))

	ev, err := store.GetEvidence(context.Background(), "ev-1", model.ConsentCommunityControlled)
	require.NoError(t, err)
	assert.Equal(t, "RCT of night patrols", ev.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOutcomesFiltersByConsent(t *testing.T) {
	mock, store := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM outcomes o JOIN intervention_outcomes io .+ JOIN consent_ledger cl ON cl\.entity_type = 'outcome'`).
		WithArgs("iv-1", []string{"public_knowledge_commons"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description", "created_at"}).
			AddRow("oc-1", "Reduced reoffending", "", now))

	got, err := store.ListOutcomesForIntervention(context.Background(), "iv-1", model.ConsentPublicCommons)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Reduced reoffending", got[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOutcomesAdminCeilingSkipsJoin(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`FROM outcomes o JOIN intervention_outcomes io ON io\.outcome_id = o\.id WHERE io\.intervention_id`).
		WithArgs("iv-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description", "created_at"}))

	_, err := store.ListOutcomesForIntervention(context.Background(), "iv-1", model.ConsentAdminCeiling)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOutcomeValidates(t *testing.T) {
	_, store := newMockStore(t)

	err := store.CreateOutcome(context.Background(), &model.Outcome{Description: "no name"})
	assert.True(t, model.IsValidation(err))
}

func TestCreateCommunityContextValidates(t *testing.T) {
	_, store := newMockStore(t)

	err := store.CreateCommunityContext(context.Background(), &model.CommunityContext{Needs: "housing"})
	assert.True(t, model.IsValidation(err))
}

func TestLinkOutcomeIsIdempotent(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("INSERT INTO intervention_outcomes").
		WithArgs("iv-1", "oc-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO intervention_outcomes").
		WithArgs("iv-1", "oc-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.LinkOutcome(context.Background(), "iv-1", "oc-1"))
	require.NoError(t, store.LinkOutcome(context.Background(), "iv-1", "oc-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkArticleEvidenceKeepsFirstNote(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("INSERT INTO article_evidence").
		WithArgs("art-1", "ev-1", "cited in findings").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO article_evidence").
		WithArgs("art-1", "ev-1", "a different note").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.LinkArticleEvidence(context.Background(), model.ArticleEvidenceLink{
		ArticleID: "art-1", EvidenceID: "ev-1", RelevanceNote: "cited in findings",
	}))
	require.NoError(t, store.LinkArticleEvidence(context.Background(), model.ArticleEvidenceLink{
		ArticleID: "art-1", EvidenceID: "ev-1", RelevanceNote: "a different note",
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteInterventionCascadesLinksOnly(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM intervention_evidence").
		WithArgs("iv-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("DELETE FROM intervention_outcomes").
		WithArgs("iv-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM interventions").
		WithArgs("iv-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteIntervention(context.Background(), "iv-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteInterventionUnknownID(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM intervention_evidence").
		WithArgs("nope").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM intervention_outcomes").
		WithArgs("nope").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM interventions").
		WithArgs("nope").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := store.DeleteIntervention(context.Background(), "nope")
	assert.True(t, model.IsNotFound(err))
}

func TestSearchInterventionsRequiresQuery(t *testing.T) {
	_, store := newMockStore(t)

	_, err := store.SearchInterventions(context.Background(), "   ", model.ConsentPublicCommons, 10)
	assert.True(t, model.IsValidation(err))
}
