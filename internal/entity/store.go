// Package entity implements the canonical graph store: interventions,
// evidence, outcomes, community contexts, and their link tables. Every read
// is filtered through the consent ledger; there is no unfiltered read path
// outside the internal administration ceiling.
package entity

import (
	"context"

	"github.com/open-justice/intervention-graph/internal/model"
)

// ListFilter specifies criteria for listing interventions.
type ListFilter struct {
	Type         string
	Jurisdiction string
	Funding      model.FundingStatus
	Limit        int
	Offset       int
}

// Store defines persistence operations for the canonical entity graph.
// Every Get/List/Search takes a consent ceiling and silently excludes
// records that are not visible at it.
type Store interface {
	CreateIntervention(ctx context.Context, iv *model.Intervention) error
	UpdateIntervention(ctx context.Context, iv *model.Intervention) error
	GetIntervention(ctx context.Context, id string, ceiling model.ConsentLevel) (*model.Intervention, error)
	ListInterventions(ctx context.Context, filter ListFilter, ceiling model.ConsentLevel) ([]model.Intervention, error)
	SearchInterventions(ctx context.Context, query string, ceiling model.ConsentLevel, limit int) ([]model.Intervention, error)
	DeleteIntervention(ctx context.Context, id string) error

	CreateEvidence(ctx context.Context, ev *model.Evidence) error
	GetEvidence(ctx context.Context, id string, ceiling model.ConsentLevel) (*model.Evidence, error)
	ListEvidenceForIntervention(ctx context.Context, interventionID string, ceiling model.ConsentLevel) ([]model.Evidence, error)

	CreateOutcome(ctx context.Context, oc *model.Outcome) error
	ListOutcomesForIntervention(ctx context.Context, interventionID string, ceiling model.ConsentLevel) ([]model.Outcome, error)

	CreateCommunityContext(ctx context.Context, cc *model.CommunityContext) error
	ListCommunityContexts(ctx context.Context, ceiling model.ConsentLevel) ([]model.CommunityContext, error)

	// Link operations are idempotent: re-linking an existing pair is a no-op.
	LinkEvidence(ctx context.Context, interventionID, evidenceID string) error
	LinkOutcome(ctx context.Context, interventionID, outcomeID string) error
	LinkArticleEvidence(ctx context.Context, link model.ArticleEvidenceLink) error

	Migrate(ctx context.Context) error
}
