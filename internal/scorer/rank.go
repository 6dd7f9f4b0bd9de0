package scorer

import (
	"context"
	"runtime"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/open-justice/intervention-graph/internal/entity"
	"github.com/open-justice/intervention-graph/internal/model"
)

// RankFilters specifies criteria for bulk ranking.
type RankFilters struct {
	Type         string
	Jurisdiction string
	MinAlpha     float64
	Limit        int
}

// Ranker scores interventions in bulk through a consent-filtered store.
type Ranker struct {
	store entity.Store
}

// NewRanker creates a Ranker over the given store.
func NewRanker(store entity.Store) *Ranker {
	return &Ranker{store: store}
}

// RankOne scores a single intervention visible at the ceiling.
func (r *Ranker) RankOne(ctx context.Context, id string, ceiling model.ConsentLevel) (*AlphaScore, error) {
	iv, err := r.store.GetIntervention(ctx, id, ceiling)
	if err != nil {
		return nil, err
	}
	score := Score(iv)
	return &score, nil
}

// RankAll scores every intervention matching the filters at the ceiling and
// returns them ordered by alpha descending, ties broken by name.
func (r *Ranker) RankAll(ctx context.Context, filters RankFilters, ceiling model.ConsentLevel) ([]AlphaScore, error) {
	ivs, err := r.store.ListInterventions(ctx, entity.ListFilter{
		Type:         filters.Type,
		Jurisdiction: filters.Jurisdiction,
		Limit:        10_000,
	}, ceiling)
	if err != nil {
		return nil, eris.Wrap(err, "scorer: list interventions")
	}

	scores := make([]AlphaScore, len(ivs))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range ivs {
		g.Go(func() error {
			scores[i] = Score(&ivs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if filters.MinAlpha > 0 {
		kept := scores[:0]
		for _, s := range scores {
			if s.Alpha >= filters.MinAlpha {
				kept = append(kept, s)
			}
		}
		scores = kept
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Alpha != scores[j].Alpha {
			return scores[i].Alpha > scores[j].Alpha
		}
		return scores[i].Name < scores[j].Name
	})

	if filters.Limit > 0 && len(scores) > filters.Limit {
		scores = scores[:filters.Limit]
	}

	zap.L().Info("scorer: bulk ranking complete",
		zap.Int("scored", len(ivs)),
		zap.Int("returned", len(scores)),
	)
	return scores, nil
}
