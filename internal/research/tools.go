package research

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/open-justice/intervention-graph/internal/entity"
	"github.com/open-justice/intervention-graph/internal/model"
	"github.com/open-justice/intervention-graph/internal/scorer"
)

// Tool is one research capability. Invoke returns zero or more findings;
// the engine assigns session ids and sequence numbers.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, query string) ([]Finding, error)
}

// GraphReader is a consent-ceiling-bound view of the entity store. Every
// tool reads through it, so a session structurally cannot read above its
// own ceiling.
type GraphReader struct {
	store   entity.Store
	ceiling model.ConsentLevel
}

// NewGraphReader binds a store to a ceiling.
func NewGraphReader(store entity.Store, ceiling model.ConsentLevel) *GraphReader {
	return &GraphReader{store: store, ceiling: ceiling}
}

// Toolset builds the built-in tools over a ceiling-bound reader.
func Toolset(reader *GraphReader) []Tool {
	return []Tool{
		&searchTool{reader},
		&evidenceTool{reader},
		&scoreTool{reader},
		&contextTool{reader},
	}
}

type searchTool struct{ r *GraphReader }

func (t *searchTool) Name() string { return "search_interventions" }

func (t *searchTool) Invoke(ctx context.Context, query string) ([]Finding, error) {
	ivs, err := t.r.store.SearchInterventions(ctx, query, t.r.ceiling, 10)
	if err != nil {
		return nil, eris.Wrap(err, "research: search interventions")
	}
	findings := make([]Finding, 0, len(ivs))
	for _, iv := range ivs {
		content, err := json.Marshal(map[string]any{
			"id":             iv.ID,
			"name":           iv.Name,
			"type":           iv.Type,
			"evidence_level": iv.EvidenceLevel,
			"geography":      iv.Geography,
		})
		if err != nil {
			return nil, eris.Wrap(err, "research: marshal search finding")
		}
		findings = append(findings, Finding{Source: t.Name(), Content: string(content)})
	}
	return findings, nil
}

type evidenceTool struct{ r *GraphReader }

func (t *evidenceTool) Name() string { return "list_evidence" }

// Invoke expects the query to be an intervention id.
func (t *evidenceTool) Invoke(ctx context.Context, query string) ([]Finding, error) {
	evs, err := t.r.store.ListEvidenceForIntervention(ctx, query, t.r.ceiling)
	if err != nil {
		return nil, eris.Wrap(err, "research: list evidence")
	}
	findings := make([]Finding, 0, len(evs))
	for _, ev := range evs {
		content, err := json.Marshal(map[string]any{
			"id":         ev.ID,
			"title":      ev.Title,
			"source_url": ev.SourceURL,
		})
		if err != nil {
			return nil, eris.Wrap(err, "research: marshal evidence finding")
		}
		findings = append(findings, Finding{Source: t.Name(), Content: string(content)})
	}
	return findings, nil
}

type scoreTool struct{ r *GraphReader }

func (t *scoreTool) Name() string { return "score_intervention" }

// Invoke expects the query to be an intervention id.
func (t *scoreTool) Invoke(ctx context.Context, query string) ([]Finding, error) {
	iv, err := t.r.store.GetIntervention(ctx, query, t.r.ceiling)
	if err != nil {
		return nil, err
	}
	score := scorer.Score(iv)
	content, err := json.Marshal(score)
	if err != nil {
		return nil, eris.Wrap(err, "research: marshal score finding")
	}
	return []Finding{{Source: t.Name(), Content: string(content)}}, nil
}

type contextTool struct{ r *GraphReader }

func (t *contextTool) Name() string { return "community_context" }

func (t *contextTool) Invoke(ctx context.Context, query string) ([]Finding, error) {
	ccs, err := t.r.store.ListCommunityContexts(ctx, t.r.ceiling)
	if err != nil {
		return nil, eris.Wrap(err, "research: list community contexts")
	}
	var findings []Finding
	for _, cc := range ccs {
		content, err := json.Marshal(map[string]any{
			"id":        cc.ID,
			"community": cc.Community,
			"needs":     cc.Needs,
			"assets":    cc.Assets,
		})
		if err != nil {
			return nil, eris.Wrap(err, "research: marshal context finding")
		}
		findings = append(findings, Finding{Source: t.Name(), Content: string(content)})
	}
	return findings, nil
}

// toolIndex maps tools by name and rejects duplicates.
func toolIndex(tools []Tool) (map[string]Tool, error) {
	idx := make(map[string]Tool, len(tools))
	for _, t := range tools {
		if _, dup := idx[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name())
		}
		idx[t.Name()] = t
	}
	return idx, nil
}
