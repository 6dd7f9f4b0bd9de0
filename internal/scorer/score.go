// Package scorer computes the alpha signal: a composite 0-10 ranking of
// interventions by evidence strength, narrative weight, and cultural or
// consent authority. Scoring is a pure function of stored fields and can be
// re-derived at any time; persisted scores are audit snapshots, never the
// source of truth.
package scorer

import (
	"math"

	"github.com/open-justice/intervention-graph/internal/model"
)

// MarketStatus classifies an intervention's funding position against its
// alpha score.
type MarketStatus string

const (
	MarketUndervalued MarketStatus = "Undervalued"
	MarketFairValue   MarketStatus = "Fair Value"
	MarketDistressed  MarketStatus = "Distressed"
	MarketNeutral     MarketStatus = "Neutral"
)

// AlphaScore holds the scoring result for a single intervention.
type AlphaScore struct {
	InterventionID string       `json:"intervention_id"`
	Name           string       `json:"name"`
	EvidenceScore  float64      `json:"evidence_score"`
	AuthorityScore float64      `json:"authority_score"`
	NarrativeScore float64      `json:"narrative_score"`
	Alpha          float64      `json:"alpha"`
	MarketStatus   MarketStatus `json:"market_status"`
}

const (
	evidenceWeight  = 0.4
	narrativeWeight = 0.3
	authorityWeight = 0.3
)

// Score computes the alpha score for an intervention from its current state.
func Score(iv *model.Intervention) AlphaScore {
	e := evidenceScore(iv.EvidenceLevel)
	a := authorityScore(iv)
	n := narrativeScore()

	alpha := evidenceWeight*e + narrativeWeight*n + authorityWeight*a
	alpha = math.Round(alpha*10) / 10

	return AlphaScore{
		InterventionID: iv.ID,
		Name:           iv.Name,
		EvidenceScore:  e,
		AuthorityScore: a,
		NarrativeScore: n,
		Alpha:          alpha,
		MarketStatus:   marketStatus(alpha, iv.CurrentFunding),
	}
}

func evidenceScore(level model.EvidenceLevel) float64 {
	switch level {
	case model.EvidenceProven:
		return 10
	case model.EvidenceEffective, model.EvidenceIndigenousLed:
		return 8
	case model.EvidencePromising:
		return 6
	case model.EvidenceUntested:
		return 2
	default:
		return 3
	}
}

func authorityScore(iv *model.Intervention) float64 {
	switch {
	case iv.ConsentLevel == model.ConsentCommunityControlled:
		return 10
	case iv.CulturalAuthority:
		return 8
	case iv.ConsentLevel == model.ConsentPublicCommons:
		return 6
	default:
		return 4
	}
}

// narrativeScore is reserved for qualitative story linkage and stays at zero
// until article counts feed into scoring.
func narrativeScore() float64 {
	return 0
}

// marketStatus classifies the funding position; first match wins.
func marketStatus(alpha float64, funding model.FundingStatus) MarketStatus {
	switch {
	case alpha > 6 && (funding == model.FundingUnfunded || funding == model.FundingPilotSeed):
		return MarketUndervalued
	case funding == model.FundingEstablished:
		return MarketFairValue
	case funding == model.FundingAtRisk:
		return MarketDistressed
	default:
		return MarketNeutral
	}
}
