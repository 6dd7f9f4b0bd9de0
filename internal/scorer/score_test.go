package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/open-justice/intervention-graph/internal/model"
)

func TestScoreProvenCommunityControlledPilot(t *testing.T) {
	iv := &model.Intervention{
		ID:             "iv-1",
		Name:           "Youth Healing Circle",
		EvidenceLevel:  model.EvidenceProven,
		ConsentLevel:   model.ConsentCommunityControlled,
		CurrentFunding: model.FundingPilotSeed,
	}

	s := Score(iv)
	assert.Equal(t, 10.0, s.EvidenceScore)
	assert.Equal(t, 10.0, s.AuthorityScore)
	assert.Equal(t, 0.0, s.NarrativeScore)
	assert.Equal(t, 7.0, s.Alpha)
	assert.Equal(t, MarketUndervalued, s.MarketStatus)
}

func TestEvidenceScoreMapping(t *testing.T) {
	tests := []struct {
		level model.EvidenceLevel
		want  float64
	}{
		{model.EvidenceProven, 10},
		{model.EvidenceEffective, 8},
		{model.EvidenceIndigenousLed, 8},
		{model.EvidencePromising, 6},
		{model.EvidenceUntested, 2},
		{"", 3},
		{"anecdotal", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, evidenceScore(tt.level), "level %q", tt.level)
	}
}

func TestAuthorityScoreOrdering(t *testing.T) {
	assert.Equal(t, 10.0, authorityScore(&model.Intervention{
		ConsentLevel: model.ConsentCommunityControlled,
	}))
	assert.Equal(t, 8.0, authorityScore(&model.Intervention{
		ConsentLevel:      model.ConsentPublicCommons,
		CulturalAuthority: true,
	}), "cultural authority outranks a public consent stamp")
	assert.Equal(t, 6.0, authorityScore(&model.Intervention{
		ConsentLevel: model.ConsentPublicCommons,
	}))
	assert.Equal(t, 4.0, authorityScore(&model.Intervention{}))
}

func TestMarketStatusFirstMatchWins(t *testing.T) {
	tests := []struct {
		name    string
		alpha   float64
		funding model.FundingStatus
		want    MarketStatus
	}{
		{"high alpha unfunded", 6.1, model.FundingUnfunded, MarketUndervalued},
		{"high alpha pilot", 7.0, model.FundingPilotSeed, MarketUndervalued},
		{"high alpha established", 7.0, model.FundingEstablished, MarketFairValue},
		{"low alpha established", 2.0, model.FundingEstablished, MarketFairValue},
		{"at risk", 7.0, model.FundingAtRisk, MarketDistressed},
		{"low alpha unfunded", 2.0, model.FundingUnfunded, MarketNeutral},
		{"alpha exactly six pilot", 6.0, model.FundingPilotSeed, MarketNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, marketStatus(tt.alpha, tt.funding))
		})
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	iv := &model.Intervention{
		ID:                "iv-2",
		Name:              "Night Patrol",
		EvidenceLevel:     model.EvidencePromising,
		CulturalAuthority: true,
		CurrentFunding:    model.FundingAtRisk,
	}
	first := Score(iv)
	second := Score(iv)
	assert.Equal(t, first, second)
}

func TestAlphaRoundedToOneDecimal(t *testing.T) {
	iv := &model.Intervention{
		EvidenceLevel: model.EvidencePromising,
		ConsentLevel:  model.ConsentPublicCommons,
	}
	// 0.4*6 + 0.3*0 + 0.3*6 = 4.2
	assert.Equal(t, 4.2, Score(iv).Alpha)
}
