package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/open-justice/intervention-graph/internal/model"
)

func TestLexicalGeoStrategyFlagsNearIdenticalPrograms(t *testing.T) {
	s := LexicalGeoStrategy{}

	candidate := Extracted{
		Title:         "Youth Healing Circle Program",
		Jurisdictions: []string{"NT"},
	}
	canonical := model.Intervention{
		Name:      "Youth Healing Circle",
		Geography: []string{"NT"},
	}

	score := s.Score(candidate, canonical)
	assert.GreaterOrEqual(t, score, DefaultDuplicateThreshold,
		"same name modulo a generic suffix in the same jurisdiction must flag")
}

func TestLexicalGeoStrategyUnrelatedProgramsScoreLow(t *testing.T) {
	s := LexicalGeoStrategy{}

	score := s.Score(
		Extracted{Title: "Night Patrol Service", Jurisdictions: []string{"WA"}},
		model.Intervention{Name: "On Country Mentoring", Geography: []string{"QLD"}},
	)
	assert.Less(t, score, 0.3)
}

func TestLexicalGeoStrategyMonotonic(t *testing.T) {
	s := LexicalGeoStrategy{}
	canonical := model.Intervention{
		Name:      "Youth Healing Circle",
		Type:      "program",
		Geography: []string{"NT", "WA"},
	}

	base := Extracted{Title: "Youth Healing Circle"}
	score := s.Score(base, canonical)

	// Each added piece of agreeing information may only raise the score.
	withGeo := base
	withGeo.Jurisdictions = []string{"NT"}
	scoreGeo := s.Score(withGeo, canonical)
	assert.GreaterOrEqual(t, scoreGeo, score)

	withType := withGeo
	withType.ItemType = "program"
	scoreType := s.Score(withType, canonical)
	assert.GreaterOrEqual(t, scoreType, scoreGeo)
}

func TestLexicalGeoStrategyProximityBonusIsCapped(t *testing.T) {
	s := LexicalGeoStrategy{}

	lat, lon := -12.46, 130.84
	candidate := Extracted{
		Title:         "Youth Healing Circle",
		Jurisdictions: []string{"NT"},
		Latitude:      &lat,
		Longitude:     &lon,
	}
	canonical := model.Intervention{
		Name:      "Youth Healing Circle",
		Geography: []string{"NT"},
		Latitude:  &lat,
		Longitude: &lon,
	}

	score := s.Score(candidate, canonical)
	assert.LessOrEqual(t, score, 1.0)

	// Distant coordinates contribute nothing but never subtract.
	farLat, farLon := -33.87, 151.21
	candidate.Latitude, candidate.Longitude = &farLat, &farLon
	far := s.Score(candidate, canonical)
	assert.LessOrEqual(t, far, score)
	assert.GreaterOrEqual(t, far, nameWeight+geoWeight-0.01)
}

func TestTokenJaccardStripsGenericSuffixes(t *testing.T) {
	assert.Equal(t, 1.0, tokenJaccard("Back on Track Initiative", "Back on Track Program"))
	assert.Equal(t, 0.0, tokenJaccard("", "Youth Healing Circle"))
}

func TestJurisdictionOverlap(t *testing.T) {
	assert.Equal(t, 1.0, jurisdictionOverlap([]string{"nt"}, []string{"NT"}))
	assert.Equal(t, 0.5, jurisdictionOverlap([]string{"NT", "WA"}, []string{"NT"}))
	assert.Equal(t, 0.0, jurisdictionOverlap(nil, []string{"NT"}))
}
