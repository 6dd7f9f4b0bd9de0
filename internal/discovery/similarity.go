package discovery

import (
	"strings"

	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/open-justice/intervention-graph/internal/model"
)

// DefaultDuplicateThreshold is the similarity score at or above which an
// item is flagged as a potential duplicate of a canonical intervention.
const DefaultDuplicateThreshold = 0.8

// Strategy scores how similar a candidate item is to a canonical
// intervention. Scores are in [0,1]; higher means more alike. Adding
// information to the candidate must never lower the score.
type Strategy interface {
	Score(candidate Extracted, canonical model.Intervention) float64
}

// LexicalGeoStrategy is the default similarity strategy: weighted name
// token overlap, jurisdiction overlap, type match, and a small bonus when
// coordinates place the candidate near the canonical record.
type LexicalGeoStrategy struct{}

const (
	nameWeight = 0.6
	geoWeight  = 0.3
	typeWeight = 0.1

	// proximityBonus caps the coordinate bonus so it can nudge a borderline
	// pair over the threshold but never dominate the lexical signal.
	proximityBonus  = 0.05
	proximityRadius = 0.5 // degrees, roughly 50km at these latitudes
)

func (LexicalGeoStrategy) Score(candidate Extracted, canonical model.Intervention) float64 {
	score := nameWeight*tokenJaccard(candidate.Title, canonical.Name) +
		geoWeight*jurisdictionOverlap(candidate.Jurisdictions, canonical.Geography)

	if candidate.ItemType != "" && strings.EqualFold(candidate.ItemType, canonical.Type) {
		score += typeWeight
	}
	if candidate.Latitude != nil && candidate.Longitude != nil &&
		canonical.Latitude != nil && canonical.Longitude != nil {
		d := xy.Distance(
			geom.Coord{*candidate.Longitude, *candidate.Latitude},
			geom.Coord{*canonical.Longitude, *canonical.Latitude},
		)
		if d <= proximityRadius {
			score += proximityBonus * (1 - d/proximityRadius)
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// genericSuffixes are organisational filler words dropped before comparing
// names, so "Youth Healing Circle Program" matches "Youth Healing Circle".
var genericSuffixes = map[string]bool{
	"program":      true,
	"programme":    true,
	"project":      true,
	"initiative":   true,
	"service":      true,
	"services":     true,
	"inc":          true,
	"incorporated": true,
	"ltd":          true,
	"limited":      true,
	"corporation":  true,
	"association":  true,
	"foundation":   true,
}

func nameTokens(s string) map[string]bool {
	tokens := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:()[]'\"&-")
		if f == "" || genericSuffixes[f] {
			continue
		}
		tokens[f] = true
	}
	return tokens
}

func tokenJaccard(a, b string) float64 {
	ta, tb := nameTokens(a), nameTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func jurisdictionOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := map[string]bool{}
	for _, j := range a {
		set[strings.ToUpper(strings.TrimSpace(j))] = true
	}
	inter := 0
	seen := map[string]bool{}
	for _, j := range b {
		k := strings.ToUpper(strings.TrimSpace(j))
		if set[k] && !seen[k] {
			inter++
			seen[k] = true
		}
	}
	union := len(set) + countDistinct(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func countDistinct(js []string) int {
	set := map[string]bool{}
	for _, j := range js {
		set[strings.ToUpper(strings.TrimSpace(j))] = true
	}
	return len(set)
}
