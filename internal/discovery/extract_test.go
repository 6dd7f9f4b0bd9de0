package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractFullPayload(t *testing.T) {
	raw := []byte(`{
		"title": "Youth Healing Circle",
		"summary": "Culturally grounded diversion program.",
		"item_type": "program",
		"jurisdictions": ["NT"],
		"year": 2021,
		"latitude": -12.46,
		"longitude": 130.84
	}`)

	ex, confidence := Extract(raw)
	assert.Equal(t, 1.0, confidence)
	assert.Equal(t, "Youth Healing Circle", ex.Title)
	assert.Equal(t, []string{"NT"}, ex.Jurisdictions)
	assert.Equal(t, 2021, ex.Year)
	assert.NotNil(t, ex.Latitude)
}

func TestExtractDegradesConfidenceOnMissingFields(t *testing.T) {
	ex, confidence := Extract([]byte(`{"title": "Night Patrol", "summary": "Community patrols."}`))
	assert.Equal(t, 0.5, confidence)
	assert.Equal(t, "Night Patrol", ex.Title)
	assert.Empty(t, ex.Jurisdictions)
}

func TestExtractUnparseablePayload(t *testing.T) {
	ex, confidence := Extract([]byte(`not json at all`))
	assert.Equal(t, 0.0, confidence)
	assert.Equal(t, Extracted{}, ex)
}

func TestExtractWhitespaceOnlyFieldsDoNotCount(t *testing.T) {
	_, confidence := Extract([]byte(`{"title": "   ", "summary": "\t"}`))
	assert.Equal(t, 0.0, confidence)
}
