package discovery

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// requiredFields are the extracted fields that count toward confidence.
// Missing fields degrade confidence rather than rejecting the payload.
var requiredFields = []string{"title", "jurisdictions", "summary", "item_type"}

// Extract parses a raw JSON payload into structured fields and returns the
// extraction confidence in [0,1]. An unparseable payload yields an empty
// Extracted with confidence 0 so the item still lands in the queue for a
// human to look at.
func Extract(raw []byte) (Extracted, float64) {
	var ex Extracted
	if err := json.Unmarshal(raw, &ex); err != nil {
		zap.L().Debug("extract: unparseable payload", zap.Error(err))
		return Extracted{}, 0
	}
	ex.Title = strings.TrimSpace(ex.Title)
	ex.Summary = strings.TrimSpace(ex.Summary)
	ex.ItemType = strings.TrimSpace(ex.ItemType)

	present := 0
	if ex.Title != "" {
		present++
	}
	if len(ex.Jurisdictions) > 0 {
		present++
	}
	if ex.Summary != "" {
		present++
	}
	if ex.ItemType != "" {
		present++
	}
	return ex, float64(present) / float64(len(requiredFields))
}
