package model

import "github.com/rotisserie/eris"

// ConsentLevel is the disclosure level granted for an entity. Levels form a
// total order from least to most restrictive; a record is visible at a given
// ceiling iff its level is at or below the ceiling.
type ConsentLevel string

const (
	// ConsentPublicCommons marks knowledge shared into the public commons.
	ConsentPublicCommons ConsentLevel = "public_knowledge_commons"

	// ConsentCommunityControlled marks records under community-held control.
	// They are never returned below their own ceiling.
	ConsentCommunityControlled ConsentLevel = "community_controlled"

	// ConsentUnset is the explicit fail-closed sentinel. An entity with no
	// ledger entry resolves to this level, which only the internal
	// administration ceiling can see.
	ConsentUnset ConsentLevel = "unset"
)

// ConsentAdminCeiling is the ceiling used by internal administration reads.
// It is the only ceiling at which unset-level entities are visible.
const ConsentAdminCeiling = ConsentUnset

// Rank returns the position of the level in the restriction order.
// Unknown levels rank as most restrictive.
func (l ConsentLevel) Rank() int {
	switch l {
	case ConsentPublicCommons:
		return 1
	case ConsentCommunityControlled:
		return 2
	default:
		return 3
	}
}

// Visible reports whether a record at level l may be returned to a caller
// holding the given ceiling.
func (l ConsentLevel) Visible(ceiling ConsentLevel) bool {
	return l.Rank() <= ceiling.Rank()
}

// ParseConsentLevel validates a consent level string.
func ParseConsentLevel(s string) (ConsentLevel, error) {
	switch ConsentLevel(s) {
	case ConsentPublicCommons, ConsentCommunityControlled, ConsentUnset:
		return ConsentLevel(s), nil
	default:
		return "", eris.Errorf("model: unknown consent level %q", s)
	}
}

// LedgerEntry records the disclosure grant for one entity.
type LedgerEntry struct {
	EntityType             string       `json:"entity_type" db:"entity_type"`
	EntityID               string       `json:"entity_id" db:"entity_id"`
	ConsentLevel           ConsentLevel `json:"consent_level" db:"consent_level"`
	GivenBy                string       `json:"given_by" db:"given_by"`
	RevenueShareEnabled    bool         `json:"revenue_share_enabled" db:"revenue_share_enabled"`
	RevenueSharePercentage float64      `json:"revenue_share_percentage" db:"revenue_share_percentage"`
}
