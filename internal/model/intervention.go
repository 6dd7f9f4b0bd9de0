package model

import "time"

// EvidenceLevel is the ordered evidence-strength category for an intervention.
type EvidenceLevel string

const (
	EvidenceUntested      EvidenceLevel = "untested"
	EvidencePromising     EvidenceLevel = "promising"
	EvidenceEffective     EvidenceLevel = "effective"
	EvidenceIndigenousLed EvidenceLevel = "effective_indigenous_led"
	EvidenceProven        EvidenceLevel = "proven"
)

// FundingStatus describes the current funding position of an intervention.
// Interventions are never hard-deleted; at_risk doubles as the soft-archive
// state.
type FundingStatus string

const (
	FundingUnfunded    FundingStatus = "unfunded"
	FundingPilotSeed   FundingStatus = "pilot_seed"
	FundingEstablished FundingStatus = "established"
	FundingAtRisk      FundingStatus = "at_risk"
)

// ExtSchemaVersion is the current version of the Ext extension structure.
const ExtSchemaVersion = 1

// Ext is the typed, schema-versioned extension structure carried by an
// intervention in place of an open-ended metadata map. Known optional fields
// get first-class slots; source-specific scalars go into Extra.
type Ext struct {
	SchemaVersion  int               `json:"schema_version"`
	SourceID       string            `json:"source_id,omitempty"`
	SourceURL      string            `json:"source_url,omitempty"`
	Year           int               `json:"year,omitempty"`
	CountryCode    string            `json:"country_code,omitempty"`
	Categories     []string          `json:"categories,omitempty"`
	ContactEmail   string            `json:"contact_email,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Intervention is a documented program, policy, or practice.
type Intervention struct {
	ID                string        `json:"id" db:"id"`
	Name              string        `json:"name" db:"name"`
	Type              string        `json:"type" db:"type"`
	Description       string        `json:"description" db:"description"`
	EvidenceLevel     EvidenceLevel `json:"evidence_level" db:"evidence_level"`
	CurrentFunding    FundingStatus `json:"current_funding" db:"current_funding"`
	ConsentLevel      ConsentLevel  `json:"consent_level" db:"consent_level"`
	CulturalAuthority bool          `json:"cultural_authority" db:"cultural_authority"`
	Geography         []string      `json:"geography" db:"geography"`
	Latitude          *float64      `json:"latitude,omitempty" db:"latitude"`
	Longitude         *float64      `json:"longitude,omitempty" db:"longitude"`
	Ext               Ext           `json:"ext" db:"ext"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// Evidence is a source document or study.
type Evidence struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	SourceURL string    `json:"source_url,omitempty" db:"source_url"`
	// SourceTitle carries the publication name when no URL exists.
	SourceTitle string    `json:"source_title,omitempty" db:"source_title"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Outcome is a named measurable result category.
type Outcome struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// CommunityContext describes a community's needs and assets.
type CommunityContext struct {
	ID          string    `json:"id" db:"id"`
	Community   string    `json:"community" db:"community"`
	Needs       string    `json:"needs,omitempty" db:"needs"`
	Assets      string    `json:"assets,omitempty" db:"assets"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ArticleEvidenceLink ties a narrative article to an evidence record with a
// note on why it is relevant.
type ArticleEvidenceLink struct {
	ArticleID     string `json:"article_id" db:"article_id"`
	EvidenceID    string `json:"evidence_id" db:"evidence_id"`
	RelevanceNote string `json:"relevance_note,omitempty" db:"relevance_note"`
}
