// Package discovery implements the ingestion and dedup pipeline: candidate
// items arrive from external producers, get scored against the canonical
// graph, and wait in a review queue until a reviewer promotes, rejects, or
// merges them.
package discovery

import (
	"time"
)

// Status is the review state of a discovered item. An item transitions
// exactly once from pending to one terminal status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusMerged   Status = "merged"
)

// Item is a candidate record awaiting review.
type Item struct {
	ID                   string    `json:"id" db:"id"`
	SourceID             string    `json:"source_id" db:"source_id"`
	SourceURL            string    `json:"source_url,omitempty" db:"source_url"`
	ItemType             string    `json:"item_type,omitempty" db:"item_type"`
	RawData              []byte    `json:"raw_data,omitempty" db:"raw_data"`
	Extracted            Extracted `json:"extracted" db:"extracted"`
	ExtractionConfidence float64   `json:"extraction_confidence" db:"extraction_confidence"`
	SimilarityScore      float64   `json:"similarity_score" db:"similarity_score"`
	PotentialDuplicateID *string   `json:"potential_duplicate_id,omitempty" db:"potential_duplicate_id"`
	Status               Status    `json:"status" db:"status"`
	RejectionReason      string    `json:"rejection_reason,omitempty" db:"rejection_reason"`
	DiscoveredAt         time.Time `json:"discovered_at" db:"discovered_at"`
}

// Extracted holds the structured fields pulled out of a raw payload.
// All fields are optional; ExtractionConfidence on the item reflects how
// many of the required ones were present.
type Extracted struct {
	Title         string   `json:"title,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	ItemType      string   `json:"item_type,omitempty"`
	Jurisdictions []string `json:"jurisdictions,omitempty"`
	Year          int      `json:"year,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	CountryCode   string   `json:"country_code,omitempty"`
	SourceURL     string   `json:"source_url,omitempty"`
}

// ListOpts configures listing of the review queue.
type ListOpts struct {
	Status   Status
	ItemType string
	SourceID string
	Limit    int
	Offset   int
}
