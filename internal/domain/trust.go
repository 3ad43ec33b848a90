package domain

import (
	"time"

	"github.com/Harshitk-cp/skytrust/internal/opinion"
)

// TrustEdge is a direct trust opinion one identity holds about another
// within a scope (e.g. "politics").
type TrustEdge struct {
	FromDID     string          `json:"fromDid"`
	ToDID       string          `json:"toDid"`
	Scope       string          `json:"scope"`
	Opinion     opinion.Opinion `json:"opinion"`
	EvidenceRef *string         `json:"evidenceRef,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// DerivedTrust is the opinion computed for a from→to pair, either directly
// or through one intermediary.
type DerivedTrust struct {
	FromDID     string          `json:"fromDid"`
	ToDID       string          `json:"toDid"`
	Scope       string          `json:"scope"`
	Via         string          `json:"via,omitempty"`
	Opinion     opinion.Opinion `json:"opinion"`
	Expectation float64         `json:"expectation"`
	Sources     []string        `json:"sources"`
}
