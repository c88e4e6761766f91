// Package models defines core data structures for grade records, score sets, and registrations.
package models

import "time"

// RawRow is one table line as extracted from a source document: an ordered
// sequence of text cells plus the page (or sheet) it came from. Rows are
// transient and discarded after classification.
type RawRow struct {
	Cells []string
	Page  int
}

// GradeRecord is one accepted row from a grade sheet. Records are created
// once per accepted row during a single extraction pass and are immutable
// afterwards; the full set is replaced on every ingestion.
type GradeRecord struct {
	StudentID   string  `json:"student_id"`
	Grade       float64 `json:"grade"`
	StudentName string  `json:"student_name,omitempty"`
	// AllFields is the original cell sequence, kept for audit and report use.
	AllFields []string `json:"all_fields,omitempty"`
}

// ScoredRecord is a GradeRecord augmented with its rank-based percentile.
// The percentile is derived from the grade column of the full accepted set
// and never mutated individually.
type ScoredRecord struct {
	GradeRecord
	Percentile float64 `json:"percentile"`
	// RecipientHandle is set when identity enrichment matched a registration.
	// Records without a handle stay in the report but are not delivered.
	RecipientHandle string `json:"-"`
}

// PopulationStats holds the descriptive statistics for one score set.
// Recomputed on every ingestion, never persisted apart from the score set
// that produced it.
type PopulationStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// Ingestion identifies one complete pipeline run over one document.
type Ingestion struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Fingerprint string          `json:"fingerprint"`
	Stats       PopulationStats `json:"stats"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Registration is one identity-linkage entry: an opaque recipient handle
// mapped to a student identifier, with an optional name.
type Registration struct {
	RecipientHandle string    `json:"recipient_handle"`
	StudentID       string    `json:"student_id"`
	Name            string    `json:"name,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
