// Package registry persists student registrations and published score sets.
package registry

import (
	"context"
	"errors"

	"github.com/hyperjump/saiten/internal/models"
)

// ErrNotFound is returned when a registration or score lookup has no match.
var ErrNotFound = errors.New("not found")

// ErrDuplicateRegistration is returned when a student identifier is already
// registered to a different recipient handle.
var ErrDuplicateRegistration = errors.New("student identifier already registered")

// Registry defines identity-linkage and score-set persistence operations.
type Registry interface {
	// Identity linkage
	Register(ctx context.Context, reg *models.Registration) error
	ByIdentifier(ctx context.Context, studentID string) (*models.Registration, error)
	All(ctx context.Context) ([]*models.Registration, error)
	// BackfillName fills a missing registration name from a document-provided
	// one. Best effort: unknown identifiers are ignored.
	BackfillName(ctx context.Context, studentID, name string) error

	// Score sets
	// ReplaceScores atomically replaces the entire published score set with
	// the given ingestion's records. Readers never observe a mixture of two
	// ingestions.
	ReplaceScores(ctx context.Context, ing *models.Ingestion, records []models.ScoredRecord) error
	ScoreFor(ctx context.Context, studentID string) (*models.ScoredRecord, error)
	AllScores(ctx context.Context) ([]models.ScoredRecord, error)
	LatestIngestion(ctx context.Context) (*models.Ingestion, error)

	// Stats
	CountRegistrations(ctx context.Context) (int64, error)
	CountScores(ctx context.Context) (int64, error)

	Close() error
}
