// Package ingest orchestrates one full pipeline pass over a grade sheet:
// extraction, classification, scoring, identity enrichment, and commit.
//
// Stages run sequentially for one document. Computation is not serialized
// across concurrent ingestions, but the commit is: each ingestion replaces
// the published score set whole, so at most one commit runs at a time.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/config"
	"github.com/hyperjump/saiten/internal/extract"
	"github.com/hyperjump/saiten/internal/models"
	"github.com/hyperjump/saiten/internal/registry"
	"github.com/hyperjump/saiten/internal/resolve"
	"github.com/hyperjump/saiten/internal/scoring"
)

// ErrNoUsableData is returned when a full extraction pass yields zero
// accepted records. It is a terminal condition for the ingestion, distinct
// from an unreadable document: no partial dataset is ever scored.
var ErrNoUsableData = errors.New("no usable grade data found")

// Pipeline runs ingestions against a shared registry.
type Pipeline struct {
	extractor *extract.Extractor
	resolver  *resolve.Resolver
	registry  registry.Registry
	parsing   config.ParsingConfig
	logger    *zap.Logger

	// commitMu serializes score-set replacement, not computation.
	commitMu sync.Mutex
}

// Result summarizes one committed ingestion.
type Result struct {
	Ingestion  *models.Ingestion     `json:"ingestion"`
	Records    []models.ScoredRecord `json:"records"`
	Deliveries []Delivery            `json:"-"`
	RowsSeen   int                   `json:"rows_seen"`
}

// Delivery pairs a scored record with the recipient handle it should be sent
// to. Only records matching a registration become deliveries; unmatched
// students stay in Records for the administrative report.
type Delivery struct {
	RecipientHandle string
	Record          models.ScoredRecord
}

// NewPipeline returns a Pipeline. A nil logger disables logging.
func NewPipeline(reg registry.Registry, parsing config.ParsingConfig, logger *zap.Logger) *Pipeline {
	config.ApplyParsingDefaults(&parsing)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		extractor: extract.NewExtractor(),
		resolver:  resolve.NewResolver(parsing, logger),
		registry:  reg,
		parsing:   parsing,
		logger:    logger,
	}
}

// Ingest reads the document at path and runs a full ingestion.
func (p *Pipeline) Ingest(ctx context.Context, path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return p.IngestBytes(ctx, content, ext, filepath.Base(path))
}

// IngestBytes runs a full ingestion over document bytes: extract and classify
// every row, score the accepted set, enrich against the registry, and commit
// the replacement score set atomically.
func (p *Pipeline) IngestBytes(ctx context.Context, content []byte, ext, source string) (*Result, error) {
	rows, err := p.extractor.ExtractBytes(content, ext, extract.Options{})
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", source, err)
	}
	records := p.resolver.ResolveAll(rows)
	p.logger.Info("document extracted",
		zap.String("source", source),
		zap.Int("rows", len(rows)),
		zap.Int("accepted", len(records)))
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", source, ErrNoUsableData)
	}

	scored, stats, err := scoring.Score(records)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", source, err)
	}

	deliveries := p.enrich(ctx, scored)

	ing := &models.Ingestion{
		ID:          uuid.NewString(),
		Source:      source,
		Fingerprint: fingerprint(content),
		Stats:       *stats,
	}
	if prev, err := p.registry.LatestIngestion(ctx); err == nil && prev.Fingerprint == ing.Fingerprint {
		p.logger.Info("document previously ingested; replacing with identical content",
			zap.String("source", source), zap.String("previous_ingestion", prev.ID))
	}

	p.commitMu.Lock()
	err = p.registry.ReplaceScores(ctx, ing, scored)
	p.commitMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("commit scores: %w", err)
	}

	p.logger.Info("ingestion committed",
		zap.String("ingestion_id", ing.ID),
		zap.String("source", source),
		zap.Int("count", stats.Count),
		zap.Float64("mean", stats.Mean),
		zap.Int("deliveries", len(deliveries)))

	return &Result{Ingestion: ing, Records: scored, Deliveries: deliveries, RowsSeen: len(rows)}, nil
}

// Extract runs extraction and classification only, without scoring or commit.
func (p *Pipeline) Extract(content []byte, ext string) ([]models.GradeRecord, error) {
	rows, err := p.extractor.ExtractBytes(content, ext, extract.Options{})
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	records := p.resolver.ResolveAll(rows)
	if len(records) == 0 {
		return nil, ErrNoUsableData
	}
	return records, nil
}

// Lookup extracts just enough of the document to find one student's record,
// stopping the page scan early once the identifier is seen. Nothing is
// scored or committed.
func (p *Pipeline) Lookup(content []byte, ext, studentID string) (*models.GradeRecord, error) {
	rows, err := p.extractor.ExtractBytes(content, ext, extract.Options{
		TargetID:        studentID,
		IDSlotFromRight: p.parsing.IDSlotFromRight,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	for _, rec := range p.resolver.ResolveAll(rows) {
		if rec.StudentID == studentID {
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("student %s: %w", studentID, registry.ErrNotFound)
}

// enrich left-joins the scored set against the registry: matched records get
// a recipient handle and a registry name when the document had none, and the
// registry gets a name backfill when the document supplied one it lacks.
func (p *Pipeline) enrich(ctx context.Context, scored []models.ScoredRecord) []Delivery {
	var deliveries []Delivery
	for i := range scored {
		reg, err := p.registry.ByIdentifier(ctx, scored[i].StudentID)
		if err != nil {
			if !errors.Is(err, registry.ErrNotFound) {
				p.logger.Warn("registry lookup failed",
					zap.String("student_id", scored[i].StudentID), zap.Error(err))
			}
			continue
		}
		scored[i].RecipientHandle = reg.RecipientHandle
		switch {
		case scored[i].StudentName == "" && reg.Name != "":
			scored[i].StudentName = reg.Name
		case scored[i].StudentName != "" && reg.Name == "":
			// Fire and forget; a failed backfill never fails the ingestion.
			if err := p.registry.BackfillName(ctx, scored[i].StudentID, scored[i].StudentName); err != nil {
				p.logger.Debug("name backfill failed",
					zap.String("student_id", scored[i].StudentID), zap.Error(err))
			}
		}
		deliveries = append(deliveries, Delivery{RecipientHandle: reg.RecipientHandle, Record: scored[i]})
	}
	return deliveries
}

// fingerprint returns a stable digest identifying the document content, used
// to spot re-ingestion of the same file.
func fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
