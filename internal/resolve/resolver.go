// Package resolve classifies raw table rows and resolves student grade fields.
//
// Grade sheets carry no machine-readable schema, but field order is stable
// within one document, so resolution relies on configured positional slots
// with content-pattern checks (fixed identifier width, admissible grade
// range) as the safety net against positional drift.
package resolve

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/config"
	"github.com/hyperjump/saiten/internal/models"
	"github.com/hyperjump/saiten/internal/numerals"
)

// decoration matches everything that is not part of a plain decimal number.
// Grade cells in real sheets carry asterisks, percent signs, and stray marks.
var decoration = regexp.MustCompile(`[^0-9.\-]`)

// Resolver decides whether a raw row is a student grade entry and extracts
// (identifier, grade, name) from it.
type Resolver struct {
	cfg       config.ParsingConfig
	idPattern *regexp.Regexp
	logger    *zap.Logger
}

// NewResolver returns a Resolver for the given positional conventions.
// A nil logger disables row-rejection logging.
func NewResolver(cfg config.ParsingConfig, logger *zap.Logger) *Resolver {
	config.ApplyParsingDefaults(&cfg)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cfg:       cfg,
		idPattern: regexp.MustCompile(fmt.Sprintf(`^\d{%d}$`, cfg.IDDigits)),
		logger:    logger,
	}
}

// Resolve classifies one raw row. The second return value is false when the
// row is not a grade entry; non-data rows are dropped silently, rows with an
// identifier but a bad grade are dropped with a log line.
func (r *Resolver) Resolve(row models.RawRow) (models.GradeRecord, bool) {
	cells := row.Cells
	if countNonEmpty(cells) < 3 {
		return models.GradeRecord{}, false
	}

	id, ok := r.resolveID(cells)
	if !ok {
		// No identifier anywhere: not a data row.
		return models.GradeRecord{}, false
	}

	grade, ok := r.resolveGrade(cells)
	if !ok {
		r.logger.Debug("row dropped: grade cell did not parse",
			zap.String("student_id", id), zap.Int("page", row.Page))
		return models.GradeRecord{}, false
	}
	if grade < r.cfg.ScoreMin || grade > r.cfg.ScoreMax {
		r.logger.Warn("row dropped: grade out of range",
			zap.String("student_id", id),
			zap.Float64("grade", grade),
			zap.Float64("min", r.cfg.ScoreMin),
			zap.Float64("max", r.cfg.ScoreMax))
		return models.GradeRecord{}, false
	}

	return models.GradeRecord{
		StudentID:   id,
		Grade:       grade,
		StudentName: r.resolveName(cells),
		AllFields:   append([]string(nil), cells...),
	}, true
}

// ResolveAll classifies a full extraction pass and returns the accepted records.
func (r *Resolver) ResolveAll(rows []models.RawRow) []models.GradeRecord {
	var records []models.GradeRecord
	for _, row := range rows {
		if rec, ok := r.Resolve(row); ok {
			records = append(records, rec)
		}
	}
	return records
}

// resolveID prefers the configured slot from the right edge; when that cell
// does not match the fixed-width digit pattern, every cell is scanned and the
// first match wins.
func (r *Resolver) resolveID(cells []string) (string, bool) {
	if slot := r.cfg.IDSlotFromRight; slot > 0 && slot <= len(cells) {
		if id := numerals.Normalize(cells[len(cells)-slot]); r.idPattern.MatchString(id) {
			return id, true
		}
	}
	for _, c := range cells {
		if id := numerals.Normalize(c); r.idPattern.MatchString(id) {
			return id, true
		}
	}
	return "", false
}

// resolveGrade reads the configured slot from the left edge, normalizes
// numerals, strips non-numeric decoration, and parses the remainder.
func (r *Resolver) resolveGrade(cells []string) (float64, bool) {
	idx := r.cfg.GradeSlotFromLeft - 1
	if idx < 0 || idx >= len(cells) {
		return 0, false
	}
	raw := decoration.ReplaceAllString(numerals.Normalize(cells[idx]), "")
	if raw == "" {
		return 0, false
	}
	grade, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return grade, true
}

// resolveName reads the configured slot from the right edge when the row is
// wide enough. A missing name is tolerated and returned as "".
func (r *Resolver) resolveName(cells []string) string {
	slot := r.cfg.NameSlotFromRight
	if slot <= 0 || slot > len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[len(cells)-slot])
}

func countNonEmpty(cells []string) int {
	n := 0
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}
