// Package extract produces raw table rows from grade-sheet documents.
//
// Two strategies are used depending on the source format. Structured mode
// reads the document's own table geometry (PDF text rows, workbook cells).
// Line mode is the fallback for plain text: one row per line, fields split on
// whitespace runs. Both feed the same acceptance rules, so downstream
// classification does not care which strategy produced a row.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/hyperjump/saiten/internal/models"
	"github.com/hyperjump/saiten/internal/numerals"
)

// Options control one extraction pass.
type Options struct {
	// TargetID stops extraction once a row containing this identifier has
	// been accepted. This is a latency optimization for large multi-page
	// documents: when empty, the full document is scanned and results are
	// unchanged.
	TargetID string
	// IDSlotFromRight is the preferred identifier column checked for
	// TargetID, counted 1-based from the right edge of the row. When zero
	// or wider than the row, every cell is checked instead.
	IDSlotFromRight int
}

// Extractor extracts raw table rows from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its raw table rows.
// Returns an error if the file cannot be read or parsed; an empty or
// table-free document yields zero rows, not an error.
func (e *Extractor) Extract(path string, opts Options) ([]models.RawRow, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return e.ExtractBytes(content, ext, opts)
}

// ExtractBytes extracts raw table rows from content based on the given
// extension. ext should include the leading dot (e.g. ".pdf"). PDF and XLSX
// use structured mode; everything else is treated as plain text in line mode.
func (e *Extractor) ExtractBytes(content []byte, ext string, opts Options) ([]models.RawRow, error) {
	sink := &rowSink{opts: opts}
	var err error
	switch ext {
	case ".pdf":
		err = extractPDF(content, sink)
	case ".xlsx":
		err = extractExcel(content, sink)
	case ".csv":
		err = extractCSV(content, sink)
	default:
		err = extractLines(content, sink)
	}
	if err != nil {
		return nil, err
	}
	return sink.rows, nil
}

// rowSink accumulates accepted rows across extraction strategies and applies
// the shared acceptance rules: cells are trimmed, a row needs at least two
// non-empty cells, and the first all-non-numeric row of each table is dropped
// as a header. Header detection is best effort; rows that slip through are
// rejected later by field resolution.
type rowSink struct {
	opts          Options
	rows          []models.RawRow
	headerDropped bool
}

// newTable resets header detection; each sheet or table carries its own header.
func (s *rowSink) newTable() {
	s.headerDropped = false
}

// add trims and validates one candidate row. It returns true when extraction
// should stop early because the target identifier has been found.
func (s *rowSink) add(cells []string, page int) bool {
	trimmed := make([]string, len(cells))
	nonEmpty := 0
	numeric := false
	for i, c := range cells {
		c = strings.TrimSpace(c)
		trimmed[i] = c
		if c == "" {
			continue
		}
		nonEmpty++
		if containsDigit(c) {
			numeric = true
		}
	}
	if nonEmpty < 2 {
		return false
	}
	if !s.headerDropped && !numeric {
		s.headerDropped = true
		return false
	}
	s.rows = append(s.rows, models.RawRow{Cells: trimmed, Page: page})
	return s.opts.TargetID != "" && s.containsTarget(trimmed)
}

func (s *rowSink) containsTarget(cells []string) bool {
	if slot := s.opts.IDSlotFromRight; slot > 0 && slot <= len(cells) {
		if numerals.Normalize(cells[len(cells)-slot]) == s.opts.TargetID {
			return true
		}
	}
	for _, c := range cells {
		if numerals.Normalize(c) == s.opts.TargetID {
			return true
		}
	}
	return false
}

func containsDigit(s string) bool {
	for _, r := range numerals.Normalize(s) {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
