// Package report builds the administrative ranking report for a score set.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/saiten/internal/models"
)

// Row is one line of the administrative report.
type Row struct {
	Rank       int     `json:"rank"`
	StudentID  string  `json:"student_id"`
	Name       string  `json:"name,omitempty"`
	Grade      float64 `json:"grade"`
	Percentile float64 `json:"percentile"`
}

// Build orders the scored records by grade descending and assigns 1-based
// ranks derived purely from that ordering. Ties are broken by student
// identifier so the report is deterministic.
func Build(records []models.ScoredRecord) []Row {
	sorted := append([]models.ScoredRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Grade != sorted[j].Grade {
			return sorted[i].Grade > sorted[j].Grade
		}
		return sorted[i].StudentID < sorted[j].StudentID
	})

	rows := make([]Row, len(sorted))
	for i, rec := range sorted {
		rows[i] = Row{
			Rank:       i + 1,
			StudentID:  rec.StudentID,
			Name:       rec.StudentName,
			Grade:      rec.Grade,
			Percentile: rec.Percentile,
		}
	}
	return rows
}

var xlsxHeader = []string{"Rank", "Student ID", "Name", "Grade", "Percentile"}

// WriteXLSX writes the report as a workbook: a Results sheet with the ranked
// rows and a Statistics sheet with the population summary.
func WriteXLSX(w io.Writer, rows []Row, stats *models.PopulationStats, source string) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for i, h := range xlsxHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for i, row := range rows {
		values := []interface{}{row.Rank, row.StudentID, row.Name, row.Grade, row.Percentile}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("write row %d: %w", i+1, err)
			}
		}
	}

	const statsSheet = "Statistics"
	if _, err := f.NewSheet(statsSheet); err != nil {
		return fmt.Errorf("create statistics sheet: %w", err)
	}
	summary := [][]interface{}{
		{"Source", source},
		{"Count", stats.Count},
		{"Mean", stats.Mean},
		{"Standard deviation", stats.StdDev},
		{"Minimum", stats.Min},
		{"Maximum", stats.Max},
	}
	for i, pair := range summary {
		for j, v := range pair {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			if err := f.SetCellValue(statsSheet, cell, v); err != nil {
				return fmt.Errorf("write statistics: %w", err)
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteMarkdown writes the report as a Markdown document with the population
// summary followed by the ranked table.
func WriteMarkdown(w io.Writer, rows []Row, stats *models.PopulationStats, source string) error {
	var err error
	p := func(format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	p("# Grade report — %s\n\n", source)
	p("- Students: %d\n", stats.Count)
	p("- Mean: %.2f\n", stats.Mean)
	p("- Standard deviation: %.2f\n", stats.StdDev)
	p("- Range: %.2f – %.2f\n\n", stats.Min, stats.Max)
	p("| Rank | Student ID | Name | Grade | Percentile |\n")
	p("|-----:|-----------|------|------:|-----------:|\n")
	for _, row := range rows {
		p("| %d | %s | %s | %.2f | %.2f |\n", row.Rank, row.StudentID, row.Name, row.Grade, row.Percentile)
	}
	return err
}
