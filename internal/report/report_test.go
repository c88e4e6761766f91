package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/saiten/internal/models"
)

func scored(id string, grade, percentile float64, name string) models.ScoredRecord {
	return models.ScoredRecord{
		GradeRecord: models.GradeRecord{StudentID: id, Grade: grade, StudentName: name},
		Percentile:  percentile,
	}
}

func testStats() *models.PopulationStats {
	return &models.PopulationStats{Mean: 75, StdDev: 12.91, Min: 60, Max: 90, Count: 4}
}

func TestBuild(t *testing.T) {
	rows := Build([]models.ScoredRecord{
		scored("12345", 60, 25, "Ahmad"),
		scored("12346", 90, 100, "Sara"),
		scored("12347", 70, 50, "Omar"),
	})
	wantOrder := []string{"12346", "12347", "12345"}
	for i, want := range wantOrder {
		if rows[i].StudentID != want {
			t.Errorf("position %d = %s, want %s", i, rows[i].StudentID, want)
		}
		if rows[i].Rank != i+1 {
			t.Errorf("rank at %d = %d, want %d", i, rows[i].Rank, i+1)
		}
	}
}

func TestBuild_tieOrderDeterministic(t *testing.T) {
	a := Build([]models.ScoredRecord{
		scored("20002", 70, 100, ""),
		scored("20001", 70, 100, ""),
	})
	b := Build([]models.ScoredRecord{
		scored("20001", 70, 100, ""),
		scored("20002", 70, 100, ""),
	})
	for i := range a {
		if a[i].StudentID != b[i].StudentID {
			t.Fatalf("tie order depends on input order: %v vs %v", a, b)
		}
	}
	if a[0].StudentID != "20001" {
		t.Errorf("ties should order by student id, got %s first", a[0].StudentID)
	}
}

func TestWriteXLSX(t *testing.T) {
	rows := Build([]models.ScoredRecord{
		scored("12346", 90, 100, "Sara"),
		scored("12345", 60, 25, "Ahmad"),
	})

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, rows, testStats(), "term1.pdf"); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	got, err := f.GetRows("Results")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(got))
	}
	if got[1][1] != "12346" || got[2][1] != "12345" {
		t.Errorf("unexpected ordering: %v", got)
	}

	statsRows, err := f.GetRows("Statistics")
	if err != nil {
		t.Fatal(err)
	}
	if len(statsRows) == 0 || statsRows[0][1] != "term1.pdf" {
		t.Errorf("statistics sheet missing source: %v", statsRows)
	}
}

func TestWriteMarkdown(t *testing.T) {
	rows := Build([]models.ScoredRecord{
		scored("12346", 90, 100, "Sara"),
		scored("12345", 60, 25, "Ahmad"),
	})

	var buf strings.Builder
	if err := WriteMarkdown(&buf, rows, testStats(), "term1.pdf"); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"term1.pdf", "Mean: 75.00", "| 1 | 12346 |", "| 2 | 12345 |"} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
}
