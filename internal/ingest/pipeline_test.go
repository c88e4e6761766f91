package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/saiten/internal/config"
	"github.com/hyperjump/saiten/internal/models"
	"github.com/hyperjump/saiten/internal/registry"
)

const sheet = "Subject  Level  Grade  Name  Number  Term\n" +
	"Medicine  Year 2  60  Ahmad Khalil  12345  4\n" +
	"Medicine  Year 2  70  Sara Haddad   12346  4\n" +
	"Medicine  Year 2  80  Omar Najjar   12347  4\n" +
	"Medicine  Year 2  90  Lina Aswad    12348  4\n"

func newTestPipeline(t *testing.T) (*Pipeline, *registry.SQLiteRegistry) {
	t.Helper()
	reg, err := registry.NewSQLiteRegistry(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRegistry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return NewPipeline(reg, config.ParsingConfig{}, nil), reg
}

func TestIngestBytes(t *testing.T) {
	p, reg := newTestPipeline(t)
	ctx := context.Background()

	result, err := p.IngestBytes(ctx, []byte(sheet), ".txt", "term1.txt")
	if err != nil {
		t.Fatalf("IngestBytes: %v", err)
	}
	if len(result.Records) != 4 {
		t.Fatalf("got %d records, want 4", len(result.Records))
	}
	if result.Ingestion.Stats.Mean != 75 || result.Ingestion.Stats.Count != 4 {
		t.Errorf("unexpected stats: %+v", result.Ingestion.Stats)
	}
	if result.Ingestion.ID == "" || result.Ingestion.Fingerprint == "" {
		t.Error("ingestion id and fingerprint must be set")
	}

	// Committed and readable through the registry.
	rec, err := reg.ScoreFor(ctx, "12346")
	if err != nil {
		t.Fatalf("ScoreFor: %v", err)
	}
	if rec.Grade != 70 || rec.Percentile != 50 {
		t.Errorf("got grade %v percentile %v, want 70 and 50", rec.Grade, rec.Percentile)
	}
	if rec.StudentName != "Sara Haddad" {
		t.Errorf("StudentName = %q", rec.StudentName)
	}
}

func TestIngestBytes_noUsableData(t *testing.T) {
	p, reg := newTestPipeline(t)
	ctx := context.Background()

	// Seed a score set, then fail an ingestion; the old set must survive.
	if _, err := p.IngestBytes(ctx, []byte(sheet), ".txt", "term1.txt"); err != nil {
		t.Fatal(err)
	}

	_, err := p.IngestBytes(ctx, []byte("just prose\nno tables here at all\n"), ".txt", "bad.txt")
	if !errors.Is(err, ErrNoUsableData) {
		t.Fatalf("err = %v, want ErrNoUsableData", err)
	}

	n, err := reg.CountScores(ctx)
	if err != nil || n != 4 {
		t.Errorf("failed ingestion must not touch the published set: count=%d err=%v", n, err)
	}
}

func TestIngestBytes_replacesPreviousSet(t *testing.T) {
	p, reg := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.IngestBytes(ctx, []byte(sheet), ".txt", "term1.txt"); err != nil {
		t.Fatal(err)
	}
	second := "Medicine  Year 2  40  Only Student  20001  4\n" +
		"Medicine  Year 2  95  Other Student  20002  4\n"
	if _, err := p.IngestBytes(ctx, []byte(second), ".txt", "term2.txt"); err != nil {
		t.Fatal(err)
	}

	all, err := reg.AllScores(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("score set not replaced: %d records", len(all))
	}
	if _, err := reg.ScoreFor(ctx, "12345"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("first ingestion's record still visible: %v", err)
	}
}

func TestIngestBytes_enrichment(t *testing.T) {
	p, reg := newTestPipeline(t)
	ctx := context.Background()

	// Registered with a name the document lacks, registered without a name
	// the document has, and unregistered.
	if err := reg.Register(ctx, &models.Registration{RecipientHandle: "chat:1", StudentID: "12345", Name: "Registered Name"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, &models.Registration{RecipientHandle: "chat:2", StudentID: "12346"}); err != nil {
		t.Fatal(err)
	}

	sheet := "X,X,60,,12345,4\n" + // nameless document row
		"X,X,70,Sara Haddad,12346,4\n" +
		"X,X,80,Omar Najjar,12347,4\n"
	result, err := p.IngestBytes(ctx, []byte(sheet), ".csv", "term.csv")
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Deliveries) != 2 {
		t.Fatalf("got %d deliveries, want 2 (unregistered students are not delivered)", len(result.Deliveries))
	}
	byID := map[string]models.ScoredRecord{}
	for _, rec := range result.Records {
		byID[rec.StudentID] = rec
	}
	if byID["12345"].RecipientHandle != "chat:1" {
		t.Errorf("recipient handle not joined: %+v", byID["12345"])
	}
	if byID["12345"].StudentName != "Registered Name" {
		t.Errorf("registry name not used for nameless row: %q", byID["12345"].StudentName)
	}
	if byID["12347"].RecipientHandle != "" {
		t.Error("unregistered student must not get a handle")
	}

	// Name backfilled into the registry from the document.
	got, err := reg.ByIdentifier(ctx, "12346")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Sara Haddad" {
		t.Errorf("name not backfilled: %q", got.Name)
	}
}

func TestExtract(t *testing.T) {
	p, _ := newTestPipeline(t)

	records, err := p.Extract([]byte(sheet), ".txt")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want 4", len(records))
	}

	if _, err := p.Extract([]byte("nothing here"), ".txt"); !errors.Is(err, ErrNoUsableData) {
		t.Errorf("err = %v, want ErrNoUsableData", err)
	}
}

func TestLookup(t *testing.T) {
	p, _ := newTestPipeline(t)

	rec, err := p.Lookup([]byte(sheet), ".txt", "12347")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Grade != 80 {
		t.Errorf("Grade = %v, want 80", rec.Grade)
	}

	if _, err := p.Lookup([]byte(sheet), ".txt", "99999"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestIngest_unreadableFile(t *testing.T) {
	p, _ := newTestPipeline(t)
	if _, err := p.Ingest(context.Background(), filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Fatal("expected error for missing document")
	}
}
