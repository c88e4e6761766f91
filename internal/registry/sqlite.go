package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/saiten/internal/models"
)

// SQLiteRegistry implements Registry using SQLite.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRegistry{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS registrations (
		recipient_handle TEXT PRIMARY KEY,
		student_id TEXT UNIQUE NOT NULL,
		name TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_registrations_student_id ON registrations(student_id);

	CREATE TABLE IF NOT EXISTS ingestions (
		id TEXT PRIMARY KEY,
		source TEXT,
		fingerprint TEXT,
		mean REAL NOT NULL,
		std_dev REAL NOT NULL,
		min REAL NOT NULL,
		max REAL NOT NULL,
		count INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS scores (
		student_id TEXT PRIMARY KEY,
		grade REAL NOT NULL,
		percentile REAL NOT NULL,
		name TEXT,
		all_fields TEXT,
		ingestion_id TEXT NOT NULL,
		FOREIGN KEY (ingestion_id) REFERENCES ingestions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_scores_grade ON scores(grade);
	`
	_, err := db.Exec(schema)
	return err
}

// Register inserts a registration. Registering the same recipient handle again
// updates it; claiming a student identifier held by another handle fails with
// ErrDuplicateRegistration.
func (s *SQLiteRegistry) Register(ctx context.Context, reg *models.Registration) error {
	reg.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registrations (recipient_handle, student_id, name, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(recipient_handle) DO UPDATE SET student_id = excluded.student_id, name = excluded.name`,
		reg.RecipientHandle, reg.StudentID, reg.Name, reg.CreatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: registrations.student_id") {
		return ErrDuplicateRegistration
	}
	return err
}

// ByIdentifier returns the registration holding the given student identifier.
func (s *SQLiteRegistry) ByIdentifier(ctx context.Context, studentID string) (*models.Registration, error) {
	var reg models.Registration
	err := s.db.QueryRowContext(ctx,
		`SELECT recipient_handle, student_id, COALESCE(name, ''), created_at
		 FROM registrations WHERE student_id = ?`, studentID,
	).Scan(&reg.RecipientHandle, &reg.StudentID, &reg.Name, &reg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("registration for %s: %w", studentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// All returns every registration.
func (s *SQLiteRegistry) All(ctx context.Context) ([]*models.Registration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_handle, student_id, COALESCE(name, ''), created_at
		 FROM registrations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []*models.Registration
	for rows.Next() {
		var reg models.Registration
		if err := rows.Scan(&reg.RecipientHandle, &reg.StudentID, &reg.Name, &reg.CreatedAt); err != nil {
			return nil, err
		}
		regs = append(regs, &reg)
	}
	return regs, rows.Err()
}

// BackfillName sets the registration name for studentID when it is empty.
// Unknown identifiers and already-named registrations are left alone.
func (s *SQLiteRegistry) BackfillName(ctx context.Context, studentID, name string) error {
	if name == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE registrations SET name = ? WHERE student_id = ? AND (name IS NULL OR name = '')`,
		name, studentID,
	)
	return err
}

// ReplaceScores replaces the entire score set inside one transaction: the old
// set is deleted and the new ingestion's records inserted together, so a
// concurrent reader sees either the previous complete set or the new one.
func (s *SQLiteRegistry) ReplaceScores(ctx context.Context, ing *models.Ingestion, records []models.ScoredRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	ing.CreatedAt = time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingestions (id, source, fingerprint, mean, std_dev, min, max, count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ing.ID, ing.Source, ing.Fingerprint,
		ing.Stats.Mean, ing.Stats.StdDev, ing.Stats.Min, ing.Stats.Max, ing.Stats.Count,
		ing.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert ingestion: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM scores`); err != nil {
		return fmt.Errorf("clear previous scores: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scores (student_id, grade, percentile, name, all_fields, ingestion_id)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare score insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		fieldsJSON, err := json.Marshal(rec.AllFields)
		if err != nil {
			return fmt.Errorf("marshal fields for %s: %w", rec.StudentID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.StudentID, rec.Grade, rec.Percentile, rec.StudentName, string(fieldsJSON), ing.ID,
		); err != nil {
			return fmt.Errorf("insert score for %s: %w", rec.StudentID, err)
		}
	}

	return tx.Commit()
}

// ScoreFor returns the published score for one student.
func (s *SQLiteRegistry) ScoreFor(ctx context.Context, studentID string) (*models.ScoredRecord, error) {
	var rec models.ScoredRecord
	var fieldsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT student_id, grade, percentile, COALESCE(name, ''), COALESCE(all_fields, '')
		 FROM scores WHERE student_id = ?`, studentID,
	).Scan(&rec.StudentID, &rec.Grade, &rec.Percentile, &rec.StudentName, &fieldsJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("score for %s: %w", studentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if fieldsJSON != "" {
		if err := json.Unmarshal([]byte(fieldsJSON), &rec.AllFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	}
	return &rec, nil
}

// AllScores returns the full published score set ordered by grade descending.
func (s *SQLiteRegistry) AllScores(ctx context.Context) ([]models.ScoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, grade, percentile, COALESCE(name, ''), COALESCE(all_fields, '')
		 FROM scores ORDER BY grade DESC, student_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ScoredRecord
	for rows.Next() {
		var rec models.ScoredRecord
		var fieldsJSON string
		if err := rows.Scan(&rec.StudentID, &rec.Grade, &rec.Percentile, &rec.StudentName, &fieldsJSON); err != nil {
			return nil, err
		}
		if fieldsJSON != "" {
			_ = json.Unmarshal([]byte(fieldsJSON), &rec.AllFields)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LatestIngestion returns the most recent ingestion, or ErrNotFound when
// nothing has been ingested yet.
func (s *SQLiteRegistry) LatestIngestion(ctx context.Context) (*models.Ingestion, error) {
	var ing models.Ingestion
	err := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(source, ''), COALESCE(fingerprint, ''), mean, std_dev, min, max, count, created_at
		 FROM ingestions ORDER BY created_at DESC, id DESC LIMIT 1`,
	).Scan(&ing.ID, &ing.Source, &ing.Fingerprint,
		&ing.Stats.Mean, &ing.Stats.StdDev, &ing.Stats.Min, &ing.Stats.Max, &ing.Stats.Count,
		&ing.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("latest ingestion: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ing, nil
}

// CountRegistrations returns the number of registrations.
func (s *SQLiteRegistry) CountRegistrations(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations`).Scan(&count)
	return count, err
}

// CountScores returns the number of published scores.
func (s *SQLiteRegistry) CountScores(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scores`).Scan(&count)
	return count, err
}

// Close closes the database.
func (s *SQLiteRegistry) Close() error {
	return s.db.Close()
}
