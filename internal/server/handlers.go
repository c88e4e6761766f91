package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/ingest"
	"github.com/hyperjump/saiten/internal/models"
	"github.com/hyperjump/saiten/internal/numerals"
	"github.com/hyperjump/saiten/internal/registry"
	"github.com/hyperjump/saiten/internal/report"
)

// maxUploadBytes bounds grade-sheet uploads.
const maxUploadBytes = 64 << 20

type ingestResponse struct {
	IngestionID string                  `json:"ingestion_id"`
	Source      string                  `json:"source"`
	Accepted    int                     `json:"accepted"`
	RowsSeen    int                     `json:"rows_seen"`
	Deliveries  int                     `json:"deliveries"`
	Stats       *models.PopulationStats `json:"stats"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("document")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing document upload")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	s.logger.Debug("ingest request", zap.String("filename", header.Filename), zap.Int("bytes", len(content)))

	result, err := s.pipeline.IngestBytes(r.Context(), content, ext, header.Filename)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrNoUsableData):
			s.respondError(w, http.StatusUnprocessableEntity, "no grade data recognized in document")
		default:
			s.logger.Error("ingestion failed", zap.String("source", header.Filename), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusCreated, ingestResponse{
		IngestionID: result.Ingestion.ID,
		Source:      result.Ingestion.Source,
		Accepted:    len(result.Records),
		RowsSeen:    result.RowsSeen,
		Deliveries:  len(result.Deliveries),
		Stats:       &result.Ingestion.Stats,
	})
}

type registerRequest struct {
	RecipientHandle string `json:"recipient_handle"`
	StudentID       string `json:"student_id"`
	Name            string `json:"name,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RecipientHandle == "" {
		s.respondError(w, http.StatusBadRequest, "recipient_handle is required")
		return
	}
	studentID := numerals.Normalize(strings.TrimSpace(req.StudentID))
	if !s.idPattern.MatchString(studentID) {
		s.respondError(w, http.StatusBadRequest,
			fmt.Sprintf("student_id must be exactly %d digits", s.parsing.IDDigits))
		return
	}

	reg := &models.Registration{
		RecipientHandle: req.RecipientHandle,
		StudentID:       studentID,
		Name:            strings.TrimSpace(req.Name),
	}
	if err := s.registry.Register(r.Context(), reg); err != nil {
		if errors.Is(err, registry.ErrDuplicateRegistration) {
			s.respondError(w, http.StatusConflict, "student identifier already registered")
			return
		}
		s.logger.Error("registration failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, reg)
}

type resultResponse struct {
	StudentID  string                  `json:"student_id"`
	Name       string                  `json:"name,omitempty"`
	Grade      float64                 `json:"grade"`
	Percentile float64                 `json:"percentile"`
	Stats      *models.PopulationStats `json:"stats"`
	IngestedAt string                  `json:"ingested_at"`
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	studentID := numerals.Normalize(chi.URLParam(r, "studentID"))
	rec, err := s.registry.ScoreFor(r.Context(), studentID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "no published score for this student")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ing, err := s.registry.LatestIngestion(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resultResponse{
		StudentID:  rec.StudentID,
		Name:       rec.StudentName,
		Grade:      rec.Grade,
		Percentile: rec.Percentile,
		Stats:      &ing.Stats,
		IngestedAt: ing.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleResultChart(w http.ResponseWriter, r *http.Request) {
	studentID := numerals.Normalize(chi.URLParam(r, "studentID"))
	rec, err := s.registry.ScoreFor(r.Context(), studentID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "no published score for this student")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.renderChart(w, r, &rec.Grade)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	s.renderChart(w, r, nil)
}

// renderChart draws the current population, optionally highlighting one
// grade. A rendering failure does not invalidate the stored statistics; the
// text result path stays available.
func (s *Server) renderChart(w http.ResponseWriter, r *http.Request, highlight *float64) {
	records, err := s.registry.AllScores(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(records) == 0 {
		s.respondError(w, http.StatusNotFound, "no published score set")
		return
	}
	ing, err := s.registry.LatestIngestion(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	values := make([]float64, len(records))
	for i, rec := range records {
		values[i] = rec.Grade
	}

	img, err := s.renderer.Render(values, ing.Stats.Mean, ing.Stats.StdDev, highlight)
	if err != nil {
		s.logger.Error("chart rendering failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "chart rendering failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.AllScores(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(records) == 0 {
		s.respondError(w, http.StatusNotFound, "no published score set")
		return
	}
	ing, err := s.registry.LatestIngestion(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rows := report.Build(records)

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		if err := report.WriteMarkdown(w, rows, &ing.Stats, ing.Source); err != nil {
			s.logger.Error("report write failed", zap.Error(err))
		}
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="grade-report.xlsx"`)
	if err := report.WriteXLSX(w, rows, &ing.Stats, ing.Source); err != nil {
		s.logger.Error("report write failed", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	registrations, err := s.registry.CountRegistrations(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	scores, err := s.registry.CountScores(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"registrations": registrations,
		"scores":        scores,
	}
	if ing, err := s.registry.LatestIngestion(ctx); err == nil {
		resp["latest_ingestion"] = ing
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
