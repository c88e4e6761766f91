package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/chart"
	"github.com/hyperjump/saiten/internal/config"
	"github.com/hyperjump/saiten/internal/ingest"
	"github.com/hyperjump/saiten/internal/registry"
)

const sheet = "Subject  Level  Grade  Name  Number  Term\n" +
	"Medicine  Year 2  60  Ahmad Khalil  12345  4\n" +
	"Medicine  Year 2  70  Sara Haddad   12346  4\n" +
	"Medicine  Year 2  80  Omar Najjar   12347  4\n" +
	"Medicine  Year 2  90  Lina Aswad    12348  4\n"

func newTestServer(t *testing.T) (*Server, *registry.SQLiteRegistry) {
	t.Helper()
	reg, err := registry.NewSQLiteRegistry(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRegistry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	parsing := config.ParsingConfig{}
	config.ApplyParsingDefaults(&parsing)
	pipeline := ingest.NewPipeline(reg, parsing, nil)
	renderer := chart.NewRenderer(config.ChartConfig{}, parsing.ScoreMin, parsing.ScoreMax)
	srv := NewServer(pipeline, reg, renderer, parsing, &config.ServerConfig{Host: "127.0.0.1", Port: 0}, zap.NewNop())
	return srv, reg
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingestions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleRegister(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/registrations",
		map[string]string{"recipient_handle": "chat:1", "student_id": "12345", "name": "Ahmad"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Arabic-Indic digits are accepted and normalized.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/registrations",
		map[string]string{"recipient_handle": "chat:2", "student_id": "١٢٣٤٦"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Same identifier under another handle conflicts.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/registrations",
		map[string]string{"recipient_handle": "chat:3", "student_id": "12345"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate id: status = %d", rec.Code)
	}

	for _, id := range []string{"", "1234", "123456", "12a45"} {
		rec = doJSON(t, router, http.MethodPost, "/api/v1/registrations",
			map[string]string{"recipient_handle": "chat:4", "student_id": id})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("student_id %q: status = %d, want 400", id, rec.Code)
		}
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/registrations",
		map[string]string{"student_id": "54321"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing handle: status = %d, want 400", rec.Code)
	}
}

func TestHandleIngest(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "term1.txt", sheet))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp ingestResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Accepted != 4 {
		t.Errorf("accepted = %d, want 4", resp.Accepted)
	}
	if resp.Stats == nil || resp.Stats.Mean != 75 {
		t.Errorf("unexpected stats: %+v", resp.Stats)
	}
	if resp.IngestionID == "" {
		t.Error("ingestion id must be set")
	}
}

func TestHandleIngest_noUsableData(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, "prose.txt", "nothing tabular in here\n"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestHandleIngest_missingFile(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingestions", strings.NewReader(""))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleResult(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "term1.txt", sheet))
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/results/12346", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp resultResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Grade != 70 || resp.Percentile != 50 {
		t.Errorf("grade %v percentile %v, want 70 and 50", resp.Grade, resp.Percentile)
	}
	if resp.Name != "Sara Haddad" {
		t.Errorf("name = %q", resp.Name)
	}
	if resp.Stats == nil || resp.Stats.Count != 4 {
		t.Errorf("stats = %+v", resp.Stats)
	}

	// Identifier in Arabic-Indic digits resolves to the same student.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/results/١٢٣٤٦", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("normalized lookup: status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/results/99999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown student: status = %d, want 404", rec.Code)
	}
}

func TestHandleCharts(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	// No published set yet.
	rec := doJSON(t, router, http.MethodGet, "/api/v1/chart", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty set: status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "term1.txt", sheet))
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}

	pngMagic := []byte{0x89, 'P', 'N', 'G'}
	for _, path := range []string{"/api/v1/chart", "/api/v1/results/12345/chart"} {
		rec = doJSON(t, router, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body %s", path, rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("%s: content type %q", path, ct)
		}
		if !bytes.HasPrefix(rec.Body.Bytes(), pngMagic) {
			t.Errorf("%s: body is not a PNG", path)
		}
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/results/99999/chart", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown student chart: status = %d, want 404", rec.Code)
	}
}

func TestHandleReport(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "term1.txt", sheet))
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/report", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "grade-report.xlsx") {
		t.Errorf("content disposition %q", cd)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/report?format=markdown", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "| 1 | 12348 |") {
		t.Errorf("markdown report missing top rank:\n%s", rec.Body.String())
	}
}

func TestHandleStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "term1.txt", sheet))
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}
	if code := doJSON(t, router, http.MethodPost, "/api/v1/registrations",
		map[string]string{"recipient_handle": "chat:1", "student_id": "12345"}).Code; code != http.StatusCreated {
		t.Fatal(code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["scores"].(float64) != 4 || resp["registrations"].(float64) != 1 {
		t.Errorf("unexpected counts: %v", resp)
	}
	if _, ok := resp["latest_ingestion"]; !ok {
		t.Error("latest_ingestion missing after ingest")
	}
}
