// Package main is the Saiten CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/chart"
	"github.com/hyperjump/saiten/internal/config"
	"github.com/hyperjump/saiten/internal/ingest"
	"github.com/hyperjump/saiten/internal/models"
	"github.com/hyperjump/saiten/internal/numerals"
	"github.com/hyperjump/saiten/internal/registry"
	"github.com/hyperjump/saiten/internal/report"
	"github.com/hyperjump/saiten/internal/server"
	"github.com/hyperjump/saiten/internal/watcher"
	"github.com/hyperjump/saiten/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/saiten/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used instead. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "register":
		runRegister()
	case "result":
		runResult()
	case "chart":
		runChart()
	case "report":
		runReport()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("saiten version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (row drops, inbox events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var inbox *watcher.Watcher
	if cfg.Inbox.Directory != "" {
		pipeline := components.Pipeline
		inbox = watcher.NewWatcher(cfg.Inbox.Directory, cfg.Inbox.Extensions, func(path string) {
			if _, err := pipeline.Ingest(context.Background(), path); err != nil {
				logger.Warn("inbox ingestion failed", zap.String("path", path), zap.Error(err))
			}
		}, logger)
		if err := inbox.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		defer inbox.Stop()
		if err := inbox.SyncExisting(); err != nil {
			logger.Warn("inbox sync of existing documents failed", zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Pipeline,
		components.Registry,
		components.Renderer,
		cfg.Parsing,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	writeReport := fs.Bool("report", false, "write xlsx and markdown reports to the configured report directory")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: saiten ingest [flags] <document>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	components, cfg, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	result, err := components.Pipeline.Ingest(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	stats := result.Ingestion.Stats
	fmt.Printf("Ingested %s: %d students (mean %.2f, stddev %.2f, range %.2f-%.2f)\n",
		result.Ingestion.Source, stats.Count, stats.Mean, stats.StdDev, stats.Min, stats.Max)

	if *writeReport {
		paths, err := writeReports(cfg.Storage.ReportDir, result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Report write failed: %v\n", err)
			os.Exit(1)
		}
		for _, p := range paths {
			fmt.Printf("Report written: %s\n", p)
		}
	}
}

// writeReports writes the xlsx and markdown reports for a committed ingestion
// into dir, named after the ingestion id.
func writeReports(dir string, result *ingest.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	rows := report.Build(result.Records)
	stats := &result.Ingestion.Stats

	xlsxPath := filepath.Join(dir, result.Ingestion.ID+".xlsx")
	xf, err := os.Create(xlsxPath)
	if err != nil {
		return nil, err
	}
	if err := report.WriteXLSX(xf, rows, stats, result.Ingestion.Source); err != nil {
		xf.Close()
		return nil, err
	}
	if err := xf.Close(); err != nil {
		return nil, err
	}

	mdPath := filepath.Join(dir, result.Ingestion.ID+".md")
	mf, err := os.Create(mdPath)
	if err != nil {
		return nil, err
	}
	if err := report.WriteMarkdown(mf, rows, stats, result.Ingestion.Source); err != nil {
		mf.Close()
		return nil, err
	}
	if err := mf.Close(); err != nil {
		return nil, err
	}
	return []string{xlsxPath, mdPath}, nil
}

func runRegister() {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	name := fs.String("name", "", "student name (optional)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 2 {
		fmt.Println("Usage: saiten register [flags] <recipient-handle> <student-id>")
		os.Exit(1)
	}
	handle, studentID := fs.Arg(0), numerals.Normalize(strings.TrimSpace(fs.Arg(1)))

	components, cfg, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	if !validStudentID(studentID, cfg.Parsing.IDDigits) {
		fmt.Fprintf(os.Stderr, "Invalid student id %q: must be exactly %d digits\n", studentID, cfg.Parsing.IDDigits)
		os.Exit(1)
	}

	reg := &models.Registration{RecipientHandle: handle, StudentID: studentID, Name: *name}
	if err := components.Registry.Register(context.Background(), reg); err != nil {
		fmt.Fprintf(os.Stderr, "Registration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Registered %s -> %s\n", handle, studentID)
}

func runResult() {
	fs := flag.NewFlagSet("result", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: saiten result [flags] <student-id>")
		os.Exit(1)
	}
	studentID := numerals.Normalize(strings.TrimSpace(fs.Arg(0)))

	body, err := getOK(*serverURL + "/api/v1/results/" + url.PathEscape(studentID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Result lookup failed: %v\n", err)
		os.Exit(1)
	}

	if *outputFormat == "json" {
		fmt.Println(string(body))
		return
	}
	var resp struct {
		StudentID  string  `json:"student_id"`
		Name       string  `json:"name"`
		Grade      float64 `json:"grade"`
		Percentile float64 `json:"percentile"`
		Stats      *struct {
			Mean   float64 `json:"mean"`
			StdDev float64 `json:"std_dev"`
			Min    float64 `json:"min"`
			Max    float64 `json:"max"`
			Count  int     `json:"count"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("student:    %s", resp.StudentID)
	if resp.Name != "" {
		fmt.Printf("  (%s)", resp.Name)
	}
	fmt.Println()
	fmt.Printf("grade:      %.2f\n", resp.Grade)
	fmt.Printf("percentile: %.2f\n", resp.Percentile)
	if resp.Stats != nil {
		fmt.Printf("class:      %d students, mean %.2f, stddev %.2f, range %.2f-%.2f\n",
			resp.Stats.Count, resp.Stats.Mean, resp.Stats.StdDev, resp.Stats.Min, resp.Stats.Max)
	}
}

func runChart() {
	fs := flag.NewFlagSet("chart", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	student := fs.String("student", "", "highlight this student's grade")
	out := fs.String("out", "distribution.png", "output file")
	_ = fs.Parse(os.Args[2:])

	endpoint := *serverURL + "/api/v1/chart"
	if *student != "" {
		id := numerals.Normalize(strings.TrimSpace(*student))
		endpoint = *serverURL + "/api/v1/results/" + url.PathEscape(id) + "/chart"
	}
	body, err := getOK(endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chart failed: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, body, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Write failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Chart written: %s\n", *out)
}

func runReport() {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	format := fs.String("format", "xlsx", "report format: xlsx or markdown")
	out := fs.String("out", "", "output file (default: grade-report.<format extension>)")
	_ = fs.Parse(os.Args[2:])

	endpoint := *serverURL + "/api/v1/report"
	ext := ".xlsx"
	if *format == "markdown" {
		endpoint += "?format=markdown"
		ext = ".md"
	}
	body, err := getOK(endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Report failed: %v\n", err)
		os.Exit(1)
	}
	path := *out
	if path == "" {
		path = "grade-report" + ext
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Write failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Report written: %s\n", path)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	body, err := getOK(*serverURL + "/api/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if *outputFormat == "json" {
		fmt.Println(string(body))
		return
	}
	var status struct {
		Registrations   int64 `json:"registrations"`
		Scores          int64 `json:"scores"`
		LatestIngestion *struct {
			ID        string    `json:"id"`
			Source    string    `json:"source"`
			CreatedAt time.Time `json:"created_at"`
			Stats     struct {
				Mean  float64 `json:"mean"`
				Count int     `json:"count"`
			} `json:"stats"`
		} `json:"latest_ingestion"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("registrations:  %d\n", status.Registrations)
	fmt.Printf("scores:         %d\n", status.Scores)
	if status.LatestIngestion != nil {
		fmt.Printf("latest:         %s (%d students, mean %.2f) at %s\n",
			status.LatestIngestion.Source,
			status.LatestIngestion.Stats.Count,
			status.LatestIngestion.Stats.Mean,
			status.LatestIngestion.CreatedAt.Format(time.RFC3339))
	}
}

// validStudentID reports whether id is exactly the configured number of Latin
// digits. Call after numeral normalization.
func validStudentID(id string, digits int) bool {
	if len(id) != digits {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func getOK(endpoint string) ([]byte, error) {
	resp, err := http.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// Components holds initialized services.
type Components struct {
	Registry *registry.SQLiteRegistry
	Pipeline *ingest.Pipeline
	Renderer *chart.Renderer
}

func (c *Components) Close() {
	if c.Registry != nil {
		_ = c.Registry.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	reg, err := registry.NewSQLiteRegistry(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}
	pipeline := ingest.NewPipeline(reg, cfg.Parsing, logger)
	renderer := chart.NewRenderer(cfg.Chart, cfg.Parsing.ScoreMin, cfg.Parsing.ScoreMax)
	return &Components{Registry: reg, Pipeline: pipeline, Renderer: renderer}, nil
}

// mustInitialize loads config, builds the logger, and initializes components,
// exiting on any failure. Shared by the direct-storage subcommands.
func mustInitialize(configPath string) (*Components, *config.Config, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components, cfg, logger
}

func printUsage() {
	fmt.Println(`saiten - grade sheet extraction and scoring

Usage:
  saiten server [flags]                        Start the HTTP server (and inbox watcher)
  saiten ingest [flags] <document>             Ingest a grade sheet (pdf, xlsx, csv, txt)
  saiten register [flags] <handle> <id>        Register a recipient for a student identifier
  saiten result [flags] <student-id>           Look up a student's published result
  saiten chart [flags]                         Download the distribution chart
  saiten report [flags]                        Download the ranking report
  saiten status [flags]                        Show registry status
  saiten version                               Show version
  saiten help                                  Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/saiten/config.yaml)
  --debug            Enable debug logging (row drops, inbox events, etc.)

Ingest Flags:
  --config string    Config file path
  --report           Also write xlsx and markdown reports to the report directory

Register Flags:
  --config string    Config file path
  --name string      Student name (optional)

Result Flags:
  --server string    Server URL (default: http://localhost:8080)
  --output string    Output format: text or json (default: text)

Chart Flags:
  --server string    Server URL (default: http://localhost:8080)
  --student string   Highlight this student's grade
  --out string       Output file (default: distribution.png)

Report Flags:
  --server string    Server URL (default: http://localhost:8080)
  --format string    Report format: xlsx or markdown (default: xlsx)
  --out string       Output file

Examples:
  saiten server
  saiten ingest --report term1.pdf
  saiten register --name "Ahmad Khalil" telegram:123456 12345
  saiten result 12345
  saiten result ١٢٣٤٥                # Arabic-Indic digits are normalized
  saiten chart --student 12345 --out ahmad.png
  saiten report --format markdown
  saiten status`)
}
