// Package config provides configuration loading and structs for the Saiten server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Parsing ParsingConfig `yaml:"parsing"`
	Chart   ChartConfig   `yaml:"chart"`
	Inbox   InboxConfig   `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the registry database and report output.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	ReportDir    string `yaml:"report_dir"`
}

// ParsingConfig holds the positional conventions used to resolve fields from
// raw table rows. Slot indices are configuration rather than constants because
// different document revisions disagree on exact column positions; calibrate
// per document family.
type ParsingConfig struct {
	// IDSlotFromRight is the 1-based column for the student identifier,
	// counted from the right edge of the row (2 = second-from-right).
	IDSlotFromRight int `yaml:"id_slot_from_right"`
	// GradeSlotFromLeft is the 1-based column for the grade, counted from
	// the left edge of the row (3 = third-from-left).
	GradeSlotFromLeft int `yaml:"grade_slot_from_left"`
	// NameSlotFromRight is the 1-based column for the optional student name,
	// counted from the right; only read when the row is wide enough.
	NameSlotFromRight int `yaml:"name_slot_from_right"`
	// IDDigits is the fixed digit count of a valid student identifier.
	IDDigits int `yaml:"id_digits"`
	// ScoreMin and ScoreMax bound the admissible grade range. Values outside
	// the range are rejected, never clamped.
	ScoreMin float64 `yaml:"score_min"`
	ScoreMax float64 `yaml:"score_max"`
}

// ChartConfig holds distribution rendering settings.
type ChartConfig struct {
	Bins         int     `yaml:"bins"`
	WidthInches  float64 `yaml:"width_inches"`
	HeightInches float64 `yaml:"height_inches"`
}

// InboxConfig holds the watched drop-directory settings. Documents placed in
// the directory are ingested automatically.
type InboxConfig struct {
	Directory  string   `yaml:"directory"`
	Extensions []string `yaml:"extensions"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.ReportDir = expandPath(cfg.Storage.ReportDir, configDir)
	if cfg.Inbox.Directory != "" {
		cfg.Inbox.Directory = expandPath(cfg.Inbox.Directory, configDir)
	}

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
