package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/saiten/data/registry.db"
	}
	if cfg.Storage.ReportDir == "" {
		cfg.Storage.ReportDir = "/usr/local/var/saiten/reports"
	}
	ApplyParsingDefaults(&cfg.Parsing)
	if cfg.Chart.Bins == 0 {
		cfg.Chart.Bins = 20
	}
	if cfg.Chart.WidthInches == 0 {
		cfg.Chart.WidthInches = 8
	}
	if cfg.Chart.HeightInches == 0 {
		cfg.Chart.HeightInches = 5
	}
	if cfg.Inbox.Extensions == nil {
		cfg.Inbox.Extensions = []string{".pdf", ".xlsx", ".txt", ".csv"}
	}
}

// ApplyParsingDefaults sets the default positional conventions: identifier in
// the second column from the right, grade in the third column from the left,
// name in the third column from the right, 5-digit identifiers, scores 0-100.
// ScoreMin defaults to 0, which is already the zero value.
func ApplyParsingDefaults(p *ParsingConfig) {
	if p.IDSlotFromRight == 0 {
		p.IDSlotFromRight = 2
	}
	if p.GradeSlotFromLeft == 0 {
		p.GradeSlotFromLeft = 3
	}
	if p.NameSlotFromRight == 0 {
		p.NameSlotFromRight = 3
	}
	if p.IDDigits == 0 {
		p.IDDigits = 5
	}
	if p.ScoreMax == 0 {
		p.ScoreMax = 100
	}
}
