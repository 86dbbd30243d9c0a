// Package config loads the single YAML document that drives a run: folder
// layout, expected CSV headers per statement kind, the account catalog, and
// collaborator endpoints. Loaded once at process start, never hot-reloaded.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/bankload/internal/classify"
	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
	"github.com/rumor-ml/commons.systems/bankload/internal/scanner"
)

// Config is the full runtime configuration.
type Config struct {
	// WorkingFolder is the root of the local statement layout
	// ({working}/Info Bancaria/...).
	WorkingFolder string `yaml:"working_folder"`

	// Database is the SQLite file path.
	Database string `yaml:"database"`

	// FirestoreProject enables the statement-blob document store when set.
	FirestoreProject string `yaml:"firestore_project"`

	// SpreadsheetID enables the Google Sheets mirror when set.
	SpreadsheetID string `yaml:"spreadsheet_id"`

	// ListenAddr is the bind address of the categorization API (server mode).
	ListenAddr string `yaml:"listen_addr"`

	// Headers maps statement kinds to their expected CSV header lists.
	Headers Headers `yaml:"headers"`

	// Accounts is the manually curated account catalog.
	Accounts []domain.Account `yaml:"accounts"`
}

// Headers holds the expected header list per statement file shape. The
// classifier checks them in a fixed order: credit, debit, then the
// months-without-interest variant.
type Headers struct {
	Credit           []string `yaml:"credit"`
	Debit            []string `yaml:"debit"`
	MonthsNoInterest []string `yaml:"months_no_interest"`
}

// Load reads and validates the YAML document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s (check YAML syntax and field names): %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.WorkingFolder == "" {
		return fmt.Errorf("working_folder is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if len(c.Headers.Credit) == 0 {
		return fmt.Errorf("headers.credit is required")
	}
	if len(c.Headers.Debit) == 0 {
		return fmt.Errorf("headers.debit is required")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	for i, a := range c.Accounts {
		if a.Number == "" {
			return fmt.Errorf("account %d: number is required", i)
		}
		if !domain.ValidateAccountType(a.Type) {
			return fmt.Errorf("account %d (%s): invalid type %q (must be debit or credit)", i, a.Number, a.Type)
		}
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8084"
	}
	return nil
}

// HeaderSets returns the classifier's ordered header sets. Credit is checked
// before debit before the months-without-interest variant; the order decides
// ties.
func (c *Config) HeaderSets() []classify.HeaderSet {
	sets := []classify.HeaderSet{
		{Kind: classify.KindCredit, Headers: c.Headers.Credit},
		{Kind: classify.KindDebit, Headers: c.Headers.Debit},
	}
	if len(c.Headers.MonthsNoInterest) > 0 {
		sets = append(sets, classify.HeaderSet{
			Kind: classify.KindMonthsNoInterest, Headers: c.Headers.MonthsNoInterest,
		})
	}
	return sets
}

// Folder layout under the working folder. Filenames encode period and
// account number by convention; the layout itself is fixed.
const (
	statementsDir = "Info Bancaria"
	archiveDir    = "Meses cerrados/Repositorio por mes"
	stagingDir    = "Descargas temporales"
)

// CurrentRoot is the folder holding the open-period subfolders.
func (c *Config) CurrentRoot() string {
	return filepath.Join(c.WorkingFolder, statementsDir)
}

// ArchiveDir is the folder holding archived closed-period files.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.WorkingFolder, statementsDir, archiveDir)
}

// StagingDir is the browser's download staging area, cleared at the start of
// each guided session.
func (c *Config) StagingDir() string {
	return filepath.Join(c.WorkingFolder, statementsDir, stagingDir)
}

// ScanLayout is the folder layout handed to the statement scanner.
func (c *Config) ScanLayout() scanner.Layout {
	return scanner.Layout{
		CurrentRoot: c.CurrentRoot(),
		ArchiveRoot: c.ArchiveDir(),
		StagingRoot: c.StagingDir(),
	}
}
