package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"histclean/internal/domain"
)

const defaultLedgerPath = "histclean.sqlite"

// FileConfig represents ~/.histclean/config.yaml.
type FileConfig struct {
	Database       DatabaseConfig `yaml:"database"`
	Ledger         string         `yaml:"ledger,omitempty"`
	Archive        string         `yaml:"archive,omitempty"`
	Schedule       string         `yaml:"schedule,omitempty"`
	ExcludedFields []string       `yaml:"excluded_fields,omitempty"`
	Models         []ModelConfig  `yaml:"models,omitempty"`
}

// DatabaseConfig names the application database.
type DatabaseConfig struct {
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

// ModelConfig describes a model whose tables do not follow the naming
// convention, or that has extra metadata columns.
type ModelConfig struct {
	Label          string   `yaml:"label"`
	Table          string   `yaml:"table"`
	HistoryTable   string   `yaml:"history_table"`
	PK             string   `yaml:"pk,omitempty"`
	HistoryID      string   `yaml:"history_id,omitempty"`
	Date           string   `yaml:"date,omitempty"`
	MetaColumns    []string `yaml:"meta_columns,omitempty"`
	ExcludedFields []string `yaml:"excluded_fields,omitempty"`
}

// Model converts the entry to a domain model.
func (m ModelConfig) Model() domain.Model {
	return domain.Model{
		Label:           m.Label,
		Table:           m.Table,
		HistoryTable:    m.HistoryTable,
		PKColumn:        m.PK,
		HistoryIDColumn: m.HistoryID,
		DateColumn:      m.Date,
		MetaColumns:     m.MetaColumns,
		ExcludedFields:  m.ExcludedFields,
	}.WithDefaults()
}

// DomainModels returns the configured models.
func (c *FileConfig) DomainModels() []domain.Model {
	out := make([]domain.Model, len(c.Models))
	for i, m := range c.Models {
		out[i] = m.Model()
	}
	return out
}

// ConfigDir returns the path to ~/.histclean/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".histclean")
}

// ConfigPath returns the path to ~/.histclean/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadFileConfig reads the config file at path. An empty path reads the
// default location, which may be absent; an explicit path must exist.
func LoadFileConfig(path string) (*FileConfig, error) {
	explicit := path != ""
	if !explicit {
		path = ConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	for i, m := range cfg.Models {
		if m.Label == "" {
			return nil, fmt.Errorf("parse config %s: models[%d]: label is required", path, i)
		}
	}
	return &cfg, nil
}
