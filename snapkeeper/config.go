package snapkeeper

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the keeper configuration. The zero value works for tests
// (in-memory database, all defaults).
type Config struct {
	// DBPath is the SQLite database path. Empty means ":memory:".
	DBPath string `yaml:"db_path"`
	// DropQuery makes URL grouping ignore the query string.
	DropQuery bool `yaml:"drop_query"`

	// Serialization.
	IncludeScripts   bool          `yaml:"include_scripts"`
	OmitStyles       bool          `yaml:"omit_styles"`
	MaxSnapshotBytes int           `yaml:"max_snapshot_bytes"`
	SerializeTimeout time.Duration `yaml:"serialize_timeout"`

	// Restoration.
	RestoreTimeout time.Duration `yaml:"restore_timeout"`

	// Store limits. Zero keeps the store defaults (or whatever a previous
	// run persisted).
	MaxPerURL     int   `yaml:"max_per_url"`
	MaxTotalBytes int64 `yaml:"max_total_bytes"`
	DisableAutoCleanup bool `yaml:"disable_auto_cleanup"`

	// PreviewLength is the maximum preview text length stored per
	// snapshot. 0 means DefaultPreviewLength; negative disables previews.
	PreviewLength int `yaml:"preview_length"`

	// EventRetentionDays bounds the lifecycle event log. 0 keeps events
	// forever.
	EventRetentionDays int `yaml:"event_retention_days"`
}

// DefaultPreviewLength is the default preview truncation, in runes.
const DefaultPreviewLength = 200

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapkeeper: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("snapkeeper: parse config: %w", err)
	}
	return &cfg, nil
}
