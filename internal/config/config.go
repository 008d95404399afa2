// Package config loads and defaults the YAML configuration for the
// memory service: storage location, retention, consolidation tuning,
// and schedule cadences.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
)

// Config is the top-level configuration tree.
type Config struct {
	DataDir         string            `yaml:"data_dir"`
	Dimension       int               `yaml:"dimension"`
	ModelIdentifier string            `yaml:"model_identifier"`
	BusyTimeoutMS   int               `yaml:"busy_timeout_ms"`
	CacheSizePages  int               `yaml:"cache_size_pages"`
	Pragmas         map[string]string `yaml:"pragmas"`

	RetentionDays map[string]int `yaml:"retention_days"`

	Association AssociationConfig `yaml:"association"`
	Cluster     ClusterConfig     `yaml:"cluster"`
	Compression CompressionConfig `yaml:"compression"`
	Forgetting  ForgettingConfig  `yaml:"forgetting"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AssociationConfig tunes creative-association discovery (phase 2).
type AssociationConfig struct {
	Low             float64 `yaml:"low"`
	High            float64 `yaml:"high"`
	MaxPairsPerRun  int     `yaml:"max_pairs_per_run"`
}

// ClusterConfig tunes semantic clustering (phase 3).
type ClusterConfig struct {
	MinSamples int     `yaml:"min_samples"`
	EpsMin     float64 `yaml:"eps_min"`
	EpsMax     float64 `yaml:"eps_max"`
}

// CompressionConfig tunes summary generation (phase 4).
type CompressionConfig struct {
	MaxChars int `yaml:"max_chars"`
}

// ForgettingConfig tunes archival and purge (phase 5).
type ForgettingConfig struct {
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
	AccessThresholdDays int    `yaml:"access_threshold_days"`
	GraceDays          int     `yaml:"grace_days"`
}

// ScheduleConfig holds cron-style cadences for each consolidation phase.
type ScheduleConfig struct {
	Decay       string `yaml:"decay"`
	Association string `yaml:"association"`
	Cluster     string `yaml:"cluster"`
	Compression string `yaml:"compression"`
	Forgetting  string `yaml:"forgetting"`
}

// EmbeddingConfig configures the encoder adapter.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	CacheSize      int    `yaml:"cache_size"`
}

// LoggingConfig configures categorized structured logging.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the documented defaults from the configuration table.
func DefaultConfig() *Config {
	return &Config{
		DataDir:         "data",
		Dimension:       384,
		ModelIdentifier: "",
		BusyTimeoutMS:   15000,
		CacheSizePages:  20000,
		Pragmas:         map[string]string{},

		RetentionDays: map[string]int{
			"critical":         365,
			"reference":        180,
			"session-summary":  90,
			"note":             30,
			"task":             7,
			"temporary":        7,
		},

		Association: AssociationConfig{
			Low:            0.30,
			High:           0.70,
			MaxPairsPerRun: 100,
		},
		Cluster: ClusterConfig{
			MinSamples: 5,
			EpsMin:     0.15,
			EpsMax:     0.50,
		},
		Compression: CompressionConfig{
			MaxChars: 500,
		},
		Forgetting: ForgettingConfig{
			RelevanceThreshold:  0.10,
			AccessThresholdDays: 90,
			GraceDays:           180,
		},
		Schedule: ScheduleConfig{
			Decay:       "0 2 * * *",
			Association: "0 3 * * 0",
			Cluster:     "0 4 1 * *",
			Compression: "0 4 1 * *",
			Forgetting:  "0 4 1 * *",
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			CacheSize:      500,
		},
		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

// Load reads YAML from path, merging onto defaults. A missing file is not
// an error: defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.ConfigInfo("config file not found, using defaults: %s", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyZeroValueDefaults()
	logging.ConfigInfo("config loaded from %s: dimension=%d model=%s", path, cfg.Dimension, cfg.ModelIdentifier)
	return cfg, nil
}

// Save writes the configuration back out as YAML, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyZeroValueDefaults fills in zero-valued fields a partial YAML file
// left unset, so a config that only overrides one key still gets sane
// values everywhere else.
func (c *Config) applyZeroValueDefaults() {
	d := DefaultConfig()

	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Dimension == 0 {
		c.Dimension = d.Dimension
	}
	if c.BusyTimeoutMS == 0 {
		c.BusyTimeoutMS = d.BusyTimeoutMS
	}
	if c.CacheSizePages == 0 {
		c.CacheSizePages = d.CacheSizePages
	}
	if c.Pragmas == nil {
		c.Pragmas = d.Pragmas
	}
	if len(c.RetentionDays) == 0 {
		c.RetentionDays = d.RetentionDays
	}
	if c.Association.Low == 0 && c.Association.High == 0 {
		c.Association = d.Association
	}
	if c.Association.MaxPairsPerRun == 0 {
		c.Association.MaxPairsPerRun = d.Association.MaxPairsPerRun
	}
	if c.Cluster.MinSamples == 0 {
		c.Cluster.MinSamples = d.Cluster.MinSamples
	}
	if c.Cluster.EpsMin == 0 && c.Cluster.EpsMax == 0 {
		c.Cluster.EpsMin, c.Cluster.EpsMax = d.Cluster.EpsMin, d.Cluster.EpsMax
	}
	if c.Compression.MaxChars == 0 {
		c.Compression.MaxChars = d.Compression.MaxChars
	}
	if c.Forgetting.RelevanceThreshold == 0 {
		c.Forgetting.RelevanceThreshold = d.Forgetting.RelevanceThreshold
	}
	if c.Forgetting.AccessThresholdDays == 0 {
		c.Forgetting.AccessThresholdDays = d.Forgetting.AccessThresholdDays
	}
	if c.Forgetting.GraceDays == 0 {
		c.Forgetting.GraceDays = d.Forgetting.GraceDays
	}
	if c.Schedule.Decay == "" {
		c.Schedule.Decay = d.Schedule.Decay
	}
	if c.Schedule.Association == "" {
		c.Schedule.Association = d.Schedule.Association
	}
	if c.Schedule.Cluster == "" {
		c.Schedule.Cluster = d.Schedule.Cluster
	}
	if c.Schedule.Compression == "" {
		c.Schedule.Compression = d.Schedule.Compression
	}
	if c.Schedule.Forgetting == "" {
		c.Schedule.Forgetting = d.Schedule.Forgetting
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = d.Embedding.Provider
	}
	if c.Embedding.OllamaEndpoint == "" {
		c.Embedding.OllamaEndpoint = d.Embedding.OllamaEndpoint
	}
	if c.Embedding.OllamaModel == "" {
		c.Embedding.OllamaModel = d.Embedding.OllamaModel
	}
	if c.Embedding.CacheSize == 0 {
		c.Embedding.CacheSize = d.Embedding.CacheSize
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = d.Logging.Dir
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

// RetentionFor returns the configured retention window for a memory type,
// falling back to the "note" default for unknown types.
func (c *Config) RetentionFor(memoryType string) int {
	if d, ok := c.RetentionDays[memoryType]; ok {
		return d
	}
	return c.RetentionDays["note"]
}

// DBPath returns the full path to the primary database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "memory.db")
}
