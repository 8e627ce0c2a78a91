// Package config loads and validates the instance-wide configuration for
// the claim engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete instance configuration.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Vector       VectorConfig       `mapstructure:"vector"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding"`
	Confidence   ConfidenceConfig   `mapstructure:"confidence"`
	Namespace    NamespaceConfig    `mapstructure:"namespace"`
	Tier         TierConfig         `mapstructure:"tier"`
	Gatekeeper   GatekeeperConfig   `mapstructure:"gatekeeper"`
	Janitor      JanitorConfig      `mapstructure:"janitor"`
	Backpressure BackpressureConfig `mapstructure:"backpressure"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// DatabaseConfig holds relational-store configuration.
type DatabaseConfig struct {
	Path        string `mapstructure:"path"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// VectorConfig holds the vector sidecar's configuration.
type VectorConfig struct {
	IndexPath     string        `mapstructure:"index_path"`
	Backend       string        `mapstructure:"backend"` // "embedded" or "qdrant"
	QdrantURL     string        `mapstructure:"qdrant_url"`
	QdrantEnabled bool          `mapstructure:"qdrant_enabled"`
	SyncBound     time.Duration `mapstructure:"sync_bound"`
}

// EmbeddingConfig describes the bound embedding provider.
type EmbeddingConfig struct {
	Model              string  `mapstructure:"model"`
	Dimension          int     `mapstructure:"dimension"`
	BaseURL            string  `mapstructure:"base_url"`
	Enabled            bool    `mapstructure:"enabled"`
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`
}

// ConfidenceConfig holds the confidence-formula's tunable parameters.
type ConfidenceConfig struct {
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	Boost             float64       `mapstructure:"boost"`
	Penalty           float64       `mapstructure:"penalty"`
	DiversityMaxTypes int           `mapstructure:"diversity_max_types"`
}

// NamespaceConfig bounds namespace depth.
type NamespaceConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// TierConfig holds per-tier staleness half-lives and demotion policy.
type TierConfig struct {
	StalenessHalfLifeEphemeral time.Duration `mapstructure:"staleness_half_life_ephemeral"`
	StalenessHalfLifeTask      time.Duration `mapstructure:"staleness_half_life_task"`
	StalenessHalfLifeProject   time.Duration `mapstructure:"staleness_half_life_project"`
	StalenessHalfLifePermanent time.Duration `mapstructure:"staleness_half_life_permanent"`
	DemotionThreshold          float64       `mapstructure:"demotion_threshold"`
	GCRetentionPeriod          time.Duration `mapstructure:"gc_retention_period"`

	// PermanentDemotionAccessWindow is the "no access within a configurable
	// window" clause gating permanent -> project demotion.
	PermanentDemotionAccessWindow time.Duration `mapstructure:"permanent_demotion_access_window"`
	// ProjectDemotionInactivityWindow gates project -> task demotion.
	ProjectDemotionInactivityWindow time.Duration `mapstructure:"project_demotion_inactivity_window"`
	// TaskDemotionInactivityWindow gates task -> ephemeral demotion, used as
	// this core's stand-in for "task completion" (no session/task-completion
	// event exists in the data model; see DESIGN.md).
	TaskDemotionInactivityWindow time.Duration `mapstructure:"task_demotion_inactivity_window"`
}

// GatekeeperConfig binds a named reasoner and timeout to each tier boundary.
type GatekeeperConfig struct {
	EphemeralToTaskReasoner    string        `mapstructure:"ephemeral_to_task_reasoner"`
	TaskToProjectReasoner      string        `mapstructure:"task_to_project_reasoner"`
	ProjectToPermanentReasoner string        `mapstructure:"project_to_permanent_reasoner"`
	Timeout                    time.Duration `mapstructure:"timeout"`
}

// JanitorConfig holds cron-like schedules for each background worker and the
// per-pass bound for the contradiction-detection janitor.
type JanitorConfig struct {
	StalenessSchedule            string        `mapstructure:"staleness_schedule"`
	TierMigrationSchedule        string        `mapstructure:"tier_migration_schedule"`
	GCSchedule                   string        `mapstructure:"gc_schedule"`
	ConfidenceRecomputeSchedule  string        `mapstructure:"confidence_recompute_schedule"`
	ContradictionSchedule        string        `mapstructure:"contradiction_schedule"`
	SynthesizerSchedule          string        `mapstructure:"synthesizer_schedule"`
	ContradictionMaxPerPass      int           `mapstructure:"contradiction_max_per_pass"`
	ConfidenceRecomputeBatchSize int           `mapstructure:"confidence_recompute_batch_size"`
	ProcessingFlagAbandonedAfter time.Duration `mapstructure:"processing_flag_abandoned_after"`
}

// BackpressureConfig holds the bounded-queue token-bucket parameters for
// background workers and API callers.
type BackpressureConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	QueueCapacity         int           `mapstructure:"queue_capacity"`
	RequestsPerSecond     float64       `mapstructure:"requests_per_second"`
	JanitorBackoffCeiling time.Duration `mapstructure:"janitor_backoff_ceiling"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns configuration with every key at its documented
// default.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	configDir := filepath.Join(homeDir, ".boswell")

	return &Config{
		Database: DatabaseConfig{
			Path:        filepath.Join(configDir, "claims.db"),
			AutoMigrate: true,
		},
		Vector: VectorConfig{
			IndexPath:     filepath.Join(configDir, "claims.vectors"),
			Backend:       "embedded",
			QdrantURL:     "http://localhost:6333",
			QdrantEnabled: false,
			SyncBound:     2 * time.Millisecond,
		},
		Embedding: EmbeddingConfig{
			Model:              "nomic-embed-text",
			Dimension:          768,
			BaseURL:            "http://localhost:11434",
			Enabled:            true,
			DuplicateThreshold: 0.95,
		},
		Confidence: ConfidenceConfig{
			CacheTTL:          300 * time.Second,
			Boost:             0.1,
			Penalty:           0.2,
			DiversityMaxTypes: 3,
		},
		Namespace: NamespaceConfig{
			MaxDepth: 5,
		},
		Tier: TierConfig{
			StalenessHalfLifeEphemeral:      4 * time.Hour,
			StalenessHalfLifeTask:           3 * 24 * time.Hour,
			StalenessHalfLifeProject:        4 * 7 * 24 * time.Hour,
			StalenessHalfLifePermanent:      6 * 30 * 24 * time.Hour,
			DemotionThreshold:               0.3,
			GCRetentionPeriod:               30 * 24 * time.Hour,
			PermanentDemotionAccessWindow:   90 * 24 * time.Hour,
			ProjectDemotionInactivityWindow: 30 * 24 * time.Hour,
			TaskDemotionInactivityWindow:    7 * 24 * time.Hour,
		},
		Gatekeeper: GatekeeperConfig{
			EphemeralToTaskReasoner:    "default",
			TaskToProjectReasoner:      "default",
			ProjectToPermanentReasoner: "default",
			Timeout:                    10 * time.Second,
		},
		Janitor: JanitorConfig{
			StalenessSchedule:            "@every 15m",
			TierMigrationSchedule:        "@every 1h",
			GCSchedule:                   "@every 24h",
			ConfidenceRecomputeSchedule:  "@every 5m",
			ContradictionSchedule:        "@every 1h",
			SynthesizerSchedule:          "@every 6h",
			ContradictionMaxPerPass:      200,
			ConfidenceRecomputeBatchSize: 500,
			ProcessingFlagAbandonedAfter: 10 * time.Minute,
		},
		Backpressure: BackpressureConfig{
			Enabled:               true,
			QueueCapacity:         500,
			RequestsPerSecond:     100,
			JanitorBackoffCeiling: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from YAML with fallback to defaults. Searches:
//  1. ./config.yaml (current directory)
//  2. ~/.boswell/config.yaml (user home)
//  3. /etc/boswell/config.yaml (system-wide)
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".boswell"))
	v.AddConfigPath("/etc/boswell")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFrom loads configuration from an explicit file path, for callers
// (the admin CLI's --config flag) that name a file rather than relying on
// Load's search path.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.auto_migrate", d.Database.AutoMigrate)

	v.SetDefault("vector.index_path", d.Vector.IndexPath)
	v.SetDefault("vector.backend", d.Vector.Backend)
	v.SetDefault("vector.qdrant_url", d.Vector.QdrantURL)
	v.SetDefault("vector.qdrant_enabled", d.Vector.QdrantEnabled)
	v.SetDefault("vector.sync_bound", d.Vector.SyncBound)

	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimension", d.Embedding.Dimension)
	v.SetDefault("embedding.base_url", d.Embedding.BaseURL)
	v.SetDefault("embedding.enabled", d.Embedding.Enabled)
	v.SetDefault("embedding.duplicate_threshold", d.Embedding.DuplicateThreshold)

	v.SetDefault("confidence.cache_ttl", d.Confidence.CacheTTL)
	v.SetDefault("confidence.boost", d.Confidence.Boost)
	v.SetDefault("confidence.penalty", d.Confidence.Penalty)
	v.SetDefault("confidence.diversity_max_types", d.Confidence.DiversityMaxTypes)

	v.SetDefault("namespace.max_depth", d.Namespace.MaxDepth)

	v.SetDefault("tier.staleness_half_life_ephemeral", d.Tier.StalenessHalfLifeEphemeral)
	v.SetDefault("tier.staleness_half_life_task", d.Tier.StalenessHalfLifeTask)
	v.SetDefault("tier.staleness_half_life_project", d.Tier.StalenessHalfLifeProject)
	v.SetDefault("tier.staleness_half_life_permanent", d.Tier.StalenessHalfLifePermanent)
	v.SetDefault("tier.demotion_threshold", d.Tier.DemotionThreshold)
	v.SetDefault("tier.gc_retention_period", d.Tier.GCRetentionPeriod)
	v.SetDefault("tier.permanent_demotion_access_window", d.Tier.PermanentDemotionAccessWindow)
	v.SetDefault("tier.project_demotion_inactivity_window", d.Tier.ProjectDemotionInactivityWindow)
	v.SetDefault("tier.task_demotion_inactivity_window", d.Tier.TaskDemotionInactivityWindow)

	v.SetDefault("gatekeeper.ephemeral_to_task_reasoner", d.Gatekeeper.EphemeralToTaskReasoner)
	v.SetDefault("gatekeeper.task_to_project_reasoner", d.Gatekeeper.TaskToProjectReasoner)
	v.SetDefault("gatekeeper.project_to_permanent_reasoner", d.Gatekeeper.ProjectToPermanentReasoner)
	v.SetDefault("gatekeeper.timeout", d.Gatekeeper.Timeout)

	v.SetDefault("janitor.staleness_schedule", d.Janitor.StalenessSchedule)
	v.SetDefault("janitor.tier_migration_schedule", d.Janitor.TierMigrationSchedule)
	v.SetDefault("janitor.gc_schedule", d.Janitor.GCSchedule)
	v.SetDefault("janitor.confidence_recompute_schedule", d.Janitor.ConfidenceRecomputeSchedule)
	v.SetDefault("janitor.contradiction_schedule", d.Janitor.ContradictionSchedule)
	v.SetDefault("janitor.synthesizer_schedule", d.Janitor.SynthesizerSchedule)
	v.SetDefault("janitor.contradiction_max_per_pass", d.Janitor.ContradictionMaxPerPass)
	v.SetDefault("janitor.confidence_recompute_batch_size", d.Janitor.ConfidenceRecomputeBatchSize)
	v.SetDefault("janitor.processing_flag_abandoned_after", d.Janitor.ProcessingFlagAbandonedAfter)

	v.SetDefault("backpressure.enabled", d.Backpressure.Enabled)
	v.SetDefault("backpressure.queue_capacity", d.Backpressure.QueueCapacity)
	v.SetDefault("backpressure.requests_per_second", d.Backpressure.RequestsPerSecond)
	v.SetDefault("backpressure.janitor_backoff_ceiling", d.Backpressure.JanitorBackoffCeiling)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Vector.IndexPath == "" {
		return fmt.Errorf("vector.index_path is required")
	}
	if c.Vector.Backend != "embedded" && c.Vector.Backend != "qdrant" {
		return fmt.Errorf("vector.backend must be 'embedded' or 'qdrant'")
	}
	if c.Vector.Backend == "qdrant" && c.Vector.QdrantURL == "" {
		return fmt.Errorf("vector.qdrant_url is required when vector.backend is 'qdrant'")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be > 0")
	}
	if c.Embedding.DuplicateThreshold < 0 || c.Embedding.DuplicateThreshold > 1 {
		return fmt.Errorf("embedding.duplicate_threshold must be in [0,1]")
	}
	if c.Namespace.MaxDepth <= 0 {
		return fmt.Errorf("namespace.max_depth must be > 0")
	}
	if c.Tier.DemotionThreshold < 0 || c.Tier.DemotionThreshold > 1 {
		return fmt.Errorf("tier.demotion_threshold must be in [0,1]")
	}
	if c.Confidence.Boost < 0 {
		return fmt.Errorf("confidence.boost must be >= 0")
	}
	if c.Confidence.Penalty < 0 {
		return fmt.Errorf("confidence.penalty must be >= 0")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	return nil
}

// EnsureDataDir creates the directory holding the database file, if needed.
func (c *Config) EnsureDataDir() error {
	dir := filepath.Dir(c.Database.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// ConfigDir returns the default configuration directory.
func ConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".boswell")
}
