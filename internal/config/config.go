package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// DefaultDataDir holds config.json, the database, logs and projects.toml.
const DefaultDataDir = ".connidx"

// EnvPrefix prefixes environment overrides, e.g. CONNIDX_INCREMENTAL_MAXLINESPERBATCH.
const EnvPrefix = "CONNIDX"

// Config is the complete connidx configuration.
type Config struct {
	Version int    `json:"version" mapstructure:"version"`
	DataDir string `json:"dataDir" mapstructure:"dataDir"`

	Incremental IncrementalConfig `json:"incremental" mapstructure:"incremental"`
	Pipeline    PipelineConfig    `json:"pipeline" mapstructure:"pipeline"`
	Watch       WatchConfig       `json:"watch" mapstructure:"watch"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
	Metrics     MetricsConfig     `json:"metrics" mapstructure:"metrics"`
}

// IncrementalConfig tunes remapping and batching.
type IncrementalConfig struct {
	// AdjacencyThreshold is the old-line distance under which replaced
	// ranges merge, and within which added lines fold into a resplit.
	AdjacencyThreshold int `json:"adjacencyThreshold" mapstructure:"adjacencyThreshold"`
	// BoundarySlack is how close a covering interval must come to a
	// connection edge for the edge to count as covered.
	BoundarySlack      int `json:"boundarySlack" mapstructure:"boundarySlack"`
	MaxLinesPerBatch   int `json:"maxLinesPerBatch" mapstructure:"maxLinesPerBatch"`
	MaxAlignCells      int `json:"maxAlignCells" mapstructure:"maxAlignCells"`
	ProjectConcurrency int `json:"projectConcurrency" mapstructure:"projectConcurrency"`
}

// PipelineConfig points at the external discovery pipeline.
type PipelineConfig struct {
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	TimeoutMs int    `json:"timeoutMs" mapstructure:"timeoutMs"`
}

type WatchConfig struct {
	DebounceMs int      `json:"debounceMs" mapstructure:"debounceMs"`
	Ignore     []string `json:"ignore" mapstructure:"ignore"`
}

// LoggingConfig holds the global level plus per-subsystem overrides.
type LoggingConfig struct {
	Format     string `json:"format" mapstructure:"format"`
	Level      string `json:"level" mapstructure:"level"`
	Run        string `json:"run,omitempty" mapstructure:"run"`
	Watch      string `json:"watch,omitempty" mapstructure:"watch"`
	MaxSize    string `json:"maxSize,omitempty" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups,omitempty" mapstructure:"maxBackups"`
}

type MetricsConfig struct {
	Textfile string `json:"textfile,omitempty" mapstructure:"textfile"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		DataDir: DefaultDataDir,
		Incremental: IncrementalConfig{
			AdjacencyThreshold: 3,
			BoundarySlack:      1,
			MaxLinesPerBatch:   200,
			MaxAlignCells:      4_000_000,
			ProjectConcurrency: 4,
		},
		Pipeline: PipelineConfig{
			TimeoutMs: 60000,
		},
		Watch: WatchConfig{
			DebounceMs: 2000,
			Ignore:     []string{"**/.git/**", "**/.connidx/**", "**/node_modules/**"},
		},
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxBackups: 3,
		},
	}
}

// ConfigPath returns <root>/.connidx/config.json.
func ConfigPath(root string) string {
	return filepath.Join(root, DefaultDataDir, "config.json")
}

// LoadConfig reads <root>/.connidx/config.json over the defaults and
// applies CONNIDX_* environment overrides. A missing file is not an error.
func LoadConfig(root string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(root, DefaultDataDir))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys
// that are absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("dataDir", d.DataDir)
	v.SetDefault("incremental.adjacencyThreshold", d.Incremental.AdjacencyThreshold)
	v.SetDefault("incremental.boundarySlack", d.Incremental.BoundarySlack)
	v.SetDefault("incremental.maxLinesPerBatch", d.Incremental.MaxLinesPerBatch)
	v.SetDefault("incremental.maxAlignCells", d.Incremental.MaxAlignCells)
	v.SetDefault("incremental.projectConcurrency", d.Incremental.ProjectConcurrency)
	v.SetDefault("pipeline.endpoint", d.Pipeline.Endpoint)
	v.SetDefault("pipeline.timeoutMs", d.Pipeline.TimeoutMs)
	v.SetDefault("watch.debounceMs", d.Watch.DebounceMs)
	v.SetDefault("watch.ignore", d.Watch.Ignore)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.run", d.Logging.Run)
	v.SetDefault("logging.watch", d.Logging.Watch)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
}

// Save writes the configuration to <root>/.connidx/config.json.
func (c *Config) Save(root string) error {
	path := ConfigPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Version != CurrentVersion:
		return &ConfigError{Field: "version", Message: fmt.Sprintf("unsupported version %d", c.Version)}
	case c.DataDir == "":
		return &ConfigError{Field: "dataDir", Message: "must not be empty"}
	case c.Incremental.AdjacencyThreshold < 0:
		return &ConfigError{Field: "incremental.adjacencyThreshold", Message: "must be >= 0"}
	case c.Incremental.BoundarySlack < 0:
		return &ConfigError{Field: "incremental.boundarySlack", Message: "must be >= 0"}
	case c.Incremental.MaxLinesPerBatch < 1:
		return &ConfigError{Field: "incremental.maxLinesPerBatch", Message: "must be >= 1"}
	case c.Incremental.MaxAlignCells < 1:
		return &ConfigError{Field: "incremental.maxAlignCells", Message: "must be >= 1"}
	case c.Incremental.ProjectConcurrency < 1:
		return &ConfigError{Field: "incremental.projectConcurrency", Message: "must be >= 1"}
	case c.Pipeline.TimeoutMs < 0:
		return &ConfigError{Field: "pipeline.timeoutMs", Message: "must be >= 0"}
	}
	return nil
}

// ConfigError names the offending field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
