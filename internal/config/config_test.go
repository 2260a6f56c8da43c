package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.DataDir != ".connidx" {
		t.Errorf("DataDir = %q, want .connidx", cfg.DataDir)
	}
	if cfg.Incremental.AdjacencyThreshold != 3 {
		t.Errorf("AdjacencyThreshold = %d, want 3", cfg.Incremental.AdjacencyThreshold)
	}
	if cfg.Incremental.BoundarySlack != 1 {
		t.Errorf("BoundarySlack = %d, want 1", cfg.Incremental.BoundarySlack)
	}
	if cfg.Incremental.MaxLinesPerBatch != 200 {
		t.Errorf("MaxLinesPerBatch = %d, want 200", cfg.Incremental.MaxLinesPerBatch)
	}
	if cfg.Pipeline.TimeoutMs != 60000 {
		t.Errorf("Pipeline.TimeoutMs = %d, want 60000", cfg.Pipeline.TimeoutMs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad version", func(c *Config) { c.Version = 99 }, "version"},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "dataDir"},
		{"zero batch", func(c *Config) { c.Incremental.MaxLinesPerBatch = 0 }, "incremental.maxLinesPerBatch"},
		{"negative threshold", func(c *Config) { c.Incremental.AdjacencyThreshold = -1 }, "incremental.adjacencyThreshold"},
		{"zero concurrency", func(c *Config) { c.Incremental.ProjectConcurrency = 0 }, "incremental.projectConcurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			cfgErr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.wantErr {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.wantErr)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{Field: "version", Message: "unsupported version 99"}
	want := "config error in field 'version': unsupported version 99"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestLoadConfig_Default(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Incremental.MaxLinesPerBatch != 200 {
		t.Errorf("MaxLinesPerBatch = %d, want 200 (default)", cfg.Incremental.MaxLinesPerBatch)
	}
	if len(cfg.Watch.Ignore) == 0 {
		t.Error("default ignore globs should be present")
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, ".connidx")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create data dir: %v", err)
	}

	content := `{
		"version": 1,
		"incremental": {"maxLinesPerBatch": 50},
		"pipeline": {"endpoint": "http://localhost:9000/discover"}
	}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Incremental.MaxLinesPerBatch != 50 {
		t.Errorf("MaxLinesPerBatch = %d, want 50", cfg.Incremental.MaxLinesPerBatch)
	}
	if cfg.Pipeline.Endpoint != "http://localhost:9000/discover" {
		t.Errorf("Endpoint = %q", cfg.Pipeline.Endpoint)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Incremental.AdjacencyThreshold != 3 {
		t.Errorf("AdjacencyThreshold = %d, want 3", cfg.Incremental.AdjacencyThreshold)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, ".connidx")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create data dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(tmpDir); err == nil {
		t.Error("LoadConfig() should fail on invalid JSON")
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("CONNIDX_INCREMENTAL_MAXLINESPERBATCH", "75")
	t.Setenv("CONNIDX_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Incremental.MaxLinesPerBatch != 75 {
		t.Errorf("MaxLinesPerBatch = %d, want 75", cfg.Incremental.MaxLinesPerBatch)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestConfig_Save(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Incremental.MaxLinesPerBatch = 42
	if err := cfg.Save(tmpDir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(ConfigPath(tmpDir)); err != nil {
		t.Fatalf("config file was not created: %v", err)
	}

	loaded, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig() after save error = %v", err)
	}
	if loaded.Incremental.MaxLinesPerBatch != 42 {
		t.Errorf("loaded MaxLinesPerBatch = %d, want 42", loaded.Incremental.MaxLinesPerBatch)
	}
}
