package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Memory.WordCeiling != 40 || cfg.Memory.BackupRetention != 2 {
		t.Errorf("unexpected memory defaults %+v", cfg.Memory)
	}
	if cfg.Reflection.MaxDepth != 3 || cfg.Dream.TokenCeiling != 350 || cfg.Retrieval.DefaultK != 5 {
		t.Errorf("unexpected engine defaults")
	}
	if cfg.Timeouts.Search != 10*time.Second {
		t.Errorf("unexpected search timeout %v", cfg.Timeouts.Search)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
data_dir: `+dir+`
collection: notes
memory:
  word_ceiling: 25
dream:
  token_ceiling: 120
timeouts:
  generate: 5s
`)
	t.Setenv("CLOSER_DREAM_TOKENS", "90")
	t.Setenv("CLOSER_MIN_RELEVANCE", "0.25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Memory.WordCeiling != 25 {
		t.Errorf("file value not applied: %d", cfg.Memory.WordCeiling)
	}
	if cfg.Dream.TokenCeiling != 90 {
		t.Errorf("env should override file, got %d", cfg.Dream.TokenCeiling)
	}
	if cfg.Retrieval.MinRelevance != 0.25 {
		t.Errorf("env float not applied: %f", cfg.Retrieval.MinRelevance)
	}
	if cfg.Timeouts.Generate != 5*time.Second {
		t.Errorf("duration not parsed: %v", cfg.Timeouts.Generate)
	}
	if cfg.Reflection.MaxDepth != 3 {
		t.Errorf("unset values keep defaults, got %d", cfg.Reflection.MaxDepth)
	}
	if cfg.DBPath != filepath.Join(dir, "notes.db") || cfg.BackupDir != filepath.Join(dir, "backups") {
		t.Errorf("unexpected derived paths %s %s", cfg.DBPath, cfg.BackupDir)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := Load(""); err != nil {
		t.Errorf("load: %v", err)
	}
}

func TestLoad_BadEnvIgnored(t *testing.T) {
	path := writeConfig(t, "collection: ok\n")
	t.Setenv("CLOSER_WORD_CEILING", "lots")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Memory.WordCeiling != 40 {
		t.Errorf("unparsable env should keep default, got %d", cfg.Memory.WordCeiling)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"glob in collection", func(c *Config) { c.Collection = "mem*" }, "collection"},
		{"empty collection", func(c *Config) { c.Collection = "" }, "collection"},
		{"zero ceiling", func(c *Config) { c.Memory.WordCeiling = 0 }, "word_ceiling"},
		{"zero retention", func(c *Config) { c.Memory.BackupRetention = 0 }, "backup_retention"},
		{"zero depth", func(c *Config) { c.Reflection.MaxDepth = 0 }, "max_depth"},
		{"relevance above one", func(c *Config) { c.Retrieval.MinRelevance = 1.5 }, "min_relevance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "memory: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
