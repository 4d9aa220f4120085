// Package config loads closer's configuration: built-in defaults, then an
// optional YAML file, then CLOSER_* environment variables. Command-line
// flags are applied last by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface.
type Config struct {
	// DataDir holds the database and the backup directory.
	DataDir    string `yaml:"data_dir"`
	Collection string `yaml:"collection"`
	// DBPath defaults to <data_dir>/<collection>.db.
	DBPath string `yaml:"db_path"`
	// BackupDir defaults to <data_dir>/backups.
	BackupDir string `yaml:"backup_dir"`

	Log        LogConfig        `yaml:"log"`
	Memory     MemoryConfig     `yaml:"memory"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Reflection ReflectionConfig `yaml:"reflection"`
	Dream      DreamConfig      `yaml:"dream"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Search     SearchConfig     `yaml:"search"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MemoryConfig struct {
	WordCeiling     int `yaml:"word_ceiling"`
	BackupRetention int `yaml:"backup_retention"`
}

type RetrievalConfig struct {
	DefaultK     int     `yaml:"default_k"`
	MinRelevance float64 `yaml:"min_relevance"`
	Oversample   int     `yaml:"oversample"`
}

type ReflectionConfig struct {
	MaxDepth     int     `yaml:"max_depth"`
	K            int     `yaml:"k"`
	MinRelevance float64 `yaml:"min_relevance"`
	MaxTokens    int     `yaml:"max_tokens"`
	StopMarker   string  `yaml:"stop_marker"`
}

type DreamConfig struct {
	TokenCeiling int     `yaml:"token_ceiling"`
	K            int     `yaml:"k"`
	MinRelevance float64 `yaml:"min_relevance"`
}

type EmbeddingConfig struct {
	// Provider is "hash", "ollama" or "openai".
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	// Dims 0 lets the provider choose: 384 for hash, learned for ollama,
	// 1536 for openai.
	Dims      int    `yaml:"dims"`
	CacheSize int64  `yaml:"cache_size"`
}

type GeneratorConfig struct {
	// Provider is "extractive", "openai" or "anthropic".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

type SearchConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type TimeoutConfig struct {
	Embed    time.Duration `yaml:"embed"`
	Generate time.Duration `yaml:"generate"`
	Search   time.Duration `yaml:"search"`
	Store    time.Duration `yaml:"store"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:    filepath.Join(home, ".closer"),
		Collection: "closer_memory",
		Log:        LogConfig{Level: "info", Format: "text"},
		Memory:     MemoryConfig{WordCeiling: 40, BackupRetention: 2},
		Retrieval:  RetrievalConfig{DefaultK: 5, MinRelevance: 0.0, Oversample: 3},
		Reflection: ReflectionConfig{MaxDepth: 3, K: 3, MinRelevance: 0.3, MaxTokens: 300, StopMarker: "[[END]]"},
		Dream:      DreamConfig{TokenCeiling: 350, K: 5, MinRelevance: 0.3},
		Embedding:  EmbeddingConfig{Provider: "hash", CacheSize: 1024},
		Generator:  GeneratorConfig{Provider: "extractive"},
		Timeouts: TimeoutConfig{
			Embed:    30 * time.Second,
			Generate: 60 * time.Second,
			Search:   10 * time.Second,
			Store:    10 * time.Second,
		},
	}
}

// DefaultPath is the config file read when none is named explicitly.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".closer", "config.yaml")
}

// Load builds a Config from defaults, the YAML file at path and the
// environment. An empty path reads DefaultPath when it exists; a named file
// must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Resolve fills paths derived from DataDir and Collection.
func (c *Config) Resolve() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, c.Collection+".db")
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.DataDir, "backups")
	}
}

var collectionName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case !collectionName.MatchString(c.Collection):
		return fmt.Errorf("config: collection %q must be 1-63 letters, digits, '_' or '-'", c.Collection)
	case c.Memory.WordCeiling < 1:
		return fmt.Errorf("config: memory.word_ceiling must be positive")
	case c.Memory.BackupRetention < 1:
		return fmt.Errorf("config: memory.backup_retention must be positive")
	case c.Reflection.MaxDepth < 1:
		return fmt.Errorf("config: reflection.max_depth must be positive")
	case c.Dream.TokenCeiling < 1:
		return fmt.Errorf("config: dream.token_ceiling must be positive")
	case c.Retrieval.DefaultK < 1:
		return fmt.Errorf("config: retrieval.default_k must be positive")
	case c.Retrieval.MinRelevance < 0 || c.Retrieval.MinRelevance > 1:
		return fmt.Errorf("config: retrieval.min_relevance must be within [0, 1]")
	}
	return nil
}
