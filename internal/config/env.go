package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnv overrides cfg with any CLOSER_* variables that are set.
func applyEnv(cfg *Config) {
	cfg.DataDir = stringOr("CLOSER_DATA_DIR", cfg.DataDir)
	cfg.DBPath = stringOr("CLOSER_DB", cfg.DBPath)
	cfg.BackupDir = stringOr("CLOSER_BACKUP_DIR", cfg.BackupDir)
	cfg.Collection = stringOr("CLOSER_COLLECTION", cfg.Collection)

	cfg.Log.Level = stringOr("CLOSER_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = stringOr("CLOSER_LOG_FORMAT", cfg.Log.Format)

	cfg.Memory.WordCeiling = intOr("CLOSER_WORD_CEILING", cfg.Memory.WordCeiling)
	cfg.Memory.BackupRetention = intOr("CLOSER_BACKUP_RETENTION", cfg.Memory.BackupRetention)

	cfg.Retrieval.DefaultK = intOr("CLOSER_DEFAULT_K", cfg.Retrieval.DefaultK)
	cfg.Retrieval.MinRelevance = floatOr("CLOSER_MIN_RELEVANCE", cfg.Retrieval.MinRelevance)
	cfg.Retrieval.Oversample = intOr("CLOSER_OVERSAMPLE", cfg.Retrieval.Oversample)

	cfg.Reflection.MaxDepth = intOr("CLOSER_REFLECTION_DEPTH", cfg.Reflection.MaxDepth)
	cfg.Dream.TokenCeiling = intOr("CLOSER_DREAM_TOKENS", cfg.Dream.TokenCeiling)

	cfg.Embedding.Provider = stringOr("CLOSER_EMBED_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.Model = stringOr("CLOSER_EMBED_MODEL", cfg.Embedding.Model)
	cfg.Embedding.BaseURL = stringOr("CLOSER_EMBED_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.APIKey = stringOr("CLOSER_EMBED_API_KEY", stringOr("OPENAI_API_KEY", cfg.Embedding.APIKey))
	cfg.Embedding.Dims = intOr("CLOSER_EMBED_DIMS", cfg.Embedding.Dims)

	cfg.Generator.Provider = stringOr("CLOSER_GEN_PROVIDER", cfg.Generator.Provider)
	cfg.Generator.Model = stringOr("CLOSER_GEN_MODEL", cfg.Generator.Model)
	cfg.Generator.BaseURL = stringOr("CLOSER_GEN_URL", cfg.Generator.BaseURL)
	cfg.Generator.APIKey = stringOr("CLOSER_GEN_API_KEY", cfg.Generator.APIKey)

	cfg.Search.APIKey = stringOr("CLOSER_BRAVE_API_KEY", stringOr("BRAVE_API_KEY", cfg.Search.APIKey))

	cfg.Timeouts.Embed = durationOr("CLOSER_EMBED_TIMEOUT", cfg.Timeouts.Embed)
	cfg.Timeouts.Generate = durationOr("CLOSER_GEN_TIMEOUT", cfg.Timeouts.Generate)
	cfg.Timeouts.Search = durationOr("CLOSER_SEARCH_TIMEOUT", cfg.Timeouts.Search)
	cfg.Timeouts.Store = durationOr("CLOSER_STORE_TIMEOUT", cfg.Timeouts.Store)
}

// The helpers return def when the variable is unset, empty or unparsable.

func stringOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func intOr(name string, def int) int {
	n, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return def
	}
	return n
}

func floatOr(name string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(name), 64)
	if err != nil {
		return def
	}
	return f
}

func durationOr(name string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(name))
	if err != nil {
		return def
	}
	return d
}
