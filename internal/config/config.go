package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	// DataDir holds the index database, the schema file and the vtag
	// config unless their paths are overridden individually.
	DataDir    string
	DBPath     string
	SchemaPath string
	VTagConfig string
	// CacheTTL and Workers override the vtag config file when set; zero
	// means defer to it.
	CacheTTL     time.Duration
	Workers      int
	KeepUntagged bool
}

func Load() Config {
	initEnvFile()

	dataDir := envOr("TAGDEX_DATA_DIR", defaultDataDir())
	cfg := Config{
		DataDir:      dataDir,
		DBPath:       envOr("TAGDEX_DB_PATH", filepath.Join(dataDir, "index.db")),
		SchemaPath:   envOr("TAGDEX_SCHEMA_PATH", filepath.Join(dataDir, "schema.yaml")),
		VTagConfig:   envOr("TAGDEX_VTAG_CONFIG", filepath.Join(dataDir, "vtags.yaml")),
		KeepUntagged: parseBoolOr("TAGDEX_KEEP_UNTAGGED", false),
	}

	cfg.CacheTTL = parseDurationOr("TAGDEX_CACHE_TTL", 0)
	cfg.Workers = parseIntOr("TAGDEX_WORKERS", 0)
	return cfg
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tagdex")
	}
	return ".tagdex"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func parseBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
