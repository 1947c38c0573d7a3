// Package vtag evaluates virtual tags: computed predicates over file
// metadata that behave like tags at query time but are never stored.
package vtag

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config tunes the evaluator. Zero values are filled from DefaultConfig.
type Config struct {
	// CacheTTL bounds how long stat, line-count and git results are reused.
	CacheTTL time.Duration
	// CacheCapacity caps each cache; oldest entries are evicted beyond it.
	CacheCapacity uint64
	// Workers is the parallelism of EvaluateAll.
	Workers int
	// StaleAfter is the age past which git:stale matches a file's last commit.
	StaleAfter time.Duration

	// Size category upper bounds. A file is tiny below Tiny, small below
	// Small, and so on; huge is everything at or above Large.
	SizeTiny   uint64
	SizeSmall  uint64
	SizeMedium uint64
	SizeLarge  uint64

	// ExtensionTypes maps an ext-type category to its extensions, each with
	// a leading dot.
	ExtensionTypes map[string][]string
}

func DefaultConfig() Config {
	return Config{
		CacheTTL:      300 * time.Second,
		CacheCapacity: 100_000,
		Workers:       runtime.NumCPU(),
		StaleAfter:    180 * 24 * time.Hour,
		SizeTiny:      1_000,
		SizeSmall:     100_000,
		SizeMedium:    1_000_000,
		SizeLarge:     10_000_000,
		ExtensionTypes: map[string][]string{
			"source":   {".go", ".rs", ".py", ".js", ".ts", ".c", ".cpp", ".java"},
			"document": {".md", ".txt", ".pdf", ".doc", ".docx", ".org"},
			"config":   {".toml", ".yaml", ".yml", ".json", ".ini", ".conf"},
			"image":    {".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"},
			"archive":  {".zip", ".tar", ".gz", ".7z", ".rar", ".bz2"},
		},
	}
}

// configFile is the optional YAML overlay. Sizes are human-readable strings
// ("100KB"); absent fields keep their defaults.
type configFile struct {
	CacheTTL       string              `yaml:"cache_ttl"`
	CacheCapacity  uint64              `yaml:"cache_capacity"`
	Workers        int                 `yaml:"workers"`
	StaleDays      int                 `yaml:"stale_days"`
	SizeCategories map[string]string   `yaml:"size_categories"`
	ExtensionTypes map[string][]string `yaml:"extension_types"`
}

// LoadConfig reads the YAML overlay at path and merges it over the defaults.
// A missing file yields the defaults unchanged; a malformed one is an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read vtag config %s: %w", path, err)
	}

	var doc configFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return cfg, fmt.Errorf("parse vtag config %s: %w", path, err)
	}

	if doc.CacheTTL != "" {
		ttl, err := time.ParseDuration(doc.CacheTTL)
		if err != nil {
			return cfg, fmt.Errorf("vtag config %s: cache_ttl: %w", path, err)
		}
		cfg.CacheTTL = ttl
	}
	if doc.CacheCapacity > 0 {
		cfg.CacheCapacity = doc.CacheCapacity
	}
	if doc.Workers > 0 {
		cfg.Workers = doc.Workers
	}
	if doc.StaleDays > 0 {
		cfg.StaleAfter = time.Duration(doc.StaleDays) * 24 * time.Hour
	}
	for name, dst := range map[string]*uint64{
		"tiny":   &cfg.SizeTiny,
		"small":  &cfg.SizeSmall,
		"medium": &cfg.SizeMedium,
		"large":  &cfg.SizeLarge,
	} {
		raw, ok := doc.SizeCategories[name]
		if !ok {
			continue
		}
		n, err := humanize.ParseBytes(raw)
		if err != nil {
			return cfg, fmt.Errorf("vtag config %s: size_categories.%s: %w", path, name, err)
		}
		*dst = n
	}
	for category, exts := range doc.ExtensionTypes {
		cfg.ExtensionTypes[category] = exts
	}
	return cfg, nil
}
