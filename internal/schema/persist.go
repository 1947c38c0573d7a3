package schema

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tagdex/internal/storage/fs"
)

const lockTimeout = 5 * time.Second

// schemaFile is the on-disk shape: a single aliases map. Hierarchy is
// inferred from tag names and never persisted.
type schemaFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// Load reads the schema file at path. A missing file yields an empty schema.
// Stored entries are re-validated through AddAlias, so a delimiter in an
// alias name, a case-fold collision, or a cycle in the stored graph is
// surfaced as an error instead of being dropped.
func Load(path string) (*Schema, error) {
	lock, err := fs.AcquireFileLockWithTimeout(path+".lock", lockTimeout)
	if err != nil {
		return nil, fmt.Errorf("lock schema %s: %w", path, err)
	}
	defer lock.Release()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}

	var doc schemaFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}

	s := New()
	for alias, canonical := range doc.Aliases {
		if err := s.AddAlias(alias, canonical); err != nil {
			return nil, fmt.Errorf("schema %s: %w", path, err)
		}
	}
	return s, nil
}

// Save writes the schema to path atomically, under the same advisory lock
// Load takes.
func Save(path string, s *Schema) error {
	doc := schemaFile{Aliases: make(map[string]string)}
	for _, a := range s.Aliases() {
		doc.Aliases[a.Name] = a.Canonical
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	lock, err := fs.AcquireFileLockWithTimeout(path+".lock", lockTimeout)
	if err != nil {
		return fmt.Errorf("lock schema %s: %w", path, err)
	}
	defer lock.Release()

	if err := fs.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write schema %s: %w", path, err)
	}
	return nil
}
