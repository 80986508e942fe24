// Package cache stores woven modules keyed by the content they were woven
// from, so an unchanged project is not woven again.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/metadata"
)

// Cache manages woven bundles in .aspectweave/cache/.
// The key is a hash of the input bundle, the normalized project file, the
// registered aspect names and the weaver version.
type Cache struct {
	// projectDir is the root directory containing aspectweave.yaml.
	projectDir string
}

// New creates a cache scoped to the given project directory.
func New(projectDir string) *Cache {
	return &Cache{projectDir: projectDir}
}

// Dir returns the path to the cache directory.
func (c *Cache) Dir() string {
	return filepath.Join(c.projectDir, ".aspectweave", "cache")
}

// Key computes the cache key of one weaving run.
func (c *Cache) Key(input, project []byte, aspectNames []string) string {
	h := sha256.New()
	h.Write(input)
	h.Write([]byte("\x00"))
	h.Write(normalize(project))
	for _, name := range aspectNames {
		h.Write([]byte("\x00"))
		h.Write([]byte(name))
	}
	h.Write([]byte("\x00"))
	h.Write([]byte(config.WeaverVersion))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.Dir(), key+config.ModuleFileExt)
}

// Lookup returns the cached bundle for key. Entries that are not module
// bundles are removed and reported as misses.
func (c *Cache) Lookup(key string) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	if !metadata.IsModule(data) {
		os.Remove(c.path(key))
		return nil, false
	}
	return data, true
}

// Store records a woven bundle under key.
func (c *Cache) Store(key string, data []byte) error {
	if err := os.MkdirAll(c.Dir(), 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	// Write then rename so concurrent readers never see a partial bundle.
	tmp, err := os.CreateTemp(c.Dir(), key+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// Clean removes all cached bundles.
func (c *Cache) Clean() error {
	return os.RemoveAll(c.Dir())
}

// normalize trims trailing whitespace on each line and trailing newlines,
// so trivial whitespace changes to the project file keep the key.
func normalize(data []byte) []byte {
	lines := strings.Split(string(data), "\n")
	var normalized strings.Builder
	for _, line := range lines {
		normalized.WriteString(strings.TrimRight(line, " \t\r"))
		normalized.WriteString("\n")
	}
	return []byte(strings.TrimRight(normalized.String(), "\n"))
}
