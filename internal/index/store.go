// Package index persists per-host hash indexes as JSON files. The
// index lives at <backup_root>/<host>/index.json, next to the current
// tree and the snapshots but never inside them, so snapshot copies
// stay free of bookkeeping files.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"sbak/internal/engine"
)

const (
	fileName      = "index.json"
	formatVersion = 1
)

// fileEnvelope is the on-disk shape of one host index.
type fileEnvelope struct {
	Version int                          `json:"version"`
	Host    string                       `json:"host"`
	Entries map[string]engine.IndexEntry `json:"entries"`
}

// Store reads and writes host indexes under a backup root.
type Store struct {
	root string
}

var _ engine.IndexStore = (*Store)(nil)

// NewStore creates a Store rooted at the local backup directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Path returns the index file location for a host.
func (s *Store) Path(host string) string {
	return filepath.Join(s.root, host, fileName)
}

// Load returns the stored index for host. A missing file is an empty
// index. Anything unreadable or undecodable is returned as an empty
// index together with a *CorruptIndexError, so one bad file costs a
// re-fetch instead of the whole pass.
func (s *Store) Load(host string) (map[string]engine.IndexEntry, error) {
	data, err := os.ReadFile(s.Path(host))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]engine.IndexEntry{}, nil
		}
		return map[string]engine.IndexEntry{}, &engine.CorruptIndexError{Host: host, Err: err}
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return map[string]engine.IndexEntry{}, &engine.CorruptIndexError{Host: host, Err: err}
	}
	if env.Version != formatVersion {
		return map[string]engine.IndexEntry{}, &engine.CorruptIndexError{
			Host: host,
			Err:  fmt.Errorf("unsupported index version %d", env.Version),
		}
	}

	if env.Entries == nil {
		env.Entries = map[string]engine.IndexEntry{}
	}
	return env.Entries, nil
}

// Save atomically replaces the stored index for host. The write goes
// through a temp file and rename so a crash never leaves a torn index.
func (s *Store) Save(host string, entries map[string]engine.IndexEntry) error {
	if err := os.MkdirAll(filepath.Join(s.root, host), 0755); err != nil {
		return fmt.Errorf("creating host directory: %w", err)
	}

	env := fileEnvelope{
		Version: formatVersion,
		Host:    host,
		Entries: entries,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}

	if err := renameio.WriteFile(s.Path(host), data, 0644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}
