package engine

import "time"

// IndexEntry records the last successfully backed-up state of one
// remote file. The map key and Path are the full remote path (root
// joined with the listed relative path, forward slashes).
type IndexEntry struct {
	Path     string    `json:"path"`
	Checksum string    `json:"checksum"` // SHA-256, lowercase hex
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mtime"`
	LastSeen time.Time `json:"last_seen"`
}

// IndexStore persists one hash index per host. The engine loads the
// index at the start of a pass, owns the in-memory copy for the whole
// pass, and saves it exactly once after all transfers complete.
type IndexStore interface {
	// Load returns the stored index for host, or an empty map if none
	// exists yet. A corrupt index is returned as an empty map together
	// with a *CorruptIndexError so the caller can log the reset.
	Load(host string) (map[string]IndexEntry, error)

	// Save atomically replaces the stored index for host.
	Save(host string, entries map[string]IndexEntry) error
}
