package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Index is the in-memory hash map from key to its location in the data
// file, plus an on-disk snapshot. The index performs no locking of its
// own; the store's RWLock governs access to it.
type Index struct {
	path    string
	entries map[string]Location
}

// NewIndex loads the snapshot at path if present, or starts empty. A
// malformed snapshot is treated as empty; the caller is expected to rely
// on WAL replay to repopulate it.
func NewIndex(path string) *Index {
	idx := &Index{
		path:    path,
		entries: make(map[string]Location),
	}
	idx.load()
	return idx
}

// Put adds or updates a key's location.
func (idx *Index) Put(key []byte, loc Location) {
	idx.entries[string(key)] = loc
}

// Get returns the location for key, if present.
func (idx *Index) Get(key []byte) (Location, bool) {
	loc, ok := idx.entries[string(key)]
	return loc, ok
}

// Delete removes key from the index. It is a no-op if the key is absent.
func (idx *Index) Delete(key []byte) {
	delete(idx.entries, string(key))
}

// Len returns the number of live keys in the index.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// GetRange returns every entry whose key lies in the closed interval
// [start, end] under byte comparison. The index is a hash map, so this
// scans the whole table; ordering of the result is unspecified.
func (idx *Index) GetRange(start, end []byte) map[string]Location {
	result := make(map[string]Location)
	for key, loc := range idx.entries {
		if bytes.Compare([]byte(key), start) >= 0 && bytes.Compare([]byte(key), end) <= 0 {
			result[key] = loc
		}
	}
	return result
}

// Snapshot returns a shallow copy of the current key -> location mapping,
// used by the compactor to work from a consistent point in time.
func (idx *Index) Snapshot() map[string]Location {
	snap := make(map[string]Location, len(idx.entries))
	for k, v := range idx.entries {
		snap[k] = v
	}
	return snap
}

// Replace swaps the index's contents wholesale, used after a compaction
// swap rewrites every entry's offset.
func (idx *Index) Replace(entries map[string]Location) {
	idx.entries = entries
}

// Save persists a complete snapshot to disk atomically: write to a temp
// file in the same directory, fsync, then rename over the live path.
func (idx *Index) Save() error {
	tmpPath := idx.path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create index snapshot temp file: %w", err)
	}

	if err := gob.NewEncoder(file).Encode(idx.entries); err != nil {
		file.Close()
		return fmt.Errorf("encode index snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync index snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close index snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, idx.path); err != nil {
		return fmt.Errorf("rename index snapshot: %w", err)
	}

	dir, err := os.Open(filepath.Dir(idx.path))
	if err == nil {
		dir.Sync()
		dir.Close()
	}

	return nil
}

// load reads the snapshot if present; a missing or malformed snapshot
// leaves the index empty rather than failing startup.
func (idx *Index) load() {
	file, err := os.Open(idx.path)
	if err != nil {
		return
	}
	defer file.Close()

	var entries map[string]Location
	if err := gob.NewDecoder(file).Decode(&entries); err != nil {
		return
	}
	idx.entries = entries
}
