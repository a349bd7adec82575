package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the contract of spec.md §4.1: Save durably replaces the previous
// record, Load returns the most recently saved one (or a fresh zero record
// if none exists yet).
type Store interface {
	Save(r Record) error
	Load() (Record, error)
}

// FileStore persists a Record to a single file per peer using the
// write-temp / flush / fsync / rename sequence spec.md §4.1 requires: a
// crash mid-Save leaves either the previous record intact or the new one
// complete, never a partial write, because os.Rename is the commit point.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore persisting to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save implements Store. Callers on the safety-critical path (spec.md
// §4.3's persist-before-reply rule) must treat a non-nil error as fatal to
// whatever protocol reply it was sequencing.
func (s *FileStore) Save(r Record) error {
	tmp := s.path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}

	enc := json.NewEncoder(f)
	if err := enc.Encode(r); err != nil {
		f.Close()
		return fmt.Errorf("storage: encode record: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("storage: fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("storage: close temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("storage: commit rename: %w", err)
	}

	return nil
}

// Load implements Store. A missing file is not an error: it means this
// peer has never booted before, and the fresh zero record is returned.
func (s *FileStore) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return zero(), nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("storage: read %s: %w", s.path, err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("storage: decode %s: %w", s.path, err)
	}
	return r, nil
}

// EnsureDir creates the parent directory of path if it does not exist yet,
// so a fresh peer can boot against a state directory that hasn't been
// created by anything else.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
