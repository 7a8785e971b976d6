package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotExist is returned by Load when the document file does not exist
// yet. Callers treat this as an empty store, not as corruption.
var ErrNotExist = errors.New("document does not exist")

// ErrWriteConflict is returned after a concurrent modification was detected
// and a single reload-and-retry did not resolve it.
var ErrWriteConflict = errors.New("document write conflict")

// CorruptError indicates a document that exists but cannot be decoded.
// Callers decide whether to abort or continue in degraded mode; the store
// never silently replaces a corrupt document with a fresh one.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt document %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// Load reads and unmarshals the JSON document at path into v.
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExist
		}
		return &CorruptError{Path: path, Err: err}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return &CorruptError{Path: path, Err: err}
	}

	return nil
}

// Replace atomically replaces the document at path with the JSON encoding
// of v. The document is written to a temporary file in the same directory
// and renamed into place, so a crash mid-write leaves either the old or
// the new document, never a torn one.
func Replace(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

type versionProbe struct {
	Version int64 `json:"version"`
}

// Version reads only the version counter of the document at path. A
// missing document has version 0.
func Version(path string) (int64, error) {
	var probe versionProbe
	if err := Load(path, &probe); err != nil {
		if errors.Is(err, ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return probe.Version, nil
}
