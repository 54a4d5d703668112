// Package accountfile performs read-modify-write edits on persisted
// account JSON files. Edits go through sjson so every field the proxy
// does not own survives the rewrite verbatim, including key order;
// output is always pretty-printed.
package accountfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// Field is one JSON path assignment, e.g. {"token.access_token", "ya29..."}.
type Field struct {
	Path  string
	Value any
}

// Read returns the raw bytes of an account file.
func Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read account file: %w", err)
	}
	return data, nil
}

// Apply sets the given fields in the account file and atomically replaces
// it with the pretty-printed result.
func Apply(path string, fields []Field) error {
	data, err := Read(path)
	if err != nil {
		return err
	}
	for _, f := range fields {
		data, err = sjson.SetBytes(data, f.Path, f.Value)
		if err != nil {
			return fmt.Errorf("set %s: %w", f.Path, err)
		}
	}
	return WriteAtomic(path, pretty.Pretty(data))
}

// WriteAtomic writes data to a sibling temp file and renames it over path,
// so a crash mid-write never leaves a truncated account file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".account-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace account file: %w", err)
	}
	return nil
}
