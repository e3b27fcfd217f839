package io

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteJSONAtomic writes JSON to file atomically using temp file + rename
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// WriteFileAtomic writes data to file atomically, replacing any existing file.
// The temp file lives next to the target so the final rename never crosses a
// filesystem.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmpPath, err := writeTemp(dir, filepath.Base(path), data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// WriteNewJSONAtomic is WriteNewFileAtomic for a JSON document
func WriteNewJSONAtomic(dir, name, ext string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return WriteNewFileAtomic(dir, name, ext, append(data, '\n'))
}

// WriteNewFileAtomic writes data to dir/name+ext without ever replacing an
// existing file: while the name is taken, "_" is appended to it. The fully
// written temp file is hard-linked into place, so claiming the name and
// publishing the content are one step even with concurrent writers.
// Returns the path written.
func WriteNewFileAtomic(dir, name, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	tmpPath, err := writeTemp(dir, name+ext, data)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmpPath)

	for i := 0; i < maxSuffixes; i++ {
		path := filepath.Join(dir, name+ext)
		err := os.Link(tmpPath, path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		name += "_"
	}
	return "", fmt.Errorf("no free file name for %q in %s", name, dir)
}

const maxSuffixes = 1000

// writeTemp writes data to a synced 0644 temp file in dir and returns its path
func writeTemp(dir, base string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}
