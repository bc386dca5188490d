package io

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WriteJSONAtomic marshals v with indentation and writes it atomically.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// WriteFileAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path. Readers observe either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// AppendLine appends line plus a trailing newline to path and syncs before
// returning. The file is created if missing. If the write or the sync fails,
// the file is truncated back to its prior length so no partial or unsynced
// record is left behind.
func AppendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	if err := appendWithRollback(f, buf); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	return f.Close()
}

// appendFile is the part of *os.File that appendWithRollback needs.
type appendFile interface {
	Stat() (os.FileInfo, error)
	Write(p []byte) (int, error)
	Sync() error
	Truncate(size int64) error
}

// appendWithRollback writes buf at the end of f and syncs it. Any failure
// truncates f to the size it had before the write.
func appendWithRollback(f appendFile, buf []byte) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	if _, err = f.Write(buf); err != nil {
		err = fmt.Errorf("write: %w", err)
	} else if err = f.Sync(); err != nil {
		err = fmt.Errorf("sync: %w", err)
	}
	if err == nil {
		return nil
	}

	if terr := f.Truncate(size); terr != nil {
		return errors.Join(err, fmt.Errorf("truncate to %d bytes: %w", size, terr))
	}
	return err
}

// RemoveIfExists deletes path, treating a missing file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
