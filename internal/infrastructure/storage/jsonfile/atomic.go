// Package jsonfile stores the fiscal pool and the integration registry in
// single JSON documents replaced atomically on every write.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// BackupSuffix is appended to the previous generation of a file.
const BackupSuffix = ".bak"

// WriteAtomic replaces path with data. The data goes to a sibling temp file
// that is synced before the rename; the replaced version is kept at path+".bak".
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+BackupSuffix); err != nil {
			cleanup()
			return fmt.Errorf("backup: %w", err)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	syncDir(dir)
	return nil
}

// WriteJSON encodes v with indentation and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteAtomic(path, data)
}

// ReadJSON decodes path into v. A missing, truncated or corrupt file falls
// back to the backup copy. It reports fs.ErrNotExist when neither exists.
func ReadJSON(path string, v any) (fromBackup bool, err error) {
	primaryErr := decodeFile(path, v)
	if primaryErr == nil {
		return false, nil
	}
	if backupErr := decodeFile(path+BackupSuffix, v); backupErr == nil {
		return true, nil
	} else if errors.Is(primaryErr, fs.ErrNotExist) && errors.Is(backupErr, fs.ErrNotExist) {
		return false, fs.ErrNotExist
	}
	return false, primaryErr
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%s is empty", filepath.Base(path))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// copyFile copies src over dst through its own atomic rename.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// modTime returns the modification time of path, or the zero time.
func modTime(path string) (t int64) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.ModTime().UnixNano()
}
