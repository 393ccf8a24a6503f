// Package mirror reads and writes the filesystem copy of documents.
//
// All paths are relative to a root directory (the repository or docs tree).
// Writes go through a temp-file-then-rename so a partially written file is
// never observable at the final path. The mirror is expected to be edited
// externally; it does no locking of its own.
package mirror

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// defaultMode is applied to files that do not exist yet. Existing files keep
// their permissions across rewrites.
const defaultMode fs.FileMode = 0644

// FsError wraps a filesystem failure with the operation and path that
// produced it. It unwraps to the underlying os error so callers can use
// errors.Is(err, fs.ErrNotExist) etc.
type FsError struct {
	Op   string
	Path string
	Err  error
}

func (e *FsError) Error() string {
	return fmt.Sprintf("mirror %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FsError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is an FsError caused by a missing file.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Mirror provides filesystem access rooted at a base directory.
type Mirror struct {
	root string
}

// New creates a Mirror rooted at root. The directory does not need to exist
// yet; writes create parents as needed.
func New(root string) *Mirror {
	return &Mirror{root: root}
}

// Root returns the mirror's root directory.
func (m *Mirror) Root() string { return m.root }

// Abs resolves a document-relative path against the mirror root.
func (m *Mirror) Abs(rel string) string {
	return filepath.Join(m.root, filepath.FromSlash(rel))
}

// Write stores content at rel atomically, creating parent directories as
// needed. Existing file permissions are preserved; new files get 0644.
func (m *Mirror) Write(rel, content string) error {
	target := m.Abs(rel)

	mode := defaultMode
	if info, err := os.Stat(target); err == nil {
		mode = info.Mode().Perm()
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return &FsError{Op: "mkdir", Path: rel, Err: err}
	}

	// Temp file in the same directory so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return &FsError{Op: "create", Path: rel, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &FsError{Op: "write", Path: rel, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &FsError{Op: "close", Path: rel, Err: err}
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return &FsError{Op: "chmod", Path: rel, Err: err}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return &FsError{Op: "rename", Path: rel, Err: err}
	}

	return nil
}

// Read returns the content, modification time, and size of the file at rel.
func (m *Mirror) Read(rel string) (content string, mtime time.Time, size int64, err error) {
	target := m.Abs(rel)

	info, err := os.Stat(target)
	if err != nil {
		return "", time.Time{}, 0, &FsError{Op: "stat", Path: rel, Err: err}
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return "", time.Time{}, 0, &FsError{Op: "read", Path: rel, Err: err}
	}

	return string(data), info.ModTime(), info.Size(), nil
}

// Exists reports whether a file exists at rel.
func (m *Mirror) Exists(rel string) bool {
	info, err := os.Stat(m.Abs(rel))
	return err == nil && !info.IsDir()
}

// Remove deletes the file at rel. Removing a missing file is not an error.
func (m *Mirror) Remove(rel string) error {
	if err := os.Remove(m.Abs(rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &FsError{Op: "remove", Path: rel, Err: err}
	}
	return nil
}

// BackupName returns the deterministic backup path for rel at a point in
// time: <path>.conflict-<UTC yyyymmddThhmmss>.bak
func BackupName(rel string, now time.Time) string {
	return fmt.Sprintf("%s.conflict-%s.bak", rel, now.UTC().Format("20060102T150405"))
}

// Backup copies the current file at rel to its timestamped sibling and
// returns the backup's relative path.
func (m *Mirror) Backup(rel string, now time.Time) (string, error) {
	content, _, _, err := m.Read(rel)
	if err != nil {
		return "", err
	}
	backupRel := BackupName(rel, now)
	if err := m.Write(backupRel, content); err != nil {
		return "", err
	}
	return backupRel, nil
}

// BackupContent writes content (the losing database version of a conflict)
// to rel's timestamped backup sibling.
func (m *Mirror) BackupContent(rel, content string, now time.Time) (string, error) {
	backupRel := BackupName(rel, now)
	if err := m.Write(backupRel, content); err != nil {
		return "", err
	}
	return backupRel, nil
}
