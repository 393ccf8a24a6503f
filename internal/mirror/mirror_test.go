package mirror

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/docvault/docvault/internal/hashutil"
)

func TestWriteReadRoundTrip(t *testing.T) {
	m := New(t.TempDir())

	content := "# Spec\n\nDetails."
	if err := m.Write("docs/planning/requirements/spec.md", content); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, mtime, size, err := m.Read("docs/planning/requirements/spec.md")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != content {
		t.Errorf("read back %q, want %q", got, content)
	}
	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}
	if mtime.IsZero() {
		t.Error("mtime is zero")
	}

	// hash(C) == hash(read(write(C)))
	if hashutil.Hash(content) != hashutil.Hash(got) {
		t.Error("hash changed across write/read round trip")
	}
}

func TestWritePreservesPermissions(t *testing.T) {
	m := New(t.TempDir())

	if err := m.Write("note.md", "v1"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := os.Chmod(m.Abs("note.md"), 0600); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}

	if err := m.Write("note.md", "v2"); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}

	info, err := os.Stat(m.Abs("note.md"))
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %v, want 0600", info.Mode().Perm())
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	m := New(t.TempDir())

	if err := m.Write("docs/guides/howto/a.md", "body"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	entries, err := os.ReadDir(m.Abs("docs/guides/howto"))
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestReadMissingFile(t *testing.T) {
	m := New(t.TempDir())

	_, _, _, err := m.Read("docs/guides/howto/missing.md")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !IsNotFound(err) {
		t.Errorf("expected not-found classification, got %v", err)
	}
}

func TestExistsAndRemove(t *testing.T) {
	m := New(t.TempDir())

	if m.Exists("a.md") {
		t.Error("Exists true for missing file")
	}
	if err := m.Write("a.md", "x"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !m.Exists("a.md") {
		t.Error("Exists false after write")
	}
	if err := m.Remove("a.md"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if m.Exists("a.md") {
		t.Error("Exists true after remove")
	}
	// Idempotent.
	if err := m.Remove("a.md"); err != nil {
		t.Errorf("second Remove failed: %v", err)
	}
}

func TestBackupNaming(t *testing.T) {
	m := New(t.TempDir())

	if err := m.Write("docs/guides/howto/a.md", "keep me"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	backup, err := m.Backup("docs/guides/howto/a.md", at)
	if err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	want := "docs/guides/howto/a.md.conflict-20260314T092653.bak"
	if backup != want {
		t.Errorf("backup path = %q, want %q", backup, want)
	}

	got, _, _, err := m.Read(backup)
	if err != nil {
		t.Fatalf("reading backup failed: %v", err)
	}
	if got != "keep me" {
		t.Errorf("backup content = %q", got)
	}
}
