package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docvault/docvault/internal/mirror"
	"github.com/docvault/docvault/internal/store"
	"github.com/docvault/docvault/internal/syncer"
)

func setupDaemon(t *testing.T) (*store.Store, *mirror.Mirror, *syncer.Engine, string) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	root := t.TempDir()
	m := mirror.New(root)
	s.AttachMirror(m)

	engine := syncer.New(s, m, syncer.Config{}, log.New(os.Stderr, "[test] ", 0))
	return s, m, engine, root
}

func TestNewValidation(t *testing.T) {
	s, _, engine, root := setupDaemon(t)

	if _, err := New(nil, engine, root, nil); err == nil {
		t.Error("nil store accepted")
	}
	if _, err := New(s, nil, root, nil); err == nil {
		t.Error("nil engine accepted")
	}
	if _, err := New(s, engine, "", nil); err == nil {
		t.Error("empty root accepted")
	}
	d, err := New(s, engine, root, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if d.config == nil {
		t.Error("default config not applied")
	}
}

// TestDaemonSyncsExternalEdit starts the daemon, edits a mirrored file
// behind its back, and waits for the change to land in the database.
func TestDaemonSyncsExternalEdit(t *testing.T) {
	s, m, engine, root := setupDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doc, err := s.Create(ctx, &store.DocumentReference{
		EntityType: "project",
		EntityID:   "proj-1",
		FilePath:   "docs/planning/requirements/spec.md",
		Title:      "Spec",
	}, strptr("original\n"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := engine.SyncDBToFile(ctx, doc.ID); err != nil {
		t.Fatalf("SyncDBToFile failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.DebounceInterval = 20 * time.Millisecond
	cfg.Logger = log.New(os.Stderr, "[daemon-test] ", 0)

	d, err := New(s, engine, root, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not shut down")
		}
	})

	// The file mtime must land after last_synced_at for the edit to count
	// as a file-side change.
	time.Sleep(100 * time.Millisecond)
	if err := m.Write(doc.FilePath, "original\nedited externally\n"); err != nil {
		t.Fatalf("external edit failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.Get(ctx, doc.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Content != nil && *got.Content == "original\nedited externally\n" &&
			got.SyncStatus == store.StatusSynced {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("external edit never reached the database")
}

// TestDaemonIgnoresUntrackedFiles: markdown files without a document row are
// left alone.
func TestDaemonIgnoresUntrackedFiles(t *testing.T) {
	s, m, engine, root := setupDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := DefaultConfig()
	cfg.DebounceInterval = 20 * time.Millisecond
	cfg.Logger = log.New(os.Stderr, "[daemon-test] ", 0)

	d, err := New(s, engine, root, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	if err := m.Write("docs/guides/howto/untracked.md", "nobody owns this\n"); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	docs, err := s.List(ctx, store.ListFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("untracked file created %d document rows", len(docs))
	}
}

func strptr(s string) *string { return &s }
