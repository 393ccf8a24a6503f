package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/docvault/docvault/internal/hashutil"
	"github.com/docvault/docvault/internal/mirror"
	"github.com/docvault/docvault/internal/store"
)

func setupRunner(t *testing.T) (*store.Store, *mirror.Mirror, *Runner) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	m := mirror.New(t.TempDir())
	s.AttachMirror(m)

	return s, m, New(s, m, log.New(os.Stderr, "[test] ", 0))
}

// addLegacy creates a FILE_ONLY document row; when content is non-empty the
// backing file is written too.
func addLegacy(t *testing.T, s *store.Store, m *mirror.Mirror, path, content string) *store.DocumentReference {
	t.Helper()
	doc, err := s.Create(context.Background(), &store.DocumentReference{
		EntityType:  "project",
		EntityID:    "proj-1",
		FilePath:    path,
		StorageMode: store.ModeFileOnly,
	}, nil)
	if err != nil {
		t.Fatalf("failed to create legacy document: %v", err)
	}
	if content != "" {
		if err := m.Write(path, content); err != nil {
			t.Fatalf("failed to write legacy file: %v", err)
		}
	}
	return doc
}

func TestPlanIsReadOnly(t *testing.T) {
	s, m, r := setupRunner(t)
	ctx := context.Background()

	content := "# Legacy\n\nBody text.\n"
	doc := addLegacy(t, s, m, "docs/guides/howto/legacy.md", content)
	addLegacy(t, s, m, "docs/guides/howto/gone.md", "")

	plan, err := r.Plan(ctx, Scope{})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(plan.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(plan.Items))
	}
	if plan.MissingFiles != 1 {
		t.Errorf("missing = %d, want 1", plan.MissingFiles)
	}
	if plan.TotalBytes != int64(len(content)) {
		t.Errorf("total bytes = %d, want %d", plan.TotalBytes, len(content))
	}

	var found bool
	for _, item := range plan.Items {
		if item.DocumentID == doc.ID {
			found = true
			if !item.FileExists || item.ProspectiveHash != hashutil.Hash(content) {
				t.Errorf("item not hashed: %+v", item)
			}
		}
	}
	if !found {
		t.Error("legacy document not in plan")
	}

	// Dry run: nothing changed.
	got, err := s.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.StorageMode != store.ModeFileOnly || got.Content != nil {
		t.Errorf("plan mutated the document: %+v", got)
	}
}

func TestPlanScopesByCategory(t *testing.T) {
	s, m, r := setupRunner(t)

	addLegacy(t, s, m, "docs/guides/howto/a.md", "a")
	addLegacy(t, s, m, "docs/planning/requirements/b.md", "b")

	plan, err := r.Plan(context.Background(), Scope{Category: "guides"})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(plan.Items) != 1 || plan.Items[0].FilePath != "docs/guides/howto/a.md" {
		t.Errorf("scope not applied: %+v", plan.Items)
	}
}

func TestExecuteMigrates(t *testing.T) {
	s, m, r := setupRunner(t)
	ctx := context.Background()

	content := "# Onboarding Guide\n\nSteps.\n"
	doc := addLegacy(t, s, m, "docs/guides/howto/onboard.md", content)

	plan, err := r.Plan(ctx, Scope{})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	report, err := r.Execute(ctx, plan, DefaultOptions())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if report.Migrated != 1 || report.Skipped != 0 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	if report.TotalBytes != int64(len(content)) {
		t.Errorf("bytes = %d, want %d", report.TotalBytes, len(content))
	}
	if report.RunID == "" {
		t.Error("run id missing")
	}

	got, _ := s.Get(ctx, doc.ID)
	if got.StorageMode != store.ModeHybrid {
		t.Errorf("mode = %s, want HYBRID", got.StorageMode)
	}
	if got.SyncStatus != store.StatusSynced {
		t.Errorf("status = %s, want SYNCED", got.SyncStatus)
	}
	if got.Content == nil || *got.Content != content {
		t.Error("content not onboarded byte-identical")
	}
	if got.ContentHash != hashutil.Hash(content) {
		t.Error("hash not recorded")
	}
	if got.Title != "Onboarding Guide" {
		t.Errorf("title = %q, want first heading", got.Title)
	}

	records, err := s.ListMigrationRecords(ctx, report.RunID)
	if err != nil {
		t.Fatalf("ListMigrationRecords failed: %v", err)
	}
	if len(records) != 1 || records[0].Status != store.MigrationMigrated {
		t.Errorf("records = %+v", records)
	}
}

func TestFrontMatterTitleWins(t *testing.T) {
	s, m, r := setupRunner(t)
	ctx := context.Background()

	content := "---\ntitle: Curated Title\n---\n# Heading Title\n\nBody.\n"
	doc := addLegacy(t, s, m, "docs/guides/howto/fm.md", content)

	plan, _ := r.Plan(ctx, Scope{})
	if _, err := r.Execute(ctx, plan, DefaultOptions()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	got, _ := s.Get(ctx, doc.ID)
	if got.Title != "Curated Title" {
		t.Errorf("title = %q, want front matter title", got.Title)
	}
}

func TestFilenameFallbackTitle(t *testing.T) {
	s, m, r := setupRunner(t)
	ctx := context.Background()

	doc := addLegacy(t, s, m, "docs/guides/howto/setup-notes.md", "plain text, no heading at all\n")

	plan, _ := r.Plan(ctx, Scope{})
	if _, err := r.Execute(ctx, plan, DefaultOptions()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	got, _ := s.Get(ctx, doc.ID)
	if got.Title != "setup notes" {
		t.Errorf("title = %q, want filename-derived fallback", got.Title)
	}
}

// TestMigrationRecordsHashes: the audit row keeps the document's hash from
// before the run next to the hash written, so re-onboarding divergent rows
// stays traceable.
func TestMigrationRecordsHashes(t *testing.T) {
	s, m, r := setupRunner(t)
	ctx := context.Background()

	// A row onboarded once before whose file moved on since.
	stale := "old body\n"
	doc, err := s.Create(ctx, &store.DocumentReference{
		EntityType:  "project",
		EntityID:    "proj-1",
		FilePath:    "docs/guides/howto/stale.md",
		StorageMode: store.ModeFileOnly,
	}, &stale)
	if err != nil {
		t.Fatalf("failed to create document: %v", err)
	}
	fresh := "new body\n"
	if err := m.Write(doc.FilePath, fresh); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	// And a never-onboarded row with no prior hash.
	addLegacy(t, s, m, "docs/guides/howto/virgin.md", "# Virgin\n\nBody.\n")

	plan, err := r.Plan(ctx, Scope{})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	report, err := r.Execute(ctx, plan, DefaultOptions())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	recs, err := s.ListMigrationRecords(ctx, report.RunID)
	if err != nil {
		t.Fatalf("ListMigrationRecords failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	for _, rec := range recs {
		switch rec.SourcePath {
		case "docs/guides/howto/stale.md":
			if rec.HashBefore != hashutil.Hash(stale) {
				t.Errorf("hash_before = %q, want the pre-run content hash", rec.HashBefore)
			}
			if rec.HashAfter != hashutil.Hash(fresh) {
				t.Errorf("hash_after = %q, want the migrated content hash", rec.HashAfter)
			}
		case "docs/guides/howto/virgin.md":
			if rec.HashBefore != "" {
				t.Errorf("hash_before = %q, want empty for a never-onboarded row", rec.HashBefore)
			}
			if rec.HashAfter == "" {
				t.Error("hash_after not recorded")
			}
		}
	}
}

// TestScenarioD: a legacy document with a missing backing file under SKIP is
// reported "skipped: file not found" and its row stays FILE_ONLY, unchanged.
func TestScenarioD(t *testing.T) {
	s, m, r := setupRunner(t)
	ctx := context.Background()

	doc := addLegacy(t, s, m, "docs/guides/howto/gone.md", "")

	plan, err := r.Plan(ctx, Scope{})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	report, err := r.Execute(ctx, plan, DefaultOptions())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if report.Skipped != 1 || report.Migrated != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Reason != "skipped: file not found" {
		t.Errorf("outcomes = %+v", report.Outcomes)
	}

	got, _ := s.Get(ctx, doc.ID)
	if got.StorageMode != store.ModeFileOnly || got.Content != nil {
		t.Errorf("skipped document changed: %+v", got)
	}
}

// TestErrorPolicyRollsBack: under ERROR any missing file aborts the run and
// the datastore is row-for-row identical to its pre-call state.
func TestErrorPolicyRollsBack(t *testing.T) {
	s, m, r := setupRunner(t)
	ctx := context.Background()

	good := addLegacy(t, s, m, "docs/guides/howto/good.md", "good content")
	addLegacy(t, s, m, "docs/guides/howto/missing.md", "")

	before, _ := s.Get(ctx, good.ID)
	countBefore, _ := s.CountDocuments(ctx)

	plan, err := r.Plan(ctx, Scope{})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	opts := DefaultOptions()
	opts.MissingFile = Abort

	_, err = r.Execute(ctx, plan, opts)
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("expected AbortError, got %v", err)
	}

	// Even documents processed before the abort are rolled back.
	after, _ := s.Get(ctx, good.ID)
	if after.StorageMode != store.ModeFileOnly || after.Content != nil {
		t.Errorf("rollback incomplete: %+v", after)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("updated_at changed despite rollback")
	}
	countAfter, _ := s.CountDocuments(ctx)
	if countAfter != countBefore {
		t.Errorf("row count changed: %d -> %d", countBefore, countAfter)
	}
}

func TestContinuePolicyIsolatesFailures(t *testing.T) {
	s, m, r := setupRunner(t)
	ctx := context.Background()

	ok := addLegacy(t, s, m, "docs/guides/howto/ok.md", "fine")
	addLegacy(t, s, m, "docs/guides/howto/gone.md", "")

	plan, _ := r.Plan(ctx, Scope{})
	opts := DefaultOptions()
	opts.MissingFile = Continue

	report, err := r.Execute(ctx, plan, opts)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Migrated != 1 || report.Skipped != 1 {
		t.Errorf("report = %+v", report)
	}

	got, _ := s.Get(ctx, ok.ID)
	if got.StorageMode != store.ModeHybrid {
		t.Error("good document not migrated past the missing one")
	}
}

func TestExecuteRejectsBadPolicy(t *testing.T) {
	s, m, r := setupRunner(t)
	addLegacy(t, s, m, "docs/guides/howto/a.md", "x")

	plan, _ := r.Plan(context.Background(), Scope{})
	if _, err := r.Execute(context.Background(), plan, Options{MissingFile: "BOGUS"}); err == nil {
		t.Error("bad policy accepted")
	}
}

func TestReportJSON(t *testing.T) {
	s, m, r := setupRunner(t)

	for i := 0; i < 3; i++ {
		addLegacy(t, s, m, fmt.Sprintf("docs/guides/howto/doc%d.md", i), fmt.Sprintf("content %d", i))
	}

	plan, _ := r.Plan(context.Background(), Scope{})
	report, err := r.Execute(context.Background(), plan, DefaultOptions())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	data, err := report.JSON()
	if err != nil {
		t.Fatalf("JSON export failed: %v", err)
	}
	var decoded Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report does not round-trip: %v", err)
	}
	if decoded.Migrated != 3 || len(decoded.Outcomes) != 3 {
		t.Errorf("decoded report = %+v", decoded)
	}
}
