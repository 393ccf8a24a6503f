// Package migrate onboards a legacy file-only corpus into hybrid storage.
//
// Plan is the dry-run: a read-only scan of FILE_ONLY documents computing
// prospective hashes and sizes without touching the database. Execute runs
// the plan inside one outer transaction so an ERROR-policy abort rolls the
// whole run back. File reads and hashing fan out across a bounded worker
// pool; database writes happen sequentially inside the transaction.
package migrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docvault/docvault/internal/hashutil"
	"github.com/docvault/docvault/internal/mdmeta"
	"github.com/docvault/docvault/internal/mirror"
	"github.com/docvault/docvault/internal/store"
)

// MissingFilePolicy decides how Execute treats a plan item whose backing
// file is gone.
type MissingFilePolicy string

const (
	// Skip records the document as skipped and continues.
	Skip MissingFilePolicy = "SKIP"
	// Abort rolls back the entire run on the first missing file.
	Abort MissingFilePolicy = "ERROR"
	// Continue is Skip under a name that reads better in configs that
	// default to aborting.
	Continue MissingFilePolicy = "CONTINUE"
)

func (p MissingFilePolicy) Valid() bool {
	switch p {
	case Skip, Abort, Continue:
		return true
	}
	return false
}

// Options configures one Execute run.
type Options struct {
	MissingFile MissingFilePolicy
	// Verify re-reads stored content right after each write and re-hashes.
	// A mismatch is corruption: the item fails, or the run aborts under
	// the ERROR policy.
	Verify bool
	// Workers bounds parallel file reads. Zero means a default.
	Workers int
}

// DefaultOptions skips missing files and verifies every write.
func DefaultOptions() Options {
	return Options{MissingFile: Skip, Verify: true}
}

const defaultWorkers = 8

// AbortError reports that Execute rolled back the whole run.
type AbortError struct {
	Cause error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("migration aborted, all changes rolled back: %v", e.Cause)
}

func (e *AbortError) Unwrap() error { return e.Cause }

// Scope narrows a migration run. Zero values cover the whole corpus.
type Scope struct {
	EntityType string
	EntityID   string
	Category   string
}

// PlanItem is one legacy document the run would migrate.
type PlanItem struct {
	DocumentID      int64  `json:"document_id"`
	FilePath        string `json:"file_path"`
	Title           string `json:"title"`
	FileExists      bool   `json:"file_exists"`
	FileSize        int64  `json:"file_size"`
	HashBefore      string `json:"hash_before,omitempty"`
	ProspectiveHash string `json:"prospective_hash,omitempty"`
}

// Plan is the read-only result of a dry-run scan.
type Plan struct {
	Scope        Scope      `json:"scope"`
	Items        []PlanItem `json:"items"`
	TotalBytes   int64      `json:"total_bytes"`
	MissingFiles int        `json:"missing_files"`
}

// Outcome is the per-document result of an Execute run.
type Outcome struct {
	DocumentID int64                 `json:"document_id"`
	FilePath   string                `json:"file_path"`
	Status     store.MigrationStatus `json:"status"`
	Reason     string                `json:"reason,omitempty"`
	Bytes      int64                 `json:"bytes"`
}

// Report aggregates an Execute run.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Migrated   int           `json:"migrated"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	TotalBytes int64         `json:"total_bytes"`
	Outcomes   []Outcome     `json:"outcomes"`
}

// JSON renders the report as structured data for export.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Runner executes migration plans against one store and mirror.
type Runner struct {
	store  *store.Store
	mirror *mirror.Mirror
	logger *log.Logger
	now    func() time.Time
}

// New creates a migration runner. If logger is nil, a default logger writing
// to stderr is used.
func New(st *store.Store, m *mirror.Mirror, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}
	return &Runner{store: st, mirror: m, logger: logger, now: time.Now}
}

// SetClock overrides the runner's time source for tests.
func (r *Runner) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Plan scans the FILE_ONLY documents in scope and computes what Execute
// would do. Nothing is mutated; this is the whole of dry-run mode.
func (r *Runner) Plan(ctx context.Context, scope Scope) (*Plan, error) {
	docs, err := r.store.List(ctx, store.ListFilter{
		EntityType:  scope.EntityType,
		EntityID:    scope.EntityID,
		Category:    scope.Category,
		StorageMode: store.ModeFileOnly,
	})
	if err != nil {
		return nil, err
	}

	plan := &Plan{Scope: scope, Items: make([]PlanItem, len(docs))}

	g := new(errgroup.Group)
	g.SetLimit(defaultWorkers)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			item := PlanItem{
				DocumentID: doc.ID,
				FilePath:   doc.FilePath,
				Title:      doc.Title,
				HashBefore: doc.ContentHash,
			}
			content, _, size, err := r.mirror.Read(doc.FilePath)
			switch {
			case mirror.IsNotFound(err):
				// Recorded here, decided at execute time by policy.
			case err != nil:
				return err
			default:
				item.FileExists = true
				item.FileSize = size
				item.ProspectiveHash = hashutil.Hash(content)
			}
			plan.Items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, item := range plan.Items {
		if item.FileExists {
			plan.TotalBytes += item.FileSize
		} else {
			plan.MissingFiles++
		}
	}
	return plan, nil
}

// readResult pairs a plan item with its file content read at execute time.
type readResult struct {
	content string
	missing bool
	err     error
}

// Execute migrates every plan item inside one transaction.
//
// Files are re-read at execute time (the plan may be stale). Under the
// ERROR missing-file policy any missing file, read failure, or verification
// mismatch rolls back the entire run and returns AbortError; otherwise
// failures are recorded per document and the run continues.
func (r *Runner) Execute(ctx context.Context, plan *Plan, opts Options) (*Report, error) {
	if !opts.MissingFile.Valid() {
		return nil, fmt.Errorf("unknown missing-file policy %q", opts.MissingFile)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	started := r.now()
	report := &Report{RunID: uuid.NewString(), StartedAt: started.UTC()}

	// Phase 1: parallel reads, no database effects yet.
	reads := make([]readResult, len(plan.Items))
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, item := range plan.Items {
		i, item := i, item
		g.Go(func() error {
			content, _, _, err := r.mirror.Read(item.FilePath)
			switch {
			case mirror.IsNotFound(err):
				reads[i] = readResult{missing: true}
			case err != nil:
				reads[i] = readResult{err: err}
			default:
				reads[i] = readResult{content: content}
			}
			return nil
		})
	}
	_ = g.Wait()

	// Phase 2: one transaction, sequential writes.
	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for i, item := range plan.Items {
		if ctx.Err() != nil {
			return nil, &AbortError{Cause: ctx.Err()}
		}

		read := reads[i]
		switch {
		case read.missing:
			if opts.MissingFile == Abort {
				return nil, &AbortError{Cause: fmt.Errorf("file not found: %s", item.FilePath)}
			}
			r.recordOutcome(ctx, tx, report, item, store.MigrationSkipped, "skipped: file not found", 0, "")

		case read.err != nil:
			if opts.MissingFile == Abort {
				return nil, &AbortError{Cause: read.err}
			}
			r.recordOutcome(ctx, tx, report, item, store.MigrationFailed, read.err.Error(), 0, "")

		default:
			if err := r.migrateOne(ctx, tx, report, item, read.content, opts); err != nil {
				return nil, &AbortError{Cause: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit migration run: %w", err)
	}

	report.Duration = r.now().Sub(started)
	r.logger.Printf("migration run %s: migrated=%d skipped=%d failed=%d bytes=%d in %s",
		report.RunID, report.Migrated, report.Skipped, report.Failed, report.TotalBytes, report.Duration)
	return report, nil
}

// migrateOne writes one document's content inside tx. A returned error means
// the whole run must abort; per-item failures are recorded and swallowed.
func (r *Runner) migrateOne(ctx context.Context, tx *sql.Tx, report *Report, item PlanItem, content string, opts Options) error {
	// Fill the title first so the FTS upsert below indexes it.
	if item.Title == "" {
		title := extractTitle(content)
		if title == "" {
			title = titleFromFilename(item.FilePath)
		}
		if title != "" {
			if err := r.store.SetTitleTx(ctx, tx, item.DocumentID, title); err != nil {
				return err
			}
		}
	}

	hash, err := r.store.MigrateContentTx(ctx, tx, item.DocumentID, content, r.now())
	if err != nil {
		return err
	}

	if opts.Verify {
		stored, err := r.store.GetContentTx(ctx, tx, item.DocumentID)
		if err != nil {
			return err
		}
		if got := hashutil.Hash(stored); got != hash {
			mismatch := &store.HashMismatchError{Expected: hash, Actual: got}
			if opts.MissingFile == Abort {
				return mismatch
			}
			r.recordOutcome(ctx, tx, report, item, store.MigrationFailed, mismatch.Error(), 0, "")
			return nil
		}
	}

	r.recordOutcome(ctx, tx, report, item, store.MigrationMigrated, "", int64(len(content)), hash)
	return nil
}

func (r *Runner) recordOutcome(ctx context.Context, tx *sql.Tx, report *Report, item PlanItem, status store.MigrationStatus, reason string, bytes int64, hash string) {
	rec := &store.MigrationRecord{
		RunID:               report.RunID,
		DocumentReferenceID: item.DocumentID,
		SourcePath:          item.FilePath,
		HashBefore:          item.HashBefore,
		HashAfter:           hash,
		Status:              status,
		Reason:              reason,
		ContentBytes:        bytes,
	}
	if err := r.store.AddMigrationRecordTx(ctx, tx, rec); err != nil {
		// The audit row failing is not worth failing the document over.
		r.logger.Printf("WARNING: failed to record migration outcome for %s: %v", item.FilePath, err)
	}

	report.Outcomes = append(report.Outcomes, Outcome{
		DocumentID: item.DocumentID,
		FilePath:   item.FilePath,
		Status:     status,
		Reason:     reason,
		Bytes:      bytes,
	})
	switch status {
	case store.MigrationMigrated:
		report.Migrated++
		report.TotalBytes += bytes
	case store.MigrationSkipped:
		report.Skipped++
	case store.MigrationFailed:
		report.Failed++
	}
}

// titleFromFilename derives a readable title from the file's base name when
// the content itself offers none.
func titleFromFilename(rel string) string {
	base := strings.TrimSuffix(path.Base(rel), ".md")
	base = strings.ReplaceAll(base, "-", " ")
	base = strings.ReplaceAll(base, "_", " ")
	return strings.TrimSpace(base)
}

// extractTitle prefers front matter, then the first markdown heading.
func extractTitle(content string) string {
	if fm, body, err := mdmeta.ParseFrontMatter(content); err == nil {
		if fm != nil && fm.Title != "" {
			return fm.Title
		}
		return mdmeta.ExtractTitle(body)
	}
	return mdmeta.ExtractTitle(content)
}
