// Package syncer reconciles the database and filesystem copies of documents.
//
// SmartSync is a re-entrant state machine over sync_status: each call
// re-evaluates from the current disk and database state and ends in one of
// SYNCED, DB_AHEAD, FILE_AHEAD, CONFLICT, MISSING_FILE, or MISSING_DB.
// Conflicts (both sides changed since last_synced_at with divergent hashes)
// are resolved per strategy, and every detection writes a SyncConflict
// audit row whether or not it is auto-resolved.
//
// Operations on the same document are serialized by a per-document lock
// with a bounded wait; batch operations fan out over independent documents
// through a bounded worker pool.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docvault/docvault/internal/hashutil"
	"github.com/docvault/docvault/internal/mirror"
	"github.com/docvault/docvault/internal/store"
)

// Strategy selects how a detected conflict is resolved.
type Strategy string

const (
	// DBWins overwrites the file with the database content.
	DBWins Strategy = "DB_WINS"
	// FileWins overwrites the database content with the file.
	FileWins Strategy = "FILE_WINS"
	// NewestWins picks whichever side was modified later.
	NewestWins Strategy = "NEWEST_WINS"
	// Manual records the conflict and changes no data.
	Manual Strategy = "MANUAL"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case DBWins, FileWins, NewestWins, Manual:
		return true
	}
	return false
}

// MissingFilePolicy decides what to do when the DB has content but the
// mirrored file is gone.
type MissingFilePolicy string

const (
	// MissingFileSkip marks the document MISSING_FILE and moves on.
	MissingFileSkip MissingFilePolicy = "SKIP"
	// MissingFileRecreate rewrites the file from database content.
	MissingFileRecreate MissingFilePolicy = "RECREATE"
	// MissingFileDeleteDB deletes the document reference.
	MissingFileDeleteDB MissingFilePolicy = "DELETE_DB"
)

func (p MissingFilePolicy) Valid() bool {
	switch p {
	case MissingFileSkip, MissingFileRecreate, MissingFileDeleteDB:
		return true
	}
	return false
}

// MissingDBPolicy decides what to do when a file exists but the DB carries
// no content.
type MissingDBPolicy string

const (
	// MissingDBIgnore leaves the document file-only.
	MissingDBIgnore MissingDBPolicy = "IGNORE"
	// MissingDBCreate onboards the file content into the database.
	MissingDBCreate MissingDBPolicy = "CREATE"
	// MissingDBDeleteFile removes the orphaned file.
	MissingDBDeleteFile MissingDBPolicy = "DELETE_FILE"
)

func (p MissingDBPolicy) Valid() bool {
	switch p {
	case MissingDBIgnore, MissingDBCreate, MissingDBDeleteFile:
		return true
	}
	return false
}

// Options configures one smart sync pass.
type Options struct {
	Strategy         Strategy
	MissingFile      MissingFilePolicy
	MissingDB        MissingDBPolicy
	BackupOnConflict bool
}

// DefaultOptions is a conservative configuration: conflicts wait for a
// human, missing sides are recorded but left alone.
func DefaultOptions() Options {
	return Options{
		Strategy:    Manual,
		MissingFile: MissingFileSkip,
		MissingDB:   MissingDBIgnore,
	}
}

func (o Options) validate() error {
	if !o.Strategy.Valid() {
		return fmt.Errorf("unknown conflict strategy %q", o.Strategy)
	}
	if !o.MissingFile.Valid() {
		return fmt.Errorf("unknown missing-file policy %q", o.MissingFile)
	}
	if !o.MissingDB.Valid() {
		return fmt.Errorf("unknown missing-db policy %q", o.MissingDB)
	}
	return nil
}

// ErrLockTimeout is returned when the per-document lock cannot be acquired
// within the bounded wait. The operation is safe to retry.
var ErrLockTimeout = errors.New("timed out waiting for document lock")

// ErrConflictUnresolved is returned by directional syncs on a document with
// a pending MANUAL conflict; the conflict must be resolved first.
var ErrConflictUnresolved = errors.New("document has an unresolved conflict")

// Outcome classifies a per-document sync result.
type Outcome string

const (
	OutcomeSynced   Outcome = "synced"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeConflict Outcome = "conflict"
	OutcomeError    Outcome = "error"
)

// Result is the per-document outcome of a sync pass.
type Result struct {
	DocumentID int64
	FilePath   string
	Outcome    Outcome
	Status     store.SyncStatus
	Detail     string
	BackupPath string
}

// Config tunes the engine. Zero values get sane defaults.
type Config struct {
	// LockWait bounds how long a sync waits for a document lock before
	// failing with ErrLockTimeout.
	LockWait time.Duration
	// Workers bounds batch parallelism across independent documents.
	Workers int
}

const (
	defaultLockWait = 2 * time.Second
	defaultWorkers  = 8
)

// Engine orchestrates DB→file, file→DB, and smart bidirectional sync.
type Engine struct {
	store  *store.Store
	mirror *mirror.Mirror
	logger *log.Logger
	locks  *lockTable
	cfg    Config
	now    func() time.Time
}

// New creates a sync engine. If logger is nil, a default logger writing to
// stderr is used.
func New(st *store.Store, m *mirror.Mirror, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Engine{
		store:  st,
		mirror: m,
		logger: logger,
		locks:  newLockTable(),
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetClock overrides the engine's time source for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// SyncDBToFile writes the database content of a document to its mirrored
// file and marks it SYNCED. Requires database content and a storage mode
// that mirrors files; refuses documents with a pending conflict.
func (e *Engine) SyncDBToFile(ctx context.Context, docID int64) error {
	release, err := e.locks.acquire(ctx, docID, e.cfg.LockWait)
	if err != nil {
		return err
	}
	defer release()

	doc, err := e.store.Get(ctx, docID)
	if err != nil {
		return err
	}
	if doc.SyncStatus == store.StatusConflict {
		return fmt.Errorf("document %d: %w", docID, ErrConflictUnresolved)
	}
	return e.writeDBToFile(ctx, doc)
}

// writeDBToFile is the unguarded DB→file sync used both directly and as a
// conflict resolution step. Caller holds the document lock.
func (e *Engine) writeDBToFile(ctx context.Context, doc *store.DocumentReference) error {
	if doc.StorageMode == store.ModeFileOnly || !doc.StorageMode.MirrorsFile() {
		return &store.UnsupportedOperationError{Op: "sync_db_to_file", Mode: doc.StorageMode}
	}
	if doc.Content == nil {
		return fmt.Errorf("document %d has no database content to write", doc.ID)
	}

	if err := e.mirror.Write(doc.FilePath, *doc.Content); err != nil {
		return err
	}

	now := e.now().UTC()
	if err := e.store.UpdateSyncState(ctx, doc.ID, store.StatusSynced, &now); err != nil {
		return err
	}

	e.logger.Printf("db->file: %s (%d bytes)", doc.FilePath, doc.ContentSizeBytes)
	return nil
}

// SyncFileToDB reads the mirrored file and adopts it as the database
// content when it differs, marking the document SYNCED. Refuses documents
// with a pending conflict.
func (e *Engine) SyncFileToDB(ctx context.Context, docID int64) error {
	release, err := e.locks.acquire(ctx, docID, e.cfg.LockWait)
	if err != nil {
		return err
	}
	defer release()

	doc, err := e.store.Get(ctx, docID)
	if err != nil {
		return err
	}
	if doc.SyncStatus == store.StatusConflict {
		return fmt.Errorf("document %d: %w", docID, ErrConflictUnresolved)
	}
	return e.readFileToDB(ctx, doc)
}

// readFileToDB is the unguarded file→DB sync. Caller holds the document lock.
func (e *Engine) readFileToDB(ctx context.Context, doc *store.DocumentReference) error {
	content, _, _, err := e.mirror.Read(doc.FilePath)
	if err != nil {
		return err
	}

	now := e.now().UTC()
	if hashutil.Hash(content) == doc.ContentHash && doc.Content != nil {
		// Same bytes: only the status needs recording.
		return e.store.UpdateSyncState(ctx, doc.ID, store.StatusSynced, &now)
	}

	if err := e.store.ApplyFileContent(ctx, doc.ID, content, now); err != nil {
		return err
	}

	e.logger.Printf("file->db: %s (%d bytes)", doc.FilePath, len(content))
	return nil
}

// SmartSync reconciles one document through the full decision table.
//
// The returned Result describes what happened; a non-nil error means the
// pass itself failed (I/O, lock timeout), not that a conflict was found.
// MANUAL conflicts come back as a normal Result with OutcomeConflict.
func (e *Engine) SmartSync(ctx context.Context, docID int64, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	release, err := e.locks.acquire(ctx, docID, e.cfg.LockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := e.store.Get(ctx, docID)
	if err != nil {
		return nil, err
	}

	res := &Result{DocumentID: doc.ID, FilePath: doc.FilePath}

	// DATABASE_ONLY documents have no file side to reconcile; treating them
	// as missing-file would let RECREATE write a mirror the mode forbids.
	if !doc.StorageMode.MirrorsFile() {
		res.Outcome = OutcomeSkipped
		res.Status = doc.SyncStatus
		res.Detail = "storage mode keeps no file mirror"
		return res, nil
	}

	fileExists := e.mirror.Exists(doc.FilePath)
	dbHasContent := doc.Content != nil && doc.StorageMode.HoldsContent()

	switch {
	case !fileExists && dbHasContent:
		return e.handleMissingFile(ctx, doc, opts, res)
	case fileExists && !dbHasContent:
		return e.handleMissingDB(ctx, doc, opts, res)
	case !fileExists && !dbHasContent:
		// Nothing to reconcile on either side.
		if err := e.store.UpdateSyncState(ctx, doc.ID, store.StatusMissingFile, nil); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeSkipped
		res.Status = store.StatusMissingFile
		res.Detail = "no content on either side"
		return res, nil
	}

	return e.reconcile(ctx, doc, opts, res)
}

// Check classifies a document against the decision table without changing
// data on either side. The returned status is what a sync pass would start
// from: SYNCED, DB_AHEAD, FILE_AHEAD, CONFLICT, MISSING_FILE, or MISSING_DB.
func (e *Engine) Check(ctx context.Context, docID int64) (store.SyncStatus, error) {
	doc, err := e.store.Get(ctx, docID)
	if err != nil {
		return "", err
	}
	if !doc.StorageMode.MirrorsFile() {
		return doc.SyncStatus, nil
	}

	fileExists := e.mirror.Exists(doc.FilePath)
	dbHasContent := doc.Content != nil && doc.StorageMode.HoldsContent()

	switch {
	case !fileExists:
		return store.StatusMissingFile, nil
	case !dbHasContent:
		return store.StatusMissingDB, nil
	}

	fileContent, fileMtime, _, err := e.mirror.Read(doc.FilePath)
	if err != nil {
		return "", err
	}
	if hashutil.Hash(fileContent) == doc.ContentHash {
		return store.StatusSynced, nil
	}

	dbChanged, fileChanged := sidesChanged(doc, fileMtime)
	switch {
	case dbChanged && !fileChanged:
		return store.StatusDBAhead, nil
	case fileChanged && !dbChanged:
		return store.StatusFileAhead, nil
	}
	return store.StatusConflict, nil
}

func (e *Engine) handleMissingFile(ctx context.Context, doc *store.DocumentReference, opts Options, res *Result) (*Result, error) {
	switch opts.MissingFile {
	case MissingFileSkip:
		if doc.SyncStatus != store.StatusMissingFile {
			if err := e.store.UpdateSyncState(ctx, doc.ID, store.StatusMissingFile, nil); err != nil {
				return nil, err
			}
		}
		res.Outcome = OutcomeSkipped
		res.Status = store.StatusMissingFile
		res.Detail = "file missing, skipped"
		return res, nil

	case MissingFileRecreate:
		if err := e.writeDBToFile(ctx, doc); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeSynced
		res.Status = store.StatusSynced
		res.Detail = "file recreated from database"
		return res, nil

	case MissingFileDeleteDB:
		if err := e.store.Delete(ctx, doc.ID); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeSynced
		res.Status = store.StatusMissingFile
		res.Detail = "document reference deleted"
		return res, nil
	}
	return nil, fmt.Errorf("unknown missing-file policy %q", opts.MissingFile)
}

func (e *Engine) handleMissingDB(ctx context.Context, doc *store.DocumentReference, opts Options, res *Result) (*Result, error) {
	switch opts.MissingDB {
	case MissingDBIgnore:
		if doc.SyncStatus != store.StatusMissingDB {
			if err := e.store.UpdateSyncState(ctx, doc.ID, store.StatusMissingDB, nil); err != nil {
				return nil, err
			}
		}
		res.Outcome = OutcomeSkipped
		res.Status = store.StatusMissingDB
		res.Detail = "no database content, left file-only"
		return res, nil

	case MissingDBCreate:
		if err := e.readFileToDB(ctx, doc); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeSynced
		res.Status = store.StatusSynced
		res.Detail = "database content created from file"
		return res, nil

	case MissingDBDeleteFile:
		if err := e.mirror.Remove(doc.FilePath); err != nil {
			return nil, err
		}
		if err := e.store.UpdateSyncState(ctx, doc.ID, store.StatusMissingFile, nil); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeSynced
		res.Status = store.StatusMissingFile
		res.Detail = "orphaned file deleted"
		return res, nil
	}
	return nil, fmt.Errorf("unknown missing-db policy %q", opts.MissingDB)
}

// reconcile handles the both-sides-present cases: rules 3-6 of the decision
// table.
func (e *Engine) reconcile(ctx context.Context, doc *store.DocumentReference, opts Options, res *Result) (*Result, error) {
	fileContent, fileMtime, _, err := e.mirror.Read(doc.FilePath)
	if err != nil {
		return nil, err
	}
	fileHash := hashutil.Hash(fileContent)

	// Rule 3: identical content is an idempotent no-op.
	if fileHash == doc.ContentHash {
		res.Outcome = OutcomeSynced
		res.Status = store.StatusSynced
		res.Detail = "already in sync"
		if doc.SyncStatus != store.StatusSynced {
			now := e.now().UTC()
			if err := e.store.UpdateSyncState(ctx, doc.ID, store.StatusSynced, &now); err != nil {
				return nil, err
			}
		}
		return res, nil
	}

	dbChanged, fileChanged := sidesChanged(doc, fileMtime)

	switch {
	// Rule 4: only the database moved.
	case dbChanged && !fileChanged:
		if err := e.writeDBToFile(ctx, doc); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeSynced
		res.Status = store.StatusSynced
		res.Detail = "database side newer, file updated"
		return res, nil

	// Rule 5: only the file moved.
	case fileChanged && !dbChanged:
		if err := e.readFileToDB(ctx, doc); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeSynced
		res.Status = store.StatusSynced
		res.Detail = "file side newer, database updated"
		return res, nil
	}

	// Rule 6: both sides changed (or neither timestamp moved while hashes
	// diverge, which is treated just as conservatively).
	return e.resolveConflict(ctx, doc, fileContent, fileHash, fileMtime, opts, res)
}

// sidesChanged reports which sides moved since the last successful sync.
// A document that has never synced counts as changed on both sides.
func sidesChanged(doc *store.DocumentReference, fileMtime time.Time) (dbChanged, fileChanged bool) {
	if doc.LastSyncedAt == nil {
		return true, true
	}
	last := *doc.LastSyncedAt
	if doc.ContentUpdatedAt != nil && doc.ContentUpdatedAt.After(last) {
		dbChanged = true
	}
	if fileMtime.After(last) {
		fileChanged = true
	}
	return dbChanged, fileChanged
}

func (e *Engine) resolveConflict(ctx context.Context, doc *store.DocumentReference, fileContent, fileHash string, fileMtime time.Time, opts Options, res *Result) (*Result, error) {
	now := e.now().UTC()

	conflict := &store.SyncConflict{
		DocumentReferenceID: doc.ID,
		DetectedAt:          now,
		DBHash:              doc.ContentHash,
		FileHash:            fileHash,
		DBModifiedAt:        doc.ContentUpdatedAt,
		FileModifiedAt:      &fileMtime,
		StrategyApplied:     string(opts.Strategy),
	}

	strategy := opts.Strategy
	if strategy == NewestWins {
		if doc.ContentUpdatedAt != nil && doc.ContentUpdatedAt.After(fileMtime) {
			strategy = DBWins
		} else {
			strategy = FileWins
		}
	}

	switch strategy {
	case Manual:
		// Record the conflict and change no data on either side.
		if _, err := e.store.RecordConflict(ctx, conflict); err != nil {
			return nil, err
		}
		if err := e.store.UpdateSyncState(ctx, doc.ID, store.StatusConflict, nil); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeConflict
		res.Status = store.StatusConflict
		res.Detail = "both sides changed, manual resolution required"
		e.logger.Printf("conflict: %s (db %s vs file %s)", doc.FilePath, short(doc.ContentHash), short(fileHash))
		return res, nil

	case DBWins:
		if opts.BackupOnConflict {
			backup, err := e.mirror.Backup(doc.FilePath, now)
			if err != nil {
				return nil, err
			}
			res.BackupPath = backup
		}
		conflict.ResolvedAt = &now
		conflict.Resolution = store.ResolutionDB
		if _, err := e.store.RecordConflict(ctx, conflict); err != nil {
			return nil, err
		}
		if err := e.writeDBToFile(ctx, doc); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeSynced
		res.Status = store.StatusSynced
		res.Detail = "conflict resolved: database wins"
		return res, nil

	case FileWins:
		if opts.BackupOnConflict && doc.Content != nil {
			backup, err := e.mirror.BackupContent(doc.FilePath, *doc.Content, now)
			if err != nil {
				return nil, err
			}
			res.BackupPath = backup
		}
		conflict.ResolvedAt = &now
		conflict.Resolution = store.ResolutionFile
		if _, err := e.store.RecordConflict(ctx, conflict); err != nil {
			return nil, err
		}
		if err := e.readFileToDB(ctx, doc); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeSynced
		res.Status = store.StatusSynced
		res.Detail = "conflict resolved: file wins"
		return res, nil
	}

	return nil, fmt.Errorf("unknown conflict strategy %q", opts.Strategy)
}

// Resolve completes a pending MANUAL conflict by picking a side. The
// winning content is applied with the same primitives as automatic
// resolution and the newest pending conflict row is stamped.
func (e *Engine) Resolve(ctx context.Context, docID int64, resolution store.Resolution) error {
	release, err := e.locks.acquire(ctx, docID, e.cfg.LockWait)
	if err != nil {
		return err
	}
	defer release()

	doc, err := e.store.Get(ctx, docID)
	if err != nil {
		return err
	}
	if doc.SyncStatus != store.StatusConflict {
		return fmt.Errorf("document %d has no pending conflict", docID)
	}

	switch resolution {
	case store.ResolutionDB:
		if err := e.writeDBToFile(ctx, doc); err != nil {
			return err
		}
	case store.ResolutionFile:
		if err := e.readFileToDB(ctx, doc); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}

	conflicts, err := e.store.ListConflicts(ctx, docID)
	if err != nil {
		return err
	}
	for _, c := range conflicts {
		if c.ResolvedAt == nil {
			if err := e.store.ResolveConflict(ctx, c.ID, resolution); err != nil {
				return err
			}
			break
		}
	}

	e.logger.Printf("resolved conflict on %s: %s wins", doc.FilePath, resolution)
	return nil
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
