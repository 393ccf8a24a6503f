package store

import (
	"fmt"
	"time"
)

// StorageMode selects which side of a document is authoritative.
type StorageMode string

const (
	// ModeHybrid keeps content in the database (authoritative) and mirrored
	// on disk.
	ModeHybrid StorageMode = "HYBRID"
	// ModeDatabaseOnly keeps content in the database with no file mirror.
	ModeDatabaseOnly StorageMode = "DATABASE_ONLY"
	// ModeFileOnly keeps content on disk only; the row carries metadata.
	ModeFileOnly StorageMode = "FILE_ONLY"
)

// Valid reports whether m is a known storage mode.
func (m StorageMode) Valid() bool {
	switch m {
	case ModeHybrid, ModeDatabaseOnly, ModeFileOnly:
		return true
	}
	return false
}

// MirrorsFile reports whether documents in this mode have a file copy to
// reconcile.
func (m StorageMode) MirrorsFile() bool {
	return m == ModeHybrid || m == ModeFileOnly
}

// HoldsContent reports whether documents in this mode carry DB content.
func (m StorageMode) HoldsContent() bool {
	return m == ModeHybrid || m == ModeDatabaseOnly
}

// SyncStatus is the derived freshness state comparing the database and
// filesystem copies. It is recomputed by the sync engine, never set by hand.
type SyncStatus string

const (
	StatusSynced      SyncStatus = "SYNCED"
	StatusDBAhead     SyncStatus = "DB_AHEAD"
	StatusFileAhead   SyncStatus = "FILE_AHEAD"
	StatusConflict    SyncStatus = "CONFLICT"
	StatusMissingFile SyncStatus = "MISSING_FILE"
	StatusMissingDB   SyncStatus = "MISSING_DB"
)

// Valid reports whether st is a known sync status.
func (st SyncStatus) Valid() bool {
	switch st {
	case StatusSynced, StatusDBAhead, StatusFileAhead, StatusConflict,
		StatusMissingFile, StatusMissingDB:
		return true
	}
	return false
}

// DocumentReference is one row in document_references.
type DocumentReference struct {
	ID         int64
	EntityType string
	EntityID   string

	FilePath     string
	Title        string
	DocumentType string
	Category     string
	Tags         []string
	Metadata     map[string]string

	// Content is nil for FILE_ONLY documents that were never onboarded.
	Content          *string
	ContentHash      string
	ContentSizeBytes int64

	StorageMode StorageMode
	SyncStatus  SyncStatus

	ContentUpdatedAt *time.Time
	LastSyncedAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasContent reports whether the row carries database content.
func (d *DocumentReference) HasContent() bool {
	return d.Content != nil
}

// Validate checks the fields callers must supply before Create.
func (d *DocumentReference) Validate() error {
	if d.EntityType == "" {
		return fmt.Errorf("entity_type is required")
	}
	if d.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if d.FilePath == "" {
		return fmt.Errorf("file_path is required")
	}
	if d.StorageMode != "" && !d.StorageMode.Valid() {
		return fmt.Errorf("unknown storage mode %q", d.StorageMode)
	}
	return nil
}

// Resolution says which side won a conflict.
type Resolution string

const (
	ResolutionDB   Resolution = "db"
	ResolutionFile Resolution = "file"
)

// SyncConflict is one row in sync_conflicts. Rows are retained permanently
// as an audit trail, including for auto-resolved conflicts.
type SyncConflict struct {
	ID                  int64
	DocumentReferenceID int64
	DetectedAt          time.Time
	DBHash              string
	FileHash            string
	DBModifiedAt        *time.Time
	FileModifiedAt      *time.Time
	StrategyApplied     string
	ResolvedAt          *time.Time
	Resolution          Resolution
}

// MigrationStatus is the per-document outcome of a migration run.
type MigrationStatus string

const (
	MigrationMigrated MigrationStatus = "migrated"
	MigrationSkipped  MigrationStatus = "skipped"
	MigrationFailed   MigrationStatus = "failed"
)

// MigrationRecord is one row in migration_records. Immutable once written.
type MigrationRecord struct {
	ID                  int64
	RunID               string
	DocumentReferenceID int64
	SourcePath          string
	HashBefore          string
	HashAfter           string
	Status              MigrationStatus
	Reason              string
	ContentBytes        int64
	CreatedAt           time.Time
}
