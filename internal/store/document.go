package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docvault/docvault/internal/docpath"
	"github.com/docvault/docvault/internal/hashutil"
)

// execer is satisfied by both *sql.DB and *sql.Tx so the FTS helpers can run
// inside whichever scope the caller holds.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ComputeHash delegates to the hash verifier.
func (s *Store) ComputeHash(content string) string {
	return hashutil.Hash(content)
}

// Create registers a new document and optionally its initial content, all
// in one transaction.
//
// The file path is validated against the canonical layout (ValidationError
// with a suggested correction otherwise) and must not already be registered
// (DuplicatePathError). Category and document type are filled from the path
// when the caller leaves them empty. Defaults: storage_mode=HYBRID
// (FILE_ONLY for exception paths), sync_status=DB_AHEAD when content is
// supplied, MISSING_DB otherwise.
func (s *Store) Create(ctx context.Context, doc *DocumentReference, content *string) (*DocumentReference, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	info, err := docpath.Parse(doc.FilePath)
	if err != nil {
		return nil, err
	}
	if !info.Exception {
		if doc.Category != "" && doc.Category != info.Category {
			return nil, &docpath.ValidationError{
				Path:          doc.FilePath,
				Reason:        fmt.Sprintf("category %q does not match path segment %q", doc.Category, info.Category),
				SuggestedPath: fmt.Sprintf("docs/%s/%s/%s", doc.Category, info.DocumentType, info.Filename),
			}
		}
		doc.Category = info.Category
		if doc.DocumentType == "" {
			doc.DocumentType = info.DocumentType
		}
	}

	if s.resolver != nil {
		ok, err := s.resolver.EntityExists(ctx, doc.EntityType, doc.EntityID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve entity %s/%s: %w", doc.EntityType, doc.EntityID, err)
		}
		if !ok {
			return nil, fmt.Errorf("entity %s/%s does not exist: %w", doc.EntityType, doc.EntityID, ErrNotFound)
		}
	}

	mode := doc.StorageMode
	if mode == "" {
		if info.Exception {
			mode = ModeFileOnly
		} else {
			mode = ModeHybrid
		}
	}

	status := StatusDBAhead
	var hash string
	var size int64
	if content != nil {
		hash = hashutil.Hash(*content)
		size = int64(len(*content))
	} else {
		status = StatusMissingDB
	}

	tagsJSON, err := marshalTags(doc.Tags)
	if err != nil {
		return nil, err
	}
	metaJSON, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM document_references WHERE file_path = ?", doc.FilePath,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check path uniqueness: %w", err)
	}
	if exists > 0 {
		return nil, &DuplicatePathError{Path: doc.FilePath}
	}

	res, err := tx.ExecContext(ctx, `
	INSERT INTO document_references (
		entity_type, entity_id, file_path, title, document_type, category,
		tags, metadata, content, content_hash, content_size_bytes,
		storage_mode, sync_status, content_updated_at, last_synced_at,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
	`,
		doc.EntityType,
		doc.EntityID,
		doc.FilePath,
		doc.Title,
		doc.DocumentType,
		doc.Category,
		tagsJSON,
		metaJSON,
		nullableString(content),
		nullIfEmpty(hash),
		size,
		string(mode),
		string(status),
		timeToNullString(contentUpdatedAt(content, now)),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted id: %w", err)
	}

	if content != nil {
		if err := upsertFTS(ctx, tx, id, doc.Title, *content); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit create: %w", err)
	}

	return s.Get(ctx, id)
}

// UpdateContent replaces the database content of a document, recomputing
// hash and size and stamping content_updated_at.
//
// The status moves to DB_AHEAD unless the mirrored file already hashes
// equal to the new content, in which case the document is SYNCED without
// touching disk. Returns ErrNotFound for unknown ids and
// UnsupportedOperationError for FILE_ONLY documents.
func (s *Store) UpdateContent(ctx context.Context, id int64, content string) (*DocumentReference, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.StorageMode == ModeFileOnly {
		return nil, &UnsupportedOperationError{Op: "update_content", Mode: doc.StorageMode}
	}

	hash := hashutil.Hash(content)
	size := int64(len(content))
	now := s.now().UTC()

	status := StatusDBAhead
	var syncedAt *time.Time
	if s.mirror != nil && s.mirror.Exists(doc.FilePath) {
		fileContent, _, _, rerr := s.mirror.Read(doc.FilePath)
		if rerr == nil && hashutil.Hash(fileContent) == hash {
			status = StatusSynced
			syncedAt = &now
		}
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
	UPDATE document_references
	SET content = ?, content_hash = ?, content_size_bytes = ?,
	    content_updated_at = ?, sync_status = ?, updated_at = ?`
	args := []any{
		content, hash, size,
		now.Format(time.RFC3339Nano),
		string(status),
		now.Format(time.RFC3339Nano),
	}
	if syncedAt != nil {
		query += ", last_synced_at = ?"
		args = append(args, syncedAt.Format(time.RFC3339Nano))
	}
	query += " WHERE id = ?"
	args = append(args, id)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update content for document %d: %w", id, err)
	}

	if err := upsertFTS(ctx, tx, id, doc.Title, content); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit content update: %w", err)
	}

	return s.Get(ctx, id)
}

// GetContent returns the stored content of a document, verifying it against
// the recorded hash. FILE_ONLY documents have no database content; callers
// must sync them first.
func (s *Store) GetContent(ctx context.Context, id int64) (string, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if doc.StorageMode == ModeFileOnly || doc.Content == nil {
		return "", &UnsupportedOperationError{Op: "get_content", Mode: doc.StorageMode}
	}
	if doc.ContentHash != "" && !hashutil.Verify(*doc.Content, doc.ContentHash) {
		return "", &HashMismatchError{Expected: doc.ContentHash, Actual: hashutil.Hash(*doc.Content)}
	}
	return *doc.Content, nil
}

// Get retrieves a document by id. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, id int64) (*DocumentReference, error) {
	row := s.conn.QueryRowContext(ctx, selectDocColumns+" WHERE id = ?", id)
	doc, err := scanDoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return doc, err
}

// GetByPath retrieves a document by its file path.
func (s *Store) GetByPath(ctx context.Context, filePath string) (*DocumentReference, error) {
	row := s.conn.QueryRowContext(ctx, selectDocColumns+" WHERE file_path = ?", filePath)
	doc, err := scanDoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", filePath, ErrNotFound)
	}
	return doc, err
}

// ListFilter configures List. Zero values mean "no constraint".
type ListFilter struct {
	EntityType  string
	EntityID    string
	Category    string
	StorageMode StorageMode
	SyncStatus  SyncStatus
	Limit       int
	Offset      int
}

// List retrieves documents matching the filter, ordered by file path.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*DocumentReference, error) {
	var conditions []string
	var args []any

	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.StorageMode != "" {
		conditions = append(conditions, "storage_mode = ?")
		args = append(args, string(filter.StorageMode))
	}
	if filter.SyncStatus != "" {
		conditions = append(conditions, "sync_status = ?")
		args = append(args, string(filter.SyncStatus))
	}

	query := selectDocColumns
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY file_path ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*DocumentReference
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

// Delete removes a document, its FTS entry, and (via cascade) its conflict
// rows. Migration records are retained as audit history.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Cascade explicitly; pooled connections don't all share the
	// foreign_keys pragma.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM sync_conflicts WHERE document_reference_id = ?", id,
	); err != nil {
		return fmt.Errorf("failed to delete conflicts for document %d: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM document_references WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}

	if err := deleteFTS(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// UpdateSyncState records the outcome of a sync decision: the new status
// and, when the sides converged, the last_synced_at stamp.
func (s *Store) UpdateSyncState(ctx context.Context, id int64, status SyncStatus, syncedAt *time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("unknown sync status %q", status)
	}

	now := s.now().UTC()
	query := "UPDATE document_references SET sync_status = ?, updated_at = ?"
	args := []any{string(status), now.Format(time.RFC3339Nano)}
	if syncedAt != nil {
		query += ", last_synced_at = ?"
		args = append(args, syncedAt.UTC().Format(time.RFC3339Nano))
	}
	query += " WHERE id = ?"
	args = append(args, id)

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update sync state for document %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return nil
}

// ApplyFileContent adopts the file side as the new database content after a
// file→db sync: content, hash, and size are replaced, both
// content_updated_at and last_synced_at move to syncedAt, and the document
// becomes SYNCED. FILE_ONLY documents are promoted to HYBRID.
func (s *Store) ApplyFileContent(ctx context.Context, id int64, content string, syncedAt time.Time) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	hash := hashutil.Hash(content)
	size := int64(len(content))
	at := syncedAt.UTC().Format(time.RFC3339Nano)

	mode := doc.StorageMode
	if mode == ModeFileOnly {
		mode = ModeHybrid
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
	UPDATE document_references
	SET content = ?, content_hash = ?, content_size_bytes = ?,
	    storage_mode = ?, sync_status = ?,
	    content_updated_at = ?, last_synced_at = ?, updated_at = ?
	WHERE id = ?`,
		content, hash, size,
		string(mode), string(StatusSynced),
		at, at, s.now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("failed to apply file content for document %d: %w", id, err)
	}

	if err := upsertFTS(ctx, tx, id, doc.Title, content); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file content: %w", err)
	}
	return nil
}

// upsertFTS replaces the FTS row for a document. Runs inside the caller's
// transaction so the index commits with the content.
func upsertFTS(ctx context.Context, e execer, id int64, title, content string) error {
	if _, err := e.ExecContext(ctx, "DELETE FROM doc_fts WHERE doc_id = ?", id); err != nil {
		return fmt.Errorf("failed to clear fts entry for document %d: %w", id, err)
	}
	if _, err := e.ExecContext(ctx,
		"INSERT INTO doc_fts (title, content, doc_id) VALUES (?, ?, ?)",
		title, content, id,
	); err != nil {
		return fmt.Errorf("failed to index document %d: %w", id, err)
	}
	return nil
}

// deleteFTS removes the FTS row for a document.
func deleteFTS(ctx context.Context, e execer, id int64) error {
	if _, err := e.ExecContext(ctx, "DELETE FROM doc_fts WHERE doc_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete fts entry for document %d: %w", id, err)
	}
	return nil
}

const selectDocColumns = `
SELECT id, entity_type, entity_id, file_path, title, document_type, category,
       tags, metadata, content, content_hash, content_size_bytes,
       storage_mode, sync_status, content_updated_at, last_synced_at,
       created_at, updated_at
FROM document_references`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDoc(row scanner) (*DocumentReference, error) {
	var doc DocumentReference
	var tagsJSON, metaJSON string
	var content, hash sql.NullString
	var contentUpdatedAt, lastSyncedAt sql.NullString
	var mode, status, createdAt, updatedAt string

	err := row.Scan(
		&doc.ID,
		&doc.EntityType,
		&doc.EntityID,
		&doc.FilePath,
		&doc.Title,
		&doc.DocumentType,
		&doc.Category,
		&tagsJSON,
		&metaJSON,
		&content,
		&hash,
		&doc.ContentSizeBytes,
		&mode,
		&status,
		&contentUpdatedAt,
		&lastSyncedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	if content.Valid {
		doc.Content = &content.String
	}
	doc.ContentHash = hash.String
	doc.StorageMode = StorageMode(mode)
	doc.SyncStatus = SyncStatus(status)

	if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	doc.ContentUpdatedAt = nullStringToTime(contentUpdatedAt)
	doc.LastSyncedAt = nullStringToTime(lastSyncedAt)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		doc.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		doc.UpdatedAt = t
	}

	return &doc, nil
}

// marshalTags serializes tags preserving order and dropping duplicates.
func marshalTags(tags []string) (string, error) {
	seen := make(map[string]bool, len(tags))
	unique := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		unique = append(unique, tag)
	}
	data, err := json.Marshal(unique)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(data), nil
}

func marshalMetadata(meta map[string]string) (string, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func contentUpdatedAt(content *string, now time.Time) *time.Time {
	if content == nil {
		return nil
	}
	return &now
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
