package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docvault/docvault/internal/hashutil"
)

// Tx-scoped primitives used by the migration runner. The runner owns one
// outer transaction so an ERROR-policy abort rolls the whole run back;
// everything it writes goes through these, never raw SQL.

// GetContentTx reads a document's stored content inside tx. Migration
// verification re-reads through this right after writing.
func (s *Store) GetContentTx(ctx context.Context, tx *sql.Tx, id int64) (string, error) {
	var content sql.NullString
	err := tx.QueryRowContext(ctx,
		"SELECT content FROM document_references WHERE id = ?", id,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read content for document %d: %w", id, err)
	}
	if !content.Valid {
		return "", fmt.Errorf("document %d has no content: %w", id, ErrNotFound)
	}
	return content.String, nil
}

// MigrateContentTx onboards file content into the database inside tx:
// content, hash, and size are written, the document becomes HYBRID, and
// both content_updated_at and last_synced_at are stamped (the file and DB
// are byte-identical at this instant).
func (s *Store) MigrateContentTx(ctx context.Context, tx *sql.Tx, id int64, content string, at time.Time) (hash string, err error) {
	hash = hashutil.Hash(content)
	stamp := at.UTC().Format(time.RFC3339Nano)

	res, err := tx.ExecContext(ctx, `
	UPDATE document_references
	SET content = ?, content_hash = ?, content_size_bytes = ?,
	    storage_mode = ?, sync_status = ?,
	    content_updated_at = ?, last_synced_at = ?, updated_at = ?
	WHERE id = ?`,
		content, hash, int64(len(content)),
		string(ModeHybrid), string(StatusSynced),
		stamp, stamp, stamp,
		id,
	)
	if err != nil {
		return "", fmt.Errorf("failed to migrate content for document %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("document %d: %w", id, ErrNotFound)
	}

	var title string
	if err := tx.QueryRowContext(ctx,
		"SELECT title FROM document_references WHERE id = ?", id,
	).Scan(&title); err != nil {
		return "", fmt.Errorf("failed to read title for document %d: %w", id, err)
	}
	if err := upsertFTS(ctx, tx, id, title, content); err != nil {
		return "", err
	}
	return hash, nil
}

// SetTitleTx fills in a document title discovered during migration
// (front matter or first markdown heading). Empty titles are not written.
func (s *Store) SetTitleTx(ctx context.Context, tx *sql.Tx, id int64, title string) error {
	if title == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE document_references SET title = ? WHERE id = ?", title, id,
	); err != nil {
		return fmt.Errorf("failed to set title for document %d: %w", id, err)
	}
	return nil
}

// AddMigrationRecordTx appends an immutable migration outcome row inside tx.
func (s *Store) AddMigrationRecordTx(ctx context.Context, tx *sql.Tx, rec *MigrationRecord) error {
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO migration_records (
		run_id, document_reference_id, source_path,
		hash_before, hash_after, status, reason, content_bytes, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.DocumentReferenceID,
		rec.SourcePath,
		rec.HashBefore,
		rec.HashAfter,
		string(rec.Status),
		rec.Reason,
		rec.ContentBytes,
		s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to record migration outcome for %s: %w", rec.SourcePath, err)
	}
	return nil
}

// ListMigrationRecords returns the outcomes of a migration run in insertion
// order.
func (s *Store) ListMigrationRecords(ctx context.Context, runID string) ([]*MigrationRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, run_id, document_reference_id, source_path,
	       hash_before, hash_after, status, reason, content_bytes, created_at
	FROM migration_records
	WHERE run_id = ?
	ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list migration records: %w", err)
	}
	defer rows.Close()

	var records []*MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		var status, createdAt string
		var hashBefore, hashAfter sql.NullString

		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.DocumentReferenceID, &rec.SourcePath,
			&hashBefore, &hashAfter, &status, &rec.Reason, &rec.ContentBytes, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}

		rec.HashBefore = hashBefore.String
		rec.HashAfter = hashAfter.String
		rec.Status = MigrationStatus(status)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = t
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration records: %w", err)
	}
	return records, nil
}

// CountDocuments returns the number of document_references rows. Tests use
// this to assert row-for-row rollback.
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM document_references",
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}
