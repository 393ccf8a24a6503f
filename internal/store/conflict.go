package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordConflict appends a row to the sync_conflicts audit trail and
// returns its id. Auto-resolved conflicts pass resolvedAt/resolution;
// MANUAL detections leave them unset until ResolveConflict.
func (s *Store) RecordConflict(ctx context.Context, c *SyncConflict) (int64, error) {
	if c.DocumentReferenceID == 0 {
		return 0, fmt.Errorf("conflict requires a document reference id")
	}

	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_conflicts (
		document_reference_id, detected_at, db_hash, file_hash,
		db_modified_at, file_modified_at, strategy_applied,
		resolved_at, resolution
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.DocumentReferenceID,
		c.DetectedAt.UTC().Format(time.RFC3339Nano),
		c.DBHash,
		c.FileHash,
		timeToNullString(c.DBModifiedAt),
		timeToNullString(c.FileModifiedAt),
		c.StrategyApplied,
		timeToNullString(c.ResolvedAt),
		nullIfEmpty(string(c.Resolution)),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record conflict for document %d: %w", c.DocumentReferenceID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read conflict id: %w", err)
	}
	return id, nil
}

// ResolveConflict marks a pending conflict resolved. Resolution rows are
// never deleted; this only stamps the outcome.
func (s *Store) ResolveConflict(ctx context.Context, conflictID int64, resolution Resolution) error {
	now := s.now().UTC()
	res, err := s.conn.ExecContext(ctx, `
	UPDATE sync_conflicts SET resolved_at = ?, resolution = ?
	WHERE id = ? AND resolved_at IS NULL`,
		now.Format(time.RFC3339Nano), string(resolution), conflictID,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %d: %w", conflictID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conflict %d: %w", conflictID, ErrNotFound)
	}
	return nil
}

// ListConflicts returns the conflict history for a document, newest first.
// A zero docID lists all conflicts.
func (s *Store) ListConflicts(ctx context.Context, docID int64) ([]*SyncConflict, error) {
	query := `
	SELECT id, document_reference_id, detected_at, db_hash, file_hash,
	       db_modified_at, file_modified_at, strategy_applied,
	       resolved_at, resolution
	FROM sync_conflicts`
	var args []any
	if docID != 0 {
		query += " WHERE document_reference_id = ?"
		args = append(args, docID)
	}
	query += " ORDER BY detected_at DESC, id DESC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*SyncConflict
	for rows.Next() {
		var c SyncConflict
		var detectedAt string
		var dbModified, fileModified, resolvedAt, resolution sql.NullString

		if err := rows.Scan(
			&c.ID, &c.DocumentReferenceID, &detectedAt, &c.DBHash, &c.FileHash,
			&dbModified, &fileModified, &c.StrategyApplied,
			&resolvedAt, &resolution,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}

		if t, err := time.Parse(time.RFC3339Nano, detectedAt); err == nil {
			c.DetectedAt = t
		}
		c.DBModifiedAt = nullStringToTime(dbModified)
		c.FileModifiedAt = nullStringToTime(fileModified)
		c.ResolvedAt = nullStringToTime(resolvedAt)
		c.Resolution = Resolution(resolution.String)

		conflicts = append(conflicts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}
