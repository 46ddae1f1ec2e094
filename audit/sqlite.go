package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitalform/survey-key-escrow/interfaces"
	"github.com/vitalform/survey-key-escrow/sqlutil"
)

// SQLiteStore implements interfaces.AuditStore using SQLite. The table is
// append-only: this type deliberately has no update or delete methods.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-based audit store, creating the table
// if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

// createTables ensures the audit table and its query indexes exist.
func (s *SQLiteStore) createTables() error {
	createAuditTable := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor TEXT NOT NULL,
		operation TEXT NOT NULL,
		target_ref TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error_category TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_operation ON audit_entries(operation);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_target_ref ON audit_entries(target_ref);`

	_, err := s.db.Exec(createAuditTable)
	return err
}

// Append inserts one entry.
func (s *SQLiteStore) Append(ctx context.Context, entry interfaces.AuditEntry) error {
	query := `
	INSERT INTO audit_entries (id, timestamp, actor, operation, target_ref, outcome, error_category, detail)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, sqlutil.TimeToString(entry.Timestamp), entry.Actor.String(),
		entry.Operation, entry.TargetRef, string(entry.Outcome),
		string(entry.ErrorCategory), entry.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// List returns entries matching the filter, oldest first. Time bounds are
// inclusive.
func (s *SQLiteStore) List(ctx context.Context, filter interfaces.AuditFilter) ([]interfaces.AuditEntry, error) {
	query := `
	SELECT id, timestamp, actor, operation, target_ref, outcome, error_category, detail
	FROM audit_entries`

	var conds []string
	var args []any

	if filter.Operation != "" {
		conds = append(conds, "operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.TargetRef != "" {
		conds = append(conds, "target_ref = ?")
		args = append(args, filter.TargetRef)
	}
	if filter.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, filter.Actor.String())
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, sqlutil.TimeToString(filter.Since))
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, sqlutil.TimeToString(filter.Until))
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []interfaces.AuditEntry
	for rows.Next() {
		var entry interfaces.AuditEntry
		var timestampStr, actorStr, outcomeStr, categoryStr string

		err := rows.Scan(
			&entry.ID, &timestampStr, &actorStr, &entry.Operation,
			&entry.TargetRef, &outcomeStr, &categoryStr, &entry.Detail,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.Timestamp, err = sqlutil.StringToTime(timestampStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		entry.Actor = interfaces.ActorID(actorStr)
		entry.Outcome = interfaces.AuditOutcome(outcomeStr)
		entry.ErrorCategory = interfaces.ErrorCategory(categoryStr)

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
