package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitalform/survey-key-escrow/interfaces"
	"github.com/vitalform/survey-key-escrow/sqlutil"
)

// SQLiteStore implements interfaces.EscrowRecordStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-based escrow record store, creating the
// table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	createEscrowTable := `
	CREATE TABLE IF NOT EXISTS escrow_records (
		user_id TEXT NOT NULL,
		survey_id TEXT NOT NULL,
		store_path TEXT NOT NULL,
		ciphertext_version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		last_rotated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, survey_id)
	);
	CREATE INDEX IF NOT EXISTS idx_escrow_records_user_id ON escrow_records(user_id);`

	_, err := s.db.Exec(createEscrowTable)
	return err
}

// Upsert creates or replaces the record for the (user, survey) pair.
func (s *SQLiteStore) Upsert(ctx context.Context, rec interfaces.EscrowRecord) error {
	query := `
	INSERT OR REPLACE INTO escrow_records (user_id, survey_id, store_path, ciphertext_version, created_at, last_rotated_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.UserID.String(), rec.SurveyID.String(), rec.StorePath,
		rec.CiphertextVersion, sqlutil.TimeToString(rec.CreatedAt),
		sqlutil.TimeToString(rec.LastRotatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert escrow record: %w", err)
	}

	return nil
}

// Get returns the record for the (user, survey) pair.
func (s *SQLiteStore) Get(ctx context.Context, user interfaces.UserID, survey interfaces.SurveyID) (interfaces.EscrowRecord, error) {
	query := `
	SELECT user_id, survey_id, store_path, ciphertext_version, created_at, last_rotated_at
	FROM escrow_records
	WHERE user_id = ? AND survey_id = ?`

	rec, err := scanEscrowRecord(s.db.QueryRowContext(ctx, query, user.String(), survey.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.EscrowRecord{}, fmt.Errorf("%w: user %s survey %s", interfaces.ErrEscrowNotFound, user, survey)
	}
	if err != nil {
		return interfaces.EscrowRecord{}, fmt.Errorf("failed to query escrow record: %w", err)
	}

	return rec, nil
}

// Delete removes the record for the (user, survey) pair.
func (s *SQLiteStore) Delete(ctx context.Context, user interfaces.UserID, survey interfaces.SurveyID) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM escrow_records WHERE user_id = ? AND survey_id = ?`,
		user.String(), survey.String())
	if err != nil {
		return fmt.Errorf("failed to delete escrow record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s survey %s", interfaces.ErrEscrowNotFound, user, survey)
	}

	return nil
}

// ListByUser returns all records for the user, newest first.
func (s *SQLiteStore) ListByUser(ctx context.Context, user interfaces.UserID) ([]interfaces.EscrowRecord, error) {
	query := `
	SELECT user_id, survey_id, store_path, ciphertext_version, created_at, last_rotated_at
	FROM escrow_records
	WHERE user_id = ?
	ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, user.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query escrow records: %w", err)
	}
	defer rows.Close()

	var records []interfaces.EscrowRecord
	for rows.Next() {
		rec, err := scanEscrowRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escrow record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscrowRecord(row rowScanner) (interfaces.EscrowRecord, error) {
	var rec interfaces.EscrowRecord
	var userStr, surveyStr, createdStr, rotatedStr string

	err := row.Scan(&userStr, &surveyStr, &rec.StorePath, &rec.CiphertextVersion, &createdStr, &rotatedStr)
	if err != nil {
		return interfaces.EscrowRecord{}, err
	}

	rec.UserID = interfaces.UserID(userStr)
	rec.SurveyID = interfaces.SurveyID(surveyStr)
	if rec.CreatedAt, err = sqlutil.StringToTime(createdStr); err != nil {
		return interfaces.EscrowRecord{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.LastRotatedAt, err = sqlutil.StringToTime(rotatedStr); err != nil {
		return interfaces.EscrowRecord{}, fmt.Errorf("failed to parse last_rotated_at: %w", err)
	}

	return rec, nil
}
