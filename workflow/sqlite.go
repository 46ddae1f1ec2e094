package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitalform/survey-key-escrow/interfaces"
	"github.com/vitalform/survey-key-escrow/sqlutil"
)

// SQLiteStore implements interfaces.RecoveryRequestStore using SQLite.
// Status changes go through UpdateCAS, which matches on the stored version
// so concurrent writers are totally ordered per request.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-based request store, creating the table
// if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	createRequestTable := `
	CREATE TABLE IF NOT EXISTS recovery_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		survey_id TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		admin1_id TEXT NOT NULL DEFAULT '',
		admin1_at TEXT NOT NULL DEFAULT '',
		admin2_id TEXT NOT NULL DEFAULT '',
		admin2_at TEXT NOT NULL DEFAULT '',
		delay_until TEXT NOT NULL DEFAULT '',
		cancel_token_hash TEXT NOT NULL DEFAULT '',
		completed_at TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recovery_requests_status ON recovery_requests(status);
	CREATE INDEX IF NOT EXISTS idx_recovery_requests_escrow ON recovery_requests(user_id, survey_id);`

	_, err := s.db.Exec(createRequestTable)
	return err
}

// Create persists a new request under an unused id.
func (s *SQLiteStore) Create(ctx context.Context, req interfaces.RecoveryRequest) error {
	query := `
	INSERT INTO recovery_requests (id, user_id, survey_id, requested_by, status, version,
		admin1_id, admin1_at, admin2_id, admin2_at, delay_until, cancel_token_hash,
		completed_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		req.ID, req.UserID.String(), req.SurveyID.String(), req.RequestedBy.String(),
		req.Status.String(), req.Version,
		req.Admin1ID.String(), optTimeToString(req.Admin1At),
		req.Admin2ID.String(), optTimeToString(req.Admin2At),
		optTimeToString(req.DelayUntil), req.CancelTokenHash,
		optTimeToString(req.CompletedAt),
		sqlutil.TimeToString(req.CreatedAt), sqlutil.TimeToString(req.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert recovery request: %w", err)
	}

	return nil
}

// Get returns the request by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (interfaces.RecoveryRequest, error) {
	query := selectRequestColumns + ` WHERE id = ?`

	req, err := scanRequest(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.RecoveryRequest{}, fmt.Errorf("%w: %s", interfaces.ErrRequestNotFound, id)
	}
	if err != nil {
		return interfaces.RecoveryRequest{}, fmt.Errorf("failed to query recovery request: %w", err)
	}

	return req, nil
}

// UpdateCAS persists the mutable fields of req if the stored version still
// equals req.Version, incrementing the stored version. Identity fields and
// the cancel token hash never change after creation.
func (s *SQLiteStore) UpdateCAS(ctx context.Context, req interfaces.RecoveryRequest) error {
	query := `
	UPDATE recovery_requests
	SET status = ?, version = version + 1, admin1_id = ?, admin1_at = ?,
		admin2_id = ?, admin2_at = ?, delay_until = ?, completed_at = ?, updated_at = ?
	WHERE id = ? AND version = ?`

	result, err := s.db.ExecContext(ctx, query,
		req.Status.String(),
		req.Admin1ID.String(), optTimeToString(req.Admin1At),
		req.Admin2ID.String(), optTimeToString(req.Admin2At),
		optTimeToString(req.DelayUntil), optTimeToString(req.CompletedAt),
		sqlutil.TimeToString(req.UpdatedAt),
		req.ID, req.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update recovery request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		var stored int
		err := s.db.QueryRowContext(ctx,
			`SELECT version FROM recovery_requests WHERE id = ?`, req.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", interfaces.ErrRequestNotFound, req.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to query recovery request version: %w", err)
		}
		return fmt.Errorf("%w: version %d moved to %d", interfaces.ErrStateConflict, req.Version, stored)
	}

	return nil
}

// ListByStatus returns requests in any of the given statuses, oldest
// first.
func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...interfaces.RequestStatus) ([]interfaces.RecoveryRequest, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	query := selectRequestColumns + fmt.Sprintf(" WHERE status IN (%s) ORDER BY created_at ASC", placeholders)

	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status.String()
	}

	return s.queryRequests(ctx, query, args...)
}

// ListForEscrow returns all requests for the (user, survey) pair, newest
// first.
func (s *SQLiteStore) ListForEscrow(ctx context.Context, user interfaces.UserID, survey interfaces.SurveyID) ([]interfaces.RecoveryRequest, error) {
	query := selectRequestColumns + ` WHERE user_id = ? AND survey_id = ? ORDER BY created_at DESC`
	return s.queryRequests(ctx, query, user.String(), survey.String())
}

func (s *SQLiteStore) queryRequests(ctx context.Context, query string, args ...any) ([]interfaces.RecoveryRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recovery requests: %w", err)
	}
	defer rows.Close()

	var requests []interfaces.RecoveryRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recovery request: %w", err)
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}

const selectRequestColumns = `
	SELECT id, user_id, survey_id, requested_by, status, version,
		admin1_id, admin1_at, admin2_id, admin2_at, delay_until,
		cancel_token_hash, completed_at, created_at, updated_at
	FROM recovery_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (interfaces.RecoveryRequest, error) {
	var req interfaces.RecoveryRequest
	var userStr, surveyStr, requestedByStr, statusStr string
	var admin1Str, admin1AtStr, admin2Str, admin2AtStr string
	var delayUntilStr, completedAtStr, createdAtStr, updatedAtStr string

	err := row.Scan(
		&req.ID, &userStr, &surveyStr, &requestedByStr, &statusStr, &req.Version,
		&admin1Str, &admin1AtStr, &admin2Str, &admin2AtStr, &delayUntilStr,
		&req.CancelTokenHash, &completedAtStr, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return interfaces.RecoveryRequest{}, err
	}

	req.UserID = interfaces.UserID(userStr)
	req.SurveyID = interfaces.SurveyID(surveyStr)
	req.RequestedBy = interfaces.ActorID(requestedByStr)
	req.Status = interfaces.RequestStatus(statusStr)
	req.Admin1ID = interfaces.ActorID(admin1Str)
	req.Admin2ID = interfaces.ActorID(admin2Str)

	fields := []struct {
		dst *time.Time
		src string
	}{
		{&req.Admin1At, admin1AtStr},
		{&req.Admin2At, admin2AtStr},
		{&req.DelayUntil, delayUntilStr},
		{&req.CompletedAt, completedAtStr},
		{&req.CreatedAt, createdAtStr},
		{&req.UpdatedAt, updatedAtStr},
	}
	for _, f := range fields {
		if *f.dst, err = optStringToTime(f.src); err != nil {
			return interfaces.RecoveryRequest{}, fmt.Errorf("failed to parse timestamp: %w", err)
		}
	}

	return req, nil
}

// optTimeToString maps the zero time to the empty string so optional
// timestamps round-trip.
func optTimeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return sqlutil.TimeToString(t)
}

func optStringToTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return sqlutil.StringToTime(s)
}
