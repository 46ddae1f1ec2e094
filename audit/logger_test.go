package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoggerStampsEntries(t *testing.T) {
	store := NewMemoryStore()
	logger := NewLogger(store, testLogger())

	err := logger.Append(context.Background(), interfaces.AuditEntry{
		Actor:     interfaces.ActorID("admin-1"),
		Operation: "escrow",
		TargetRef: "users/u1/surveys/s1/recovery-kek",
		Outcome:   interfaces.OutcomeSuccess,
	})
	require.NoError(t, err)

	entries := store.Entries()
	require.Len(t, entries, 1)
	require.NotEmpty(t, entries[0].ID)
	require.False(t, entries[0].Timestamp.IsZero())
	require.Equal(t, "escrow", entries[0].Operation)
}

func TestLoggerKeepsCallerStamps(t *testing.T) {
	store := NewMemoryStore()
	logger := NewLogger(store, testLogger())

	entry := interfaces.AuditEntry{
		ID:        "fixed-id",
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:     interfaces.ActorID("admin-1"),
		Operation: "workflow.submit",
		TargetRef: "req-1",
		Outcome:   interfaces.OutcomeFailure,
	}

	require.NoError(t, logger.Append(context.Background(), entry))

	entries := store.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "fixed-id", entries[0].ID)
	require.Equal(t, entry.Timestamp, entries[0].Timestamp)
}

func TestLoggerAppendFailureIsFatal(t *testing.T) {
	store := NewMemoryStore()
	store.FailAppends(errors.New("disk full"))
	logger := NewLogger(store, testLogger())

	err := logger.Append(context.Background(), interfaces.AuditEntry{
		Actor:     interfaces.ActorID("admin-1"),
		Operation: "workflow.execute",
		TargetRef: "req-1",
		Outcome:   interfaces.OutcomeSuccess,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, interfaces.ErrAuditWriteFailure)
	require.Equal(t, interfaces.CategoryAuditWriteFailure, interfaces.Category(err))
	require.Empty(t, store.Entries())
}
