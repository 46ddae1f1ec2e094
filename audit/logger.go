package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// Logger implements interfaces.AuditLog. It stamps entries, persists them
// through the configured store, and mirrors them to the structured log.
type Logger struct {
	store interfaces.AuditStore
	log   *slog.Logger
}

// NewLogger creates an audit logger writing through store.
func NewLogger(store interfaces.AuditStore, log *slog.Logger) *Logger {
	return &Logger{store: store, log: log}
}

// Append persists one entry, assigning an id and timestamp when the caller
// left them zero. A persistence failure is returned as
// interfaces.ErrAuditWriteFailure and is fatal to the operation that
// produced the entry.
func (l *Logger) Append(ctx context.Context, entry interfaces.AuditEntry) error {
	const op = "audit.append"

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := l.store.Append(ctx, entry); err != nil {
		l.log.Error("Failed to append audit entry",
			"err", err,
			slog.String("operation", entry.Operation),
			slog.String("targetRef", entry.TargetRef),
			slog.String("outcome", string(entry.Outcome)))
		return interfaces.E(op, entry.TargetRef,
			fmt.Errorf("%w: %v", interfaces.ErrAuditWriteFailure, err))
	}

	l.log.Info("Audit entry recorded",
		slog.String("operation", entry.Operation),
		slog.String("actor", entry.Actor.String()),
		slog.String("targetRef", entry.TargetRef),
		slog.String("outcome", string(entry.Outcome)),
		slog.String("errorCategory", string(entry.ErrorCategory)))

	return nil
}
