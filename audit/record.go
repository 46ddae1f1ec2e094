package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// Record writes the mandatory audit entry for one operation attempt and
// folds the result into the operation's error. Every key-touching operation
// follows the same shape: run the work, then pass the outcome through
// Record before returning it to the caller.
//
// When opErr is non-nil, Record appends a failure entry and returns opErr
// wrapped as an OpError if it is not one already. A failed append on this
// path is logged and swallowed: the operation error is the one the caller
// needs to see.
//
// When opErr is nil, Record appends a success entry carrying detail. A
// failed append on this path turns the whole operation into an
// ErrAuditWriteFailure: no result is reported successful without a durable
// audit record.
func Record(ctx context.Context, alog interfaces.AuditLog, log *slog.Logger, actor interfaces.ActorID, op, target, detail string, opErr error) error {
	entry := interfaces.AuditEntry{
		Actor:     actor,
		Operation: op,
		TargetRef: target,
		Outcome:   interfaces.OutcomeSuccess,
		Detail:    detail,
	}
	if opErr != nil {
		if _, ok := opErr.(*interfaces.OpError); !ok {
			opErr = interfaces.E(op, target, opErr)
		}
		entry.Outcome = interfaces.OutcomeFailure
		entry.ErrorCategory = interfaces.Category(opErr)
		entry.Detail = opErr.Error()
		if aerr := alog.Append(ctx, entry); aerr != nil {
			log.Error("Failed to append failure audit entry",
				slog.String("operation", op),
				slog.String("target", target),
				"err", aerr)
		}
		return opErr
	}
	if aerr := alog.Append(ctx, entry); aerr != nil {
		return interfaces.E(op, target, fmt.Errorf("%w: %v", interfaces.ErrAuditWriteFailure, aerr))
	}
	return nil
}
