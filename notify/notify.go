package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// LogNotifier implements interfaces.Notifier by writing events to the
// structured log. It is the default delivery path in development and the
// fallback when no email relay is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Send logs the event.
func (n *LogNotifier) Send(ctx context.Context, event interfaces.Event) error {
	n.log.Info("Recovery notification",
		slog.String("event", event.Type),
		slog.String("requestID", event.RequestID),
		slog.String("user", event.UserID.String()),
		slog.String("survey", event.SurveyID.String()),
		slog.String("message", event.Message))
	return nil
}

// EmailNotifier implements interfaces.Notifier by mailing each event to a
// fixed recipient, typically the platform's security inbox. Resolving the
// account owner's address is the platform's job; this service only knows
// opaque identifiers.
type EmailNotifier struct {
	recipient string
	sender    EmailSender
	log       *slog.Logger
}

// NewEmailNotifier creates an email-backed notifier delivering to recipient.
func NewEmailNotifier(recipient string, sender EmailSender, log *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		recipient: recipient,
		sender:    sender,
		log:       log,
	}
}

// Send mails the event.
func (n *EmailNotifier) Send(ctx context.Context, event interfaces.Event) error {
	subject := eventSubject(event.Type)
	body := fmt.Sprintf("Recovery request %s for survey %s (user %s):\n\n%s\n\nAt: %s\n",
		event.RequestID,
		event.SurveyID,
		event.UserID,
		event.Message,
		event.At.Format(time.RFC3339))

	if err := n.sender.SendEmail(n.recipient, subject, body); err != nil {
		return fmt.Errorf("sending notification email: %w", err)
	}

	n.log.Info("Recovery notification emailed",
		slog.String("event", event.Type),
		slog.String("requestID", event.RequestID))
	return nil
}

func eventSubject(eventType string) string {
	switch eventType {
	case interfaces.EventRecoveryDelayed:
		return "Recovery request entered mandatory delay"
	case interfaces.EventRecoveryExecuted:
		return "Recovery request executed"
	case interfaces.EventRecoveryCancelled:
		return "Recovery request cancelled"
	case interfaces.EventRecoveryExpired:
		return "Recovery request expired"
	default:
		return "Recovery request update"
	}
}

// Multi fans an event out to every notifier, attempting all of them and
// joining the failures.
func Multi(notifiers ...interfaces.Notifier) interfaces.Notifier {
	return multiNotifier(notifiers)
}

type multiNotifier []interfaces.Notifier

func (m multiNotifier) Send(ctx context.Context, event interfaces.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
