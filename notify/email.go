package notify

import (
	"fmt"
	"net/smtp"
)

var sendMail = smtp.SendMail

// EmailSender sends one email. Implementations carry their own transport
// configuration.
type EmailSender interface {
	SendEmail(to, subject, body string) error
}

// SMTPSender implements EmailSender over authenticated SMTP.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NewSMTPSender creates an SMTP-backed sender.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
	}
}

// SendEmail sends the message through the configured relay.
func (s *SMTPSender) SendEmail(to, subject, body string) error {
	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)

	msg := []byte("To: " + to + "\r\n" +
		"From: " + s.From + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		body + "\r\n")

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)

	return sendMail(addr, auth, s.From, []string{to}, msg)
}

type nopSender struct{}

// NopSender discards every email. It stands in where notification email is
// not configured.
var NopSender EmailSender = nopSender{}

func (nopSender) SendEmail(to, subject, body string) error { return nil }
