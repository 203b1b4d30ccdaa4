package mailer

import (
	"context"

	gomail "gopkg.in/gomail.v2"
)

// Message is one rendered confirmation email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Transport delivers a single message. Implementations must be safe for
// concurrent use; the dispatcher sends from multiple goroutines.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPTransport delivers messages through an SMTP relay.
type SMTPTransport struct {
	dialer *gomail.Dialer
	sender string
}

// NewSMTPTransport constructs the relay-backed transport.
func NewSMTPTransport(host string, port int, username, password, sender string) *SMTPTransport {
	return &SMTPTransport{
		dialer: gomail.NewDialer(host, port, username, password),
		sender: sender,
	}
}

// Send dials the relay and delivers one message.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mail := gomail.NewMessage()
	mail.SetHeader("From", t.sender)
	mail.SetHeader("To", msg.To)
	mail.SetHeader("Subject", msg.Subject)
	mail.SetBody("text/html", msg.HTML)
	return t.dialer.DialAndSend(mail)
}
