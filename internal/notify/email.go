package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Email delivers events over SMTP with STARTTLS.
type Email struct {
	server    string
	port      int
	sender    string
	password  string
	recipient string

	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail builds an SMTP notifier.
func NewEmail(server string, port int, sender, password, recipient string) *Email {
	return &Email{
		server:    server,
		port:      port,
		sender:    sender,
		password:  password,
		recipient: recipient,
		send:      smtp.SendMail,
	}
}

func (e *Email) Emit(_ context.Context, event Event) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.sender)
	fmt.Fprintf(&msg, "To: %s\r\n", e.recipient)
	fmt.Fprintf(&msg, "Subject: [tickgrabber] %s\r\n", event.Title())
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(event.Body())
	fmt.Fprintf(&msg, "\nSent: %s\r\n", event.At.Format("2006-01-02 15:04:05"))

	addr := fmt.Sprintf("%s:%d", e.server, e.port)
	auth := smtp.PlainAuth("", e.sender, e.password, e.server)
	if err := e.send(addr, auth, e.sender, []string{e.recipient}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
