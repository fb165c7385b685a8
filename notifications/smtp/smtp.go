// Package smtp provides an SMTP-based implementation of the
// NotificationService interface for sending email notifications.
package smtp

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"net/textproto"

	"github.com/vocdoni/saas-billing/notifications"
)

// Config represents the configuration for the SMTP email service. The
// TestAPIPort is the port of the inbox API of a local test server such as
// MailHog, only used by FindEmail.
type Config struct {
	FromName     string
	FromAddress  string
	SMTPUsername string
	SMTPPassword string
	SMTPServer   string
	SMTPPort     int
	TestAPIPort  int
}

// Email is the SMTP implementation of notifications.NotificationService.
type Email struct {
	config *Config
	auth   smtp.Auth
}

var _ notifications.NotificationService = (*Email)(nil)

// New validates the configuration and returns the email service. Plain auth
// is used when a username and password are set.
func New(config *Config) (*Email, error) {
	if config == nil {
		return nil, fmt.Errorf("invalid SMTP configuration")
	}
	if _, err := mail.ParseAddress(config.FromAddress); err != nil {
		return nil, fmt.Errorf("could not parse from email: %v", err)
	}
	se := &Email{config: config}
	if config.SMTPUsername != "" && config.SMTPPassword != "" {
		se.auth = smtp.PlainAuth("", config.SMTPUsername, config.SMTPPassword, config.SMTPServer)
	}
	return se, nil
}

// SendNotification composes the email and sends it through the SMTP server,
// giving up when ctx is done.
func (se *Email) SendNotification(ctx context.Context, notification *notifications.Notification) error {
	body, err := se.composeBody(notification)
	if err != nil {
		return fmt.Errorf("could not compose email body: %v", err)
	}
	server := fmt.Sprintf("%s:%d", se.config.SMTPServer, se.config.SMTPPort)
	errCh := make(chan error, 1)
	go func() {
		errCh <- smtp.SendMail(server, se.auth, se.config.FromAddress, []string{notification.ToAddress}, body)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// composeBody builds a multipart/alternative message with the plain text and
// the HTML versions of the notification.
func (se *Email) composeBody(notification *notifications.Notification) ([]byte, error) {
	to, err := mail.ParseAddress(notification.ToAddress)
	if err != nil {
		return nil, fmt.Errorf("could not parse to email: %v", err)
	}
	if notification.ToName != "" {
		to.Name = notification.ToName
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	var email bytes.Buffer
	from := mail.Address{Name: se.config.FromName, Address: se.config.FromAddress}
	fmt.Fprintf(&email, "From: %s\r\n", from.String())
	fmt.Fprintf(&email, "To: %s\r\n", to.String())
	if notification.ReplyTo != "" {
		replyTo, err := mail.ParseAddress(notification.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("could not parse reply-to email: %v", err)
		}
		fmt.Fprintf(&email, "Reply-To: %s\r\n", replyTo.String())
	}
	fmt.Fprintf(&email, "Subject: %s\r\n", notification.Subject)
	email.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&email, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", writer.Boundary())

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=\"UTF-8\"", notification.PlainBody},
		{"text/html; charset=\"UTF-8\"", notification.Body},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		w, err := writer.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("could not create part: %v", err)
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("could not write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("could not close writer: %v", err)
	}
	email.Write(body.Bytes())
	return email.Bytes(), nil
}
