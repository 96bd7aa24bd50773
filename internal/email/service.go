// Package email delivers invitation emails over SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gopkg.in/gomail.v2"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// AppURL is the public base URL invitation links point at.
	AppURL string
}

// Service provides email sending
type Service struct {
	config Config
	dialer *gomail.Dialer
	send   func(*gomail.Message) error
}

func NewService(config Config) *Service {
	port, _ := strconv.Atoi(config.Port)
	dialer := gomail.NewDialer(config.Host, port, config.Username, config.Password)
	return &Service{
		config: config,
		dialer: dialer,
		send:   func(m *gomail.Message) error { return dialer.DialAndSend(m) },
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.dialer.Port > 0 && s.config.From != ""
}

// Invitation is everything the invitation email shows. Token is the raw
// invitation token; it only ever travels inside the accept link.
type Invitation struct {
	To            string
	InviterName   string
	WorkspaceName string
	Role          string
	Token         string
	ExpiresAt     time.Time
}

type invitationData struct {
	InviterName   string
	WorkspaceName string
	Role          string
	AcceptURL     string
	Expires       string
}

// SendInvitation renders and sends the invitation for msg. gomail has no
// context support, so a cancelled ctx abandons the send without aborting
// the SMTP session already in flight.
func (s *Service) SendInvitation(ctx context.Context, msg Invitation) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data := invitationData{
		InviterName:   msg.InviterName,
		WorkspaceName: msg.WorkspaceName,
		Role:          msg.Role,
		AcceptURL:     s.acceptURL(msg.Token),
		Expires:       msg.ExpiresAt.UTC().Format("January 2, 2006"),
	}
	html, err := renderTemplate(invitationTemplate, data)
	if err != nil {
		return fmt.Errorf("render invitation template: %w", err)
	}
	text := fmt.Sprintf("%s invited you to join %s as a %s.\n\nAccept the invitation: %s\n\nThis invitation expires on %s.\n",
		data.InviterName, data.WorkspaceName, data.Role, data.AcceptURL, data.Expires)

	m := s.newMessage(msg.To, fmt.Sprintf("%s invited you to %s", msg.InviterName, msg.WorkspaceName))
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)
	return s.deliver(ctx, m)
}

func (s *Service) acceptURL(token string) string {
	base := strings.TrimRight(s.config.AppURL, "/")
	return base + "/invitations/accept?token=" + url.QueryEscape(token)
}

func (s *Service) newMessage(to, subject string) *gomail.Message {
	m := gomail.NewMessage(gomail.SetCharset("UTF-8"), gomail.SetEncoding(gomail.Unencoded))
	if s.config.FromName != "" {
		m.SetAddressHeader("From", s.config.From, s.config.FromName)
	} else {
		m.SetHeader("From", s.config.From)
	}
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	return m
}

func (s *Service) deliver(ctx context.Context, m *gomail.Message) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.send(m) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("send email: %w", err)
		}
		return nil
	}
}

var invitationTemplate = template.Must(template.New("invitation").Parse(invitationEmailTemplate))

func renderTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const invitationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Join {{.WorkspaceName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #3B82F6; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #3B82F6; }
    </style>
</head>
<body>
    <h2>{{.InviterName}} invited you to {{.WorkspaceName}}</h2>

    <p>You have been invited to join as a <strong>{{.Role}}</strong>.</p>

    <p>
        <a href="{{.AcceptURL}}" class="button">Accept invitation</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.AcceptURL}}</p>

    <p>This invitation expires on {{.Expires}}.</p>

    <div class="footer">
        <p>If you were not expecting this invitation, you can ignore this email.</p>
    </div>
</body>
</html>`
