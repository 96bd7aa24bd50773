package email

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"gopkg.in/gomail.v2"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type capturedMail struct {
	from []string
	to   []string
	body string
}

func newCapturingService(config Config) (*Service, *capturedMail) {
	svc := NewService(config)
	captured := &capturedMail{}
	svc.send = func(m *gomail.Message) error {
		var buf bytes.Buffer
		if _, err := m.WriteTo(&buf); err != nil {
			return err
		}
		captured.from = m.GetHeader("From")
		captured.to = m.GetHeader("To")
		captured.body = buf.String()
		return nil
	}
	return svc, captured
}

func TestSendInvitation(t *testing.T) {
	svc, captured := newCapturingService(Config{
		Host:     "smtp.example.com",
		Port:     "587",
		From:     "noreply@example.com",
		FromName: "Lattices",
		AppURL:   "https://app.example.com/",
	})

	err := svc.SendInvitation(context.Background(), Invitation{
		To:            "bob@example.com",
		InviterName:   "Alice",
		WorkspaceName: "Design Team",
		Role:          "member",
		Token:         "abc+123",
		ExpiresAt:     time.Date(2026, time.March, 9, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("SendInvitation failed: %v", err)
	}

	if svc.dialer.Host != "smtp.example.com" || svc.dialer.Port != 587 {
		t.Errorf("unexpected server %s:%d", svc.dialer.Host, svc.dialer.Port)
	}
	if len(captured.from) != 1 || !strings.Contains(captured.from[0], "<noreply@example.com>") {
		t.Errorf("unexpected sender %v", captured.from)
	}
	if len(captured.to) != 1 || captured.to[0] != "bob@example.com" {
		t.Errorf("unexpected recipients %v", captured.to)
	}
	for _, want := range []string{
		"Subject: Alice invited you to Design Team",
		`"Lattices" <noreply@example.com>`,
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Type: text/html; charset=UTF-8",
		"https://app.example.com/invitations/accept?token=abc%2B123",
		"<strong>member</strong>",
		"March 9, 2026",
	} {
		if !strings.Contains(captured.body, want) {
			t.Errorf("message should contain %q", want)
		}
	}
}

func TestSendInvitationNotConfigured(t *testing.T) {
	svc, captured := newCapturingService(Config{})
	err := svc.SendInvitation(context.Background(), Invitation{To: "bob@example.com"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if captured.body != "" {
		t.Error("nothing should be sent")
	}
}

func TestSendInvitationCancelled(t *testing.T) {
	svc, captured := newCapturingService(Config{Host: "h", Port: "25", From: "f@example.com"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.SendInvitation(ctx, Invitation{To: "bob@example.com"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if captured.body != "" {
		t.Error("nothing should be sent")
	}
}

func TestSendInvitationWrapsTransportError(t *testing.T) {
	svc := NewService(Config{Host: "h", Port: "25", From: "f@example.com"})
	refused := errors.New("connection refused")
	svc.send = func(*gomail.Message) error { return refused }

	err := svc.SendInvitation(context.Background(), Invitation{To: "bob@example.com"})
	if !errors.Is(err, refused) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestSendInvitationDialsSMTPServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	svc := NewService(Config{Host: "127.0.0.1", Port: port, From: "f@example.com"})
	err = svc.SendInvitation(context.Background(), Invitation{To: "bob@example.com"})
	if err == nil || !strings.HasPrefix(err.Error(), "send email:") {
		t.Fatalf("expected a dial failure from the default transport, got %v", err)
	}
}

func TestServiceRejectsBadPort(t *testing.T) {
	svc := NewService(Config{Host: "h", Port: "smtp", From: "f@example.com"})
	if svc.IsConfigured() {
		t.Error("a non-numeric port should leave the service unconfigured")
	}
}

func TestRenderInvitationEscapesNames(t *testing.T) {
	html, err := renderTemplate(invitationTemplate, invitationData{
		InviterName:   "<script>x</script>",
		WorkspaceName: "W",
		AcceptURL:     "https://example.com/accept",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(html, "<script>x</script>") {
		t.Error("inviter name should be escaped")
	}
}
