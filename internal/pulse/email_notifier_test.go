package pulse

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
)

func TestRenderEmail(t *testing.T) {
	down, err := renderEmail(downNotification())
	if err != nil {
		t.Fatalf("renderEmail(down): %v", err)
	}
	if down.Subject != "[Pulsewatch] api is down" {
		t.Errorf("Subject = %q", down.Subject)
	}
	for _, body := range []string{down.Text, down.HTML} {
		if !strings.Contains(body, "connection refused") {
			t.Errorf("down body missing error detail: %q", body)
		}
		if !strings.Contains(body, "2026-03-01 12:00:00") {
			t.Errorf("down body missing timestamp: %q", body)
		}
	}

	up, err := renderEmail(NewNotification(models.TransitionEvent{
		ServiceName: "api",
		Previous:    models.StatusUnhealthy,
		Current:     models.StatusHealthy,
		Error:       "stale error",
		Timestamp:   time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
	}, "Pulsewatch"))
	if err != nil {
		t.Fatalf("renderEmail(up): %v", err)
	}
	if up.Subject != "[Pulsewatch] api is back up" {
		t.Errorf("Subject = %q", up.Subject)
	}
	if strings.Contains(up.Text, "stale error") || strings.Contains(up.HTML, "stale error") {
		t.Error("recovery body includes error detail")
	}
	if !strings.Contains(up.Text, "2026-03-01 12:05:00") {
		t.Errorf("up body missing timestamp: %q", up.Text)
	}
}

func TestRenderEmail_EscapesHTML(t *testing.T) {
	n := downNotification()
	n.Error = "<script>alert(1)</script>"
	r, err := renderEmail(n)
	if err != nil {
		t.Fatalf("renderEmail: %v", err)
	}
	if strings.Contains(r.HTML, "<script>") {
		t.Error("HTML body contains unescaped script tag")
	}
}

// fakeSMTP is a minimal SMTP server that accepts one message per connection.
type fakeSMTP struct {
	ln net.Listener

	mu   sync.Mutex
	from string
	rcpt []string
	data string
}

func newFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeSMTP{ln: ln}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTP) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	reply("220 fake.smtp ready")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(cmd)
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250 fake.smtp")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			s.mu.Lock()
			s.from = strings.Trim(cmd[len("MAIL FROM:"):], "<> ")
			s.mu.Unlock()
			reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			s.mu.Lock()
			s.rcpt = append(s.rcpt, strings.Trim(cmd[len("RCPT TO:"):], "<> "))
			s.mu.Unlock()
			reply("250 OK")
		case upper == "DATA":
			reply("354 end with <CRLF>.<CRLF>")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.data = b.String()
			s.mu.Unlock()
			reply("250 queued")
		case upper == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func TestEmailNotifier_Send(t *testing.T) {
	srv := newFakeSMTP(t)
	notifier := NewEmailNotifier(EmailConfig{
		SMTPHost: "127.0.0.1",
		SMTPPort: srv.port(),
		From:     "Pulsewatch <alerts@example.com>",
		To:       []string{"ops@example.com", "oncall@example.com"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := notifier.Notify(ctx, downNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.from != "alerts@example.com" {
		t.Errorf("MAIL FROM = %q, want bare address", srv.from)
	}
	if len(srv.rcpt) != 2 {
		t.Errorf("RCPT count = %d, want 2", len(srv.rcpt))
	}
	for _, want := range []string{
		"Subject: [Pulsewatch] api is down",
		"multipart/alternative",
		"text/plain",
		"text/html",
		"connection refused",
	} {
		if !strings.Contains(srv.data, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestEmailNotifier_Failures(t *testing.T) {
	n := NewEmailNotifier(EmailConfig{SMTPHost: "127.0.0.1", SMTPPort: 1, From: "a@example.com"})
	if err := n.Notify(context.Background(), downNotification()); err == nil {
		t.Error("Notify() with no recipients error = nil, want error")
	}

	n = NewEmailNotifier(EmailConfig{SMTPHost: "127.0.0.1", SMTPPort: 1, From: "a@example.com", To: []string{"b@example.com"}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.Notify(ctx, downNotification()); err == nil {
		t.Error("Notify() to closed port error = nil, want error")
	}
}

func TestNewEmailNotifier_DefaultPort(t *testing.T) {
	n := NewEmailNotifier(EmailConfig{SMTPHost: "mail.example.com"})
	if n.cfg.SMTPPort != defaultSMTPPort {
		t.Errorf("SMTPPort = %d, want %d", n.cfg.SMTPPort, defaultSMTPPort)
	}
}
