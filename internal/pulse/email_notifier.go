package pulse

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
)

// Compile-time interface guard.
var _ Notifier = (*EmailNotifier)(nil)

const defaultSMTPPort = 587

var (
	downText = template.Must(template.New("down.txt").Parse(
		`{{.Title}}

{{.Message}}

Service: {{.ServiceName}}
Error:   {{if .Error}}{{.Error}}{{else}}(none reported){{end}}
Time:    {{.Timestamp.Format "2006-01-02 15:04:05 MST"}}
`))
	upText = template.Must(template.New("up.txt").Parse(
		`{{.Title}}

{{.Message}}

Service: {{.ServiceName}}
Time:    {{.Timestamp.Format "2006-01-02 15:04:05 MST"}}
`))
	downHTML = htmltemplate.Must(htmltemplate.New("down.html").Parse(
		`<html><body>
<h2 style="color:#c0392b">{{.Title}}</h2>
<p>{{.Message}}</p>
<table>
<tr><td><b>Service</b></td><td>{{.ServiceName}}</td></tr>
<tr><td><b>Error</b></td><td>{{if .Error}}{{.Error}}{{else}}(none reported){{end}}</td></tr>
<tr><td><b>Time</b></td><td>{{.Timestamp.Format "2006-01-02 15:04:05 MST"}}</td></tr>
</table>
<p style="color:#888">{{.Product}}</p>
</body></html>`))
	upHTML = htmltemplate.Must(htmltemplate.New("up.html").Parse(
		`<html><body>
<h2 style="color:#27ae60">{{.Title}}</h2>
<p>{{.Message}}</p>
<table>
<tr><td><b>Service</b></td><td>{{.ServiceName}}</td></tr>
<tr><td><b>Time</b></td><td>{{.Timestamp.Format "2006-01-02 15:04:05 MST"}}</td></tr>
</table>
<p style="color:#888">{{.Product}}</p>
</body></html>`))
)

// renderedEmail is a notification rendered for mail delivery.
type renderedEmail struct {
	Subject string
	Text    string
	HTML    string
}

// renderEmail renders the subject and both bodies for n. Down alerts carry the
// error detail, recoveries only the time.
func renderEmail(n *Notification) (*renderedEmail, error) {
	textTmpl, htmlTmpl := upText, upHTML
	if n.Down() {
		textTmpl, htmlTmpl = downText, downHTML
	}
	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, n); err != nil {
		return nil, fmt.Errorf("render text body: %w", err)
	}
	if err := htmlTmpl.Execute(&html, n); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}
	return &renderedEmail{
		Subject: fmt.Sprintf("[%s] %s", n.Product, n.Title),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// EmailNotifier delivers notifications over SMTP.
type EmailNotifier struct {
	cfg EmailConfig
}

// NewEmailNotifier creates an SMTP notifier. A zero port means 587.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = defaultSMTPPort
	}
	return &EmailNotifier{cfg: cfg}
}

// Type returns the notifier type identifier.
func (e *EmailNotifier) Type() models.ChannelType {
	return models.ChannelTypeEmail
}

// Notify renders n and sends it to every configured recipient.
func (e *EmailNotifier) Notify(ctx context.Context, n *Notification) error {
	if len(e.cfg.To) == 0 {
		return errors.New("email: no recipients configured")
	}
	rendered, err := renderEmail(n)
	if err != nil {
		return err
	}
	msg, err := e.buildMessage(rendered)
	if err != nil {
		return err
	}
	return e.send(ctx, msg)
}

// buildMessage assembles a multipart/alternative message.
func (e *EmailNotifier) buildMessage(r *renderedEmail) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=\"utf-8\"", r.Text},
		{"text/html; charset=\"utf-8\"", r.HTML},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("create mime part: %w", err)
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("write mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mime writer: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", r.Subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n", mw.Boundary())
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// send delivers msg, upgrading with STARTTLS when the server offers it and
// authenticating when credentials are configured.
func (e *EmailNotifier) send(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(e.cfg.SMTPHost, strconv.Itoa(e.cfg.SMTPPort))
	dialer := &net.Dialer{Timeout: budget(ctx, fallbackTimeout)}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	client, err := smtp.NewClient(conn, e.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName:         e.cfg.SMTPHost,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: e.cfg.SkipVerify, //nolint:gosec // G402: opt-in for private relays
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if e.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}

	if err := client.Mail(extractAddress(e.cfg.From)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range e.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return client.Quit()
}

// extractAddress returns the bare address from "Name <addr@example.com>".
func extractAddress(address string) string {
	if start := strings.Index(address, "<"); start != -1 {
		if end := strings.Index(address, ">"); end > start {
			return address[start+1 : end]
		}
	}
	return address
}
