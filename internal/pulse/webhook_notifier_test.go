package pulse

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
)

func downNotification() *Notification {
	return NewNotification(models.TransitionEvent{
		ServiceName: "api",
		Previous:    models.StatusHealthy,
		Current:     models.StatusUnhealthy,
		Error:       "connection refused",
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}, "Pulsewatch")
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		url  string
		want webhookProvider
	}{
		{"https://discord.com/api/webhooks/123/abc", providerDiscord},
		{"https://discordapp.com/api/webhooks/123/abc", providerDiscord},
		{"https://ptb.discord.com/api/webhooks/1/x", providerDiscord},
		{"https://discord.com/channels/1", providerGeneric},
		{"https://relay.example/discord.com/api/webhooks/1/x", providerDiscord},
		{"HTTPS://HOOKS.SLACK.COM/services/T000/B000/XXX", providerSlack},
		{"https://hooks.slack.com/services/T000/B000/XXX", providerSlack},
		{"https://mattermost.example.org/hooks/abc123", providerMattermost},
		{"https://acme.webhook.office.com/webhookb2/xyz", providerTeams},
		{"https://outlook.office.com/webhook/xyz", providerTeams},
		{"https://example.com/alerts", providerGeneric},
		{"https://example.com/hooks/abc", providerGeneric},
		{"::not a url", providerGeneric},
	}
	for _, tt := range tests {
		if got := detectProvider(tt.url); got != tt.want {
			t.Errorf("detectProvider(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestWebhookPayload_Shapes(t *testing.T) {
	n := downNotification()

	discord := webhookPayload(providerDiscord, n)
	if _, ok := discord["content"]; !ok {
		t.Error("discord payload missing content")
	}
	if _, ok := discord["text"]; ok {
		t.Error("discord payload has text, want content only")
	}

	slack := webhookPayload(providerSlack, n)
	if _, ok := slack["text"]; !ok {
		t.Error("slack payload missing text")
	}
	if _, ok := slack["content"]; ok {
		t.Error("slack payload has content, want text only")
	}

	teams := webhookPayload(providerTeams, n)
	if teams["title"] != n.Title || teams["text"] != n.Message {
		t.Errorf("teams payload = %v, want title and text", teams)
	}

	generic := webhookPayload(providerGeneric, n)
	for _, key := range []string{"content", "text", "title", "message", "service", "status", "timestamp", "error"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("generic payload missing %q", key)
		}
	}
	if generic["error"] != "connection refused" {
		t.Errorf("generic error = %v, want connection refused", generic["error"])
	}
}

func TestWebhookNotifier_Notify_Success(t *testing.T) {
	var received map[string]any
	var headers http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Team": "ops"},
	})
	if err := notifier.Notify(context.Background(), downNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received["service"] != "api" {
		t.Errorf("service = %v, want api", received["service"])
	}
	if received["status"] != string(models.StatusUnhealthy) {
		t.Errorf("status = %v, want unhealthy", received["status"])
	}
	if headers.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", headers.Get("Content-Type"))
	}
	if headers.Get("X-Team") != "ops" {
		t.Errorf("X-Team = %q, want ops", headers.Get("X-Team"))
	}
	if headers.Get("X-Signature") != "" {
		t.Error("X-Signature set without a secret")
	}
}

func TestWebhookNotifier_Notify_HMACSignature(t *testing.T) {
	secret := "test-secret-key"
	var receivedSig string
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSig = r.Header.Get("X-Signature")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Secret: secret})
	if err := notifier.Notify(context.Background(), downNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(receivedBody)
	if want := hex.EncodeToString(mac.Sum(nil)); receivedSig != want {
		t.Errorf("X-Signature = %q, want %q", receivedSig, want)
	}
}

func TestWebhookNotifier_Notify_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(WebhookConfig{URL: srv.URL}).Notify(context.Background(), downNotification())
	if err == nil {
		t.Error("Notify() error = nil, want error for 502")
	}
}

func TestNewNotification(t *testing.T) {
	down := downNotification()
	if down.Title != "api is down" {
		t.Errorf("down Title = %q", down.Title)
	}
	if down.Message != "Service api is unhealthy: connection refused" {
		t.Errorf("down Message = %q", down.Message)
	}

	up := NewNotification(models.TransitionEvent{
		ServiceName: "api",
		Previous:    models.StatusUnhealthy,
		Current:     models.StatusHealthy,
	}, "Pulsewatch")
	if up.Down() {
		t.Error("recovery notification reports Down() = true")
	}
	if up.Title != "api is back up" {
		t.Errorf("up Title = %q", up.Title)
	}
}
