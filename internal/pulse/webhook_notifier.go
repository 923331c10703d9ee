package pulse

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HerbHall/pulsewatch/internal/version"
	"github.com/HerbHall/pulsewatch/pkg/models"
)

// Compile-time interface guard.
var _ Notifier = (*WebhookNotifier)(nil)

// webhookProvider identifies a chat service by its webhook URL.
type webhookProvider int

const (
	providerGeneric webhookProvider = iota
	providerDiscord
	providerSlack
	providerMattermost
	providerTeams
)

// providerMarkers lists, per provider, URL substrings that must all be present.
// The first matching entry wins.
var providerMarkers = []struct {
	provider webhookProvider
	all      []string
}{
	{providerDiscord, []string{"discord.com/api/webhooks"}},
	{providerDiscord, []string{"discordapp.com/api/webhooks"}},
	{providerSlack, []string{"hooks.slack.com"}},
	{providerMattermost, []string{"mattermost", "/hooks/"}},
	{providerTeams, []string{"webhook.office.com"}},
	{providerTeams, []string{"outlook.office.com"}},
}

// detectProvider maps a webhook URL to the provider whose payload shape it
// expects by substring match anywhere in the URL, so relayed URLs that embed
// a provider address are recognized too.
func detectProvider(raw string) webhookProvider {
	lower := strings.ToLower(raw)
	for _, m := range providerMarkers {
		matched := true
		for _, sub := range m.all {
			if !strings.Contains(lower, sub) {
				matched = false
				break
			}
		}
		if matched {
			return m.provider
		}
	}
	return providerGeneric
}

// webhookPayload builds the JSON body for provider.
func webhookPayload(p webhookProvider, n *Notification) map[string]any {
	text := n.Title + "\n" + n.Message
	switch p {
	case providerDiscord:
		return map[string]any{
			"content":  "**" + n.Title + "**\n" + n.Message,
			"username": n.Product,
		}
	case providerSlack:
		return map[string]any{"text": "*" + n.Title + "*\n" + n.Message}
	case providerMattermost:
		return map[string]any{"text": "#### " + text, "username": n.Product}
	case providerTeams:
		return map[string]any{"title": n.Title, "text": n.Message}
	default:
		return map[string]any{
			"content":   text,
			"text":      text,
			"title":     n.Title,
			"message":   n.Message,
			"service":   n.ServiceName,
			"status":    n.Status,
			"timestamp": n.Timestamp.Format(time.RFC3339),
			"error":     n.Error,
		}
	}
}

// WebhookNotifier delivers notifications via HTTP POST to a configured URL.
type WebhookNotifier struct {
	client   *http.Client
	cfg      WebhookConfig
	provider webhookProvider
}

// NewWebhookNotifier creates a new webhook notifier with the given config.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		client:   &http.Client{Timeout: 10 * time.Second},
		cfg:      cfg,
		provider: detectProvider(cfg.URL),
	}
}

// Notify posts the provider-shaped payload to the configured URL.
func (w *WebhookNotifier) Notify(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(webhookPayload(w.provider, n))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Pulsewatch-Webhook/"+version.Short())

	// Add HMAC-SHA256 signature if secret is configured.
	if w.cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(w.cfg.Secret))
		mac.Write(body)
		req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST %s: %w", w.cfg.URL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook POST %s: status %d", w.cfg.URL, resp.StatusCode)
	}
	return nil
}

// Type returns the notifier type identifier.
func (w *WebhookNotifier) Type() models.ChannelType {
	return models.ChannelTypeWebhook
}
