package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/pulsewatch/internal/store"
	"github.com/HerbHall/pulsewatch/pkg/models"
)

func newTestChannelStore(t *testing.T) (*ChannelStore, store.Gateway) {
	t.Helper()
	gw, err := store.NewFileStore("", 10)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return NewChannelStore(gw, nil), gw
}

func webhookChannel(url string, onUp, onDown bool) *models.NotificationChannel {
	cfg, _ := json.Marshal(WebhookConfig{URL: url})
	return &models.NotificationChannel{
		Name:    "hook",
		Type:    models.ChannelTypeWebhook,
		Config:  cfg,
		Events:  models.ChannelEvents{OnUp: onUp, OnDown: onDown},
		Enabled: true,
	}
}

func TestChannelStore_CRUD(t *testing.T) {
	ctx := context.Background()
	cs, gw := newTestChannelStore(t)

	ch := webhookChannel("https://example.com/hook", true, true)
	if err := cs.Create(ctx, ch); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ch.ID == "" || ch.CreatedAt.IsZero() {
		t.Fatalf("Create did not assign ID and timestamps: %+v", ch)
	}

	got, err := cs.Get(ctx, ch.ID)
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if got.Name != "hook" {
		t.Errorf("Name = %q, want hook", got.Name)
	}

	// A fresh store over the same gateway sees the persisted document.
	reloaded := NewChannelStore(gw, nil)
	list, err := reloaded.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("reloaded List = %v, %v; want one channel", list, err)
	}

	upd := *got
	upd.Name = "renamed"
	upd.Enabled = false
	if err := cs.Update(ctx, &upd); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = cs.Get(ctx, ch.ID)
	if got.Name != "renamed" || got.Enabled {
		t.Errorf("after update got %+v", got)
	}
	if !got.CreatedAt.Equal(ch.CreatedAt) {
		t.Error("Update changed CreatedAt")
	}

	if err := cs.Delete(ctx, ch.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := cs.Get(ctx, ch.ID); got != nil {
		t.Error("channel still present after Delete")
	}
	if err := cs.Delete(ctx, ch.ID); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("second Delete error = %v, want ErrChannelNotFound", err)
	}
	missing := webhookChannel("https://example.com/hook", true, true)
	missing.ID = "nope"
	if err := cs.Update(ctx, missing); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrChannelNotFound", err)
	}
}

func TestChannelStore_Validation(t *testing.T) {
	ctx := context.Background()
	cs, _ := newTestChannelStore(t)

	emailCfg := func(c EmailConfig) json.RawMessage {
		raw, _ := json.Marshal(c)
		return raw
	}

	tests := []struct {
		name string
		ch   models.NotificationChannel
	}{
		{"missing name", models.NotificationChannel{Type: models.ChannelTypeWebhook, Config: json.RawMessage(`{"url":"https://x.test"}`)}},
		{"unknown type", models.NotificationChannel{Name: "x", Type: "pager", Config: json.RawMessage(`{}`)}},
		{"webhook without url", models.NotificationChannel{Name: "x", Type: models.ChannelTypeWebhook, Config: json.RawMessage(`{}`)}},
		{"webhook bad url", models.NotificationChannel{Name: "x", Type: models.ChannelTypeWebhook, Config: json.RawMessage(`{"url":"not a url"}`)}},
		{"config not json", models.NotificationChannel{Name: "x", Type: models.ChannelTypeWebhook, Config: json.RawMessage(`nope`)}},
		{"email without recipients", models.NotificationChannel{Name: "x", Type: models.ChannelTypeEmail,
			Config: emailCfg(EmailConfig{SMTPHost: "mail.example.com", From: "a@example.com"})}},
		{"email bad recipient", models.NotificationChannel{Name: "x", Type: models.ChannelTypeEmail,
			Config: emailCfg(EmailConfig{SMTPHost: "mail.example.com", From: "a@example.com", To: []string{"nobody"}})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := tt.ch
			if err := cs.Create(ctx, &ch); !errors.Is(err, ErrInvalidChannel) {
				t.Errorf("Create error = %v, want ErrInvalidChannel", err)
			}
		})
	}

	ok := models.NotificationChannel{Name: "mail", Type: models.ChannelTypeEmail,
		Config: emailCfg(EmailConfig{SMTPHost: "mail.example.com", From: "a@example.com", To: []string{"ops@example.com"}})}
	if err := cs.Create(ctx, &ok); err != nil {
		t.Errorf("Create(valid email) error = %v", err)
	}
}

func TestChannelStore_MarkTriggered(t *testing.T) {
	ctx := context.Background()
	cs, _ := newTestChannelStore(t)
	ch := webhookChannel("https://example.com/hook", true, true)
	if err := cs.Create(ctx, ch); err != nil {
		t.Fatalf("Create: %v", err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := cs.MarkTriggered(ctx, ch.ID, at); err != nil {
		t.Fatalf("MarkTriggered: %v", err)
	}
	got, _ := cs.Get(ctx, ch.ID)
	if got.LastTriggered == nil || !got.LastTriggered.Equal(at) {
		t.Errorf("LastTriggered = %v, want %v", got.LastTriggered, at)
	}

	// Update keeps the trigger time.
	upd := *got
	upd.LastTriggered = nil
	_ = cs.Update(ctx, &upd)
	got, _ = cs.Get(ctx, ch.ID)
	if got.LastTriggered == nil {
		t.Error("Update cleared LastTriggered")
	}
}
