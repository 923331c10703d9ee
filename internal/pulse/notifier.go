package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
)

// Notification is a rendered transition ready for delivery.
type Notification struct {
	Product     string
	Title       string
	Message     string
	ServiceName string
	Status      models.ServiceStatus
	Previous    models.ServiceStatus
	Error       string
	Timestamp   time.Time
}

// Down reports whether the notification is for a service going unhealthy.
func (n *Notification) Down() bool {
	return n.Status == models.StatusUnhealthy
}

// NewNotification renders a transition into a notification for product.
func NewNotification(t models.TransitionEvent, product string) *Notification {
	n := &Notification{
		Product:     product,
		ServiceName: t.ServiceName,
		Status:      t.Current,
		Previous:    t.Previous,
		Error:       t.Error,
		Timestamp:   t.Timestamp.UTC(),
	}
	if n.Down() {
		n.Title = fmt.Sprintf("%s is down", t.ServiceName)
		n.Message = fmt.Sprintf("Service %s is unhealthy", t.ServiceName)
		if t.Error != "" {
			n.Message += ": " + t.Error
		}
	} else {
		n.Title = fmt.Sprintf("%s is back up", t.ServiceName)
		n.Message = fmt.Sprintf("Service %s has recovered", t.ServiceName)
	}
	return n
}

// Notifier delivers notifications through a specific channel type.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
	// Type returns the channel type the notifier serves.
	Type() models.ChannelType
}

// WebhookConfig holds configuration for webhook notification delivery.
type WebhookConfig struct {
	URL     string            `json:"url" validate:"required,url"`
	Secret  string            `json:"secret,omitempty"` //nolint:gosec // G101: config field name, not a credential
	Headers map[string]string `json:"headers,omitempty"`
}

// EmailConfig holds configuration for SMTP notification delivery.
type EmailConfig struct {
	SMTPHost   string   `json:"smtp_host" validate:"required,hostname|ip"`
	SMTPPort   int      `json:"smtp_port" validate:"gte=0,lte=65535"`
	Username   string   `json:"username,omitempty"`
	Password   string   `json:"password,omitempty"` //nolint:gosec // G101: config field name, not a credential
	From       string   `json:"from" validate:"required"`
	To         []string `json:"to" validate:"required,min=1,dive,email"`
	SkipVerify bool     `json:"skip_verify,omitempty"`
}

// buildNotifier decodes a channel's config into its notifier.
func buildNotifier(ch *models.NotificationChannel) (Notifier, error) {
	switch ch.Type {
	case models.ChannelTypeWebhook:
		var cfg WebhookConfig
		if err := json.Unmarshal(ch.Config, &cfg); err != nil {
			return nil, fmt.Errorf("decode webhook config: %w", err)
		}
		return NewWebhookNotifier(cfg), nil
	case models.ChannelTypeEmail:
		var cfg EmailConfig
		if err := json.Unmarshal(ch.Config, &cfg); err != nil {
			return nil, fmt.Errorf("decode email config: %w", err)
		}
		return NewEmailNotifier(cfg), nil
	default:
		return nil, fmt.Errorf("unknown channel type %q", ch.Type)
	}
}
