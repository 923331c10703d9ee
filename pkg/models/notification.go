package models

import (
	"encoding/json"
	"time"
)

// ChannelType identifies how a notification channel delivers alerts.
type ChannelType string

const (
	ChannelTypeWebhook ChannelType = "webhook"
	ChannelTypeEmail   ChannelType = "email"
)

// ChannelEvents filters which transitions a channel receives.
type ChannelEvents struct {
	OnUp   bool `json:"on_up"`
	OnDown bool `json:"on_down"`
}

// NotificationChannel is a configured alert destination.
type NotificationChannel struct {
	ID            string          `json:"id"`
	Name          string          `json:"name" validate:"required,max=128"`
	Type          ChannelType     `json:"type" validate:"required,oneof=webhook email"`
	Config        json.RawMessage `json:"config" validate:"required"`
	Events        ChannelEvents   `json:"events"`
	Enabled       bool            `json:"enabled"`
	LastTriggered *time.Time      `json:"last_triggered,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Wants reports whether the channel subscribes to transitions into status.
func (c *NotificationChannel) Wants(status ServiceStatus) bool {
	if !c.Enabled {
		return false
	}
	switch status {
	case StatusHealthy:
		return c.Events.OnUp
	case StatusUnhealthy:
		return c.Events.OnDown
	default:
		return false
	}
}
