package models

import (
	"testing"
	"time"
)

func TestServiceStatusKnown(t *testing.T) {
	tests := []struct {
		status ServiceStatus
		want   bool
	}{
		{StatusUnknown, false},
		{StatusHealthy, true},
		{StatusUnhealthy, true},
		{ServiceStatus(""), false},
	}
	for _, tt := range tests {
		if got := tt.status.Known(); got != tt.want {
			t.Errorf("%q.Known() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestServiceDefinitionIntervalAndTimeout(t *testing.T) {
	d := ServiceDefinition{}
	if got := d.Interval(time.Minute); got != time.Minute {
		t.Errorf("Interval() = %v, want fallback 1m", got)
	}
	if got := d.Timeout(5 * time.Second); got != 5*time.Second {
		t.Errorf("Timeout() = %v, want fallback 5s", got)
	}

	d.IntervalSeconds = 30
	d.TimeoutSeconds = 2
	if got := d.Interval(time.Minute); got != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", got)
	}
	if got := d.Timeout(5 * time.Second); got != 2*time.Second {
		t.Errorf("Timeout() = %v, want 2s", got)
	}
}

func TestServiceStateCloneIsDeep(t *testing.T) {
	now := time.Now()
	s := ServiceState{
		Definition: ServiceDefinition{Name: "api", Headers: map[string]string{"X-Key": "a"}},
		Status:     StatusHealthy,
		LastCheck:  &now,
		History:    []HealthCheckResult{{StatusCode: 200, Success: true}},
	}

	c := s.Clone()
	c.Definition.Headers["X-Key"] = "b"
	c.History[0].StatusCode = 500
	*c.LastCheck = now.Add(time.Hour)

	if s.Definition.Headers["X-Key"] != "a" {
		t.Error("clone shares headers map with original")
	}
	if s.History[0].StatusCode != 200 {
		t.Error("clone shares history slice with original")
	}
	if !s.LastCheck.Equal(now) {
		t.Error("clone shares LastCheck with original")
	}
}

func TestNotificationChannelWants(t *testing.T) {
	ch := NotificationChannel{Enabled: true, Events: ChannelEvents{OnDown: true}}
	if !ch.Wants(StatusUnhealthy) {
		t.Error("Wants(unhealthy) = false, want true for onDown channel")
	}
	if ch.Wants(StatusHealthy) {
		t.Error("Wants(healthy) = true, want false for onDown-only channel")
	}
	if ch.Wants(StatusUnknown) {
		t.Error("Wants(unknown) = true, want false")
	}

	ch.Enabled = false
	if ch.Wants(StatusUnhealthy) {
		t.Error("disabled channel should not want any event")
	}
}
