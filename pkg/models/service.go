package models

import "time"

// Protocol selects the checker used to probe a service.
type Protocol string

const (
	ProtocolHTTP    Protocol = "http"
	ProtocolTCP     Protocol = "tcp"
	ProtocolMySQL   Protocol = "mysql"
	ProtocolMongoDB Protocol = "mongodb"
	ProtocolICMP    Protocol = "icmp"
)

// Protocols lists every supported protocol.
var Protocols = []Protocol{ProtocolHTTP, ProtocolTCP, ProtocolMySQL, ProtocolMongoDB, ProtocolICMP}

// ServiceStatus is the derived health of a monitored service.
type ServiceStatus string

const (
	StatusUnknown   ServiceStatus = "unknown"
	StatusHealthy   ServiceStatus = "healthy"
	StatusUnhealthy ServiceStatus = "unhealthy"
)

// Known reports whether the status came from at least one completed check.
func (s ServiceStatus) Known() bool {
	return s == StatusHealthy || s == StatusUnhealthy
}

// ServiceDefinition describes one monitored target. Name is the identity and never changes.
type ServiceDefinition struct {
	Name                 string            `json:"name" bson:"_id" validate:"required,max=128"`
	Protocol             Protocol          `json:"protocol" bson:"protocol" validate:"required,oneof=http tcp mysql mongodb icmp"`
	Target               string            `json:"target" bson:"target" validate:"required"`
	Headers              map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	IgnoreCertValidation bool              `json:"ignore_cert_validation" bson:"ignore_cert_validation"`
	IntervalSeconds      int               `json:"interval_seconds,omitempty" bson:"interval_seconds,omitempty" validate:"gte=0"`
	TimeoutSeconds       int               `json:"timeout_seconds,omitempty" bson:"timeout_seconds,omitempty" validate:"gte=0"`
	Enabled              bool              `json:"enabled" bson:"enabled"`
	CreatedAt            time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at" bson:"updated_at"`
}

// Interval returns the service's polling interval, falling back to def.
func (d *ServiceDefinition) Interval(def time.Duration) time.Duration {
	if d.IntervalSeconds > 0 {
		return time.Duration(d.IntervalSeconds) * time.Second
	}
	return def
}

// Timeout returns the service's probe timeout, falling back to def.
func (d *ServiceDefinition) Timeout(def time.Duration) time.Duration {
	if d.TimeoutSeconds > 0 {
		return time.Duration(d.TimeoutSeconds) * time.Second
	}
	return def
}

// Clone returns a deep copy of the definition.
func (d ServiceDefinition) Clone() ServiceDefinition {
	if d.Headers != nil {
		h := make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			h[k] = v
		}
		d.Headers = h
	}
	return d
}

// HealthCheckResult is the outcome of a single probe.
// StatusCode is protocol specific: the HTTP status for http, 1 for a successful
// connection or ping on the other protocols, and 0 whenever the probe failed
// before the target answered.
type HealthCheckResult struct {
	StatusCode     int        `json:"status_code" bson:"status_code"`
	Success        bool       `json:"success" bson:"success"`
	ResponseTimeMs float64    `json:"response_time_ms" bson:"response_time_ms"`
	Timestamp      time.Time  `json:"timestamp" bson:"timestamp"`
	Error          string     `json:"error,omitempty" bson:"error,omitempty"`
	Payload        string     `json:"payload,omitempty" bson:"payload,omitempty"`
	SSLExpiry      *time.Time `json:"ssl_expiry,omitempty" bson:"ssl_expiry,omitempty"`
}

// ServiceState is the live view of a service: its definition, status, and bounded history.
type ServiceState struct {
	Definition            ServiceDefinition   `json:"definition"`
	Status                ServiceStatus       `json:"status"`
	LastCheck             *time.Time          `json:"last_check,omitempty"`
	History               []HealthCheckResult `json:"history"`
	UptimePercent         float64             `json:"uptime_percent"`
	AverageResponseTimeMs float64             `json:"average_response_time_ms"`
	SSLExpiry             *time.Time          `json:"ssl_expiry,omitempty"`
}

// Clone returns a deep copy that shares no memory with s.
func (s *ServiceState) Clone() ServiceState {
	out := *s
	out.Definition = s.Definition.Clone()
	out.History = append([]HealthCheckResult(nil), s.History...)
	if s.LastCheck != nil {
		t := *s.LastCheck
		out.LastCheck = &t
	}
	if s.SSLExpiry != nil {
		t := *s.SSLExpiry
		out.SSLExpiry = &t
	}
	return out
}

// TransitionEvent is published when a service moves between healthy and unhealthy.
type TransitionEvent struct {
	ServiceName string            `json:"service_name"`
	Previous    ServiceStatus     `json:"previous"`
	Current     ServiceStatus     `json:"current"`
	Error       string            `json:"error,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Result      HealthCheckResult `json:"result"`
}

// Stats aggregates the registry for dashboards.
type Stats struct {
	TotalServices         int     `json:"total_services"`
	Healthy               int     `json:"healthy"`
	Unhealthy             int     `json:"unhealthy"`
	Unknown               int     `json:"unknown"`
	AverageUptimePercent  float64 `json:"average_uptime_percent"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
}
