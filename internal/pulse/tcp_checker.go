package pulse

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
)

// Compile-time interface guard.
var _ Checker = (*TCPChecker)(nil)

// TCPChecker tests TCP connectivity to host:port targets.
type TCPChecker struct{}

// NewTCPChecker creates a new TCP checker.
func NewTCPChecker() *TCPChecker {
	return &TCPChecker{}
}

// Check connects to the target (host:port, optionally tcp:// prefixed) and
// measures connection time.
func (c *TCPChecker) Check(ctx context.Context, def *models.ServiceDefinition) models.HealthCheckResult {
	start := time.Now()
	target := strings.TrimPrefix(def.Target, "tcp://")
	if _, _, err := net.SplitHostPort(target); err != nil {
		return failedResult(start, "invalid target %q: %v", def.Target, err)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", target)
	elapsed := time.Since(start)
	if err != nil {
		r := failedResult(start, "%v", err)
		r.ResponseTimeMs = elapsedMs(elapsed)
		return r
	}
	conn.Close()

	return models.HealthCheckResult{
		StatusCode:     1,
		Success:        true,
		ResponseTimeMs: elapsedMs(elapsed),
		Timestamp:      time.Now().UTC(),
	}
}
