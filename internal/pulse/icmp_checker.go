package pulse

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
	probing "github.com/prometheus-community/pro-bing"
)

// Compile-time interface guard.
var _ Checker = (*ICMPChecker)(nil)

// ICMPChecker pings a host. It is healthy if any echo reply arrives in time.
type ICMPChecker struct {
	count int
}

func NewICMPChecker() *ICMPChecker {
	return &ICMPChecker{count: 3}
}

func (c *ICMPChecker) Check(ctx context.Context, def *models.ServiceDefinition) models.HealthCheckResult {
	start := time.Now()
	host := strings.TrimPrefix(def.Target, "icmp://")

	pinger, err := probing.NewPinger(host)
	if err != nil {
		return failedResult(start, "resolve %q: %v", host, err)
	}
	pinger.Count = c.count
	pinger.Interval = 200 * time.Millisecond
	pinger.Timeout = budget(ctx, fallbackTimeout)
	// Unprivileged UDP pings work on Linux and macOS; Windows needs raw sockets.
	pinger.SetPrivileged(runtime.GOOS == "windows")

	runErr := make(chan error, 1)
	go func() { runErr <- pinger.Run() }()

	select {
	case err := <-runErr:
		if err != nil {
			return failedResult(start, "ping %s: %v", host, err)
		}
	case <-ctx.Done():
		pinger.Stop()
		return failedResult(start, "ping %s: %v", host, ctx.Err())
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return failedResult(start, "ping %s: no reply (%d sent)", host, stats.PacketsSent)
	}
	return models.HealthCheckResult{
		StatusCode:     1,
		Success:        true,
		ResponseTimeMs: elapsedMs(stats.AvgRtt),
		Timestamp:      time.Now().UTC(),
	}
}
