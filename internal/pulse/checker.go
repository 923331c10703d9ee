package pulse

import (
	"context"
	"fmt"
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
)

// guardOverhead is how long past its timeout a probe may run before the
// engine gives up on it and records a failure.
const guardOverhead = 2 * time.Second

// Checker executes one protocol-specific probe. The probe's time budget is the
// deadline on ctx. Implementations never return an error: every failure is
// reported through an unsuccessful result.
type Checker interface {
	Check(ctx context.Context, def *models.ServiceDefinition) models.HealthCheckResult
}

// CheckerSet maps each protocol to the checker that serves it.
type CheckerSet map[models.Protocol]Checker

// DefaultCheckers returns a checker for every supported protocol.
func DefaultCheckers() CheckerSet {
	return CheckerSet{
		models.ProtocolHTTP:    NewHTTPChecker(),
		models.ProtocolTCP:     NewTCPChecker(),
		models.ProtocolMySQL:   NewMySQLChecker(),
		models.ProtocolMongoDB: NewMongoChecker(),
		models.ProtocolICMP:    NewICMPChecker(),
	}
}

// runCheck probes def with the given timeout. The probe is detached from
// ctx cancellation so it always runs to its own deadline, and the result is
// returned no later than timeout + guardOverhead even if the checker hangs.
func runCheck(ctx context.Context, c Checker, def *models.ServiceDefinition, timeout time.Duration) models.HealthCheckResult {
	start := time.Now()
	if c == nil {
		return failedResult(start, "unsupported protocol %q", def.Protocol)
	}

	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan models.HealthCheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- failedResult(start, "checker panicked: %v", r)
			}
		}()
		done <- c.Check(probeCtx, def)
	}()

	guard := time.NewTimer(timeout + guardOverhead)
	defer guard.Stop()
	select {
	case r := <-done:
		if r.Timestamp.IsZero() {
			r.Timestamp = time.Now().UTC()
		}
		return r
	case <-guard.C:
		return failedResult(start, "probe exceeded timeout of %s", timeout)
	}
}

// failedResult builds an unsuccessful result timed from start.
func failedResult(start time.Time, format string, args ...any) models.HealthCheckResult {
	return models.HealthCheckResult{
		Success:        false,
		ResponseTimeMs: elapsedMs(time.Since(start)),
		Timestamp:      time.Now().UTC(),
		Error:          fmt.Sprintf(format, args...),
	}
}

func elapsedMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// budget returns the time left before ctx's deadline, or fallback if ctx has none.
func budget(ctx context.Context, fallback time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left > 0 {
			return left
		}
		return time.Millisecond
	}
	return fallback
}
