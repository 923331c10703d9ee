package pulse

import (
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
)

// latencyWindow is how many recent checks feed the average response time.
const latencyWindow = 20

// appendResult records r on st, evicting the oldest entries beyond max, and
// recomputes derived stats. It returns the status st had before r.
func appendResult(st *models.ServiceState, r models.HealthCheckResult, max int) models.ServiceStatus {
	prev := st.Status

	st.History = append(st.History, r)
	if over := len(st.History) - max; over > 0 {
		st.History = append([]models.HealthCheckResult(nil), st.History[over:]...)
	}
	recomputeStats(st)

	if r.Success {
		st.Status = models.StatusHealthy
	} else {
		st.Status = models.StatusUnhealthy
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	st.LastCheck = &ts
	if r.SSLExpiry != nil {
		exp := *r.SSLExpiry
		st.SSLExpiry = &exp
	}
	return prev
}

// isTransition reports whether moving from prev to cur should alert. The
// first check of a service never does.
func isTransition(prev, cur models.ServiceStatus) bool {
	return prev.Known() && cur.Known() && prev != cur
}

func recomputeStats(st *models.ServiceState) {
	st.UptimePercent = uptimePercent(st.History)
	st.AverageResponseTimeMs = averageResponseTime(st.History)
}

// uptimePercent is the share of successful checks across the whole history.
func uptimePercent(h []models.HealthCheckResult) float64 {
	if len(h) == 0 {
		return 0
	}
	ok := 0
	for i := range h {
		if h[i].Success {
			ok++
		}
	}
	return float64(ok) / float64(len(h)) * 100
}

// averageResponseTime averages successful checks among the latest latencyWindow entries.
func averageResponseTime(h []models.HealthCheckResult) float64 {
	if len(h) > latencyWindow {
		h = h[len(h)-latencyWindow:]
	}
	var sum float64
	n := 0
	for i := range h {
		if h[i].Success {
			sum += h[i].ResponseTimeMs
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// restoreState rebuilds a state from persisted history, oldest first.
func restoreState(def models.ServiceDefinition, history []models.HealthCheckResult, max int) models.ServiceState {
	st := models.ServiceState{Definition: def, Status: models.StatusUnknown}
	if over := len(history) - max; over > 0 {
		history = history[over:]
	}
	st.History = append([]models.HealthCheckResult(nil), history...)
	recomputeStats(&st)
	if n := len(st.History); n > 0 {
		last := st.History[n-1]
		if last.Success {
			st.Status = models.StatusHealthy
		} else {
			st.Status = models.StatusUnhealthy
		}
		ts := last.Timestamp
		st.LastCheck = &ts
		for i := n - 1; i >= 0; i-- {
			if exp := st.History[i].SSLExpiry; exp != nil {
				e := *exp
				st.SSLExpiry = &e
				break
			}
		}
	}
	return st
}
