package pulse

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/pulsewatch/internal/store"
	"github.com/HerbHall/pulsewatch/pkg/models"
)

// entry owns one service's state. op serializes CRUD operations on the name
// across their persistence call; mu guards state and is held only briefly.
type entry struct {
	op sync.Mutex

	mu      sync.Mutex
	state   models.ServiceState
	removed bool
}

func (e *entry) definition() models.ServiceDefinition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Definition.Clone()
}

func (e *entry) snapshot() models.ServiceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Registry is the in-memory index of monitored services.
type Registry struct {
	maxHistory int

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry whose histories hold at most maxHistory results.
func NewRegistry(maxHistory int) *Registry {
	return &Registry{
		maxHistory: maxHistory,
		entries:    make(map[string]*entry),
	}
}

func (r *Registry) get(name string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// insert adds a fresh state, failing if the name is taken.
func (r *Registry) insert(st models.ServiceState) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[st.Definition.Name]; ok {
		return nil, fmt.Errorf("%w: %s", store.ErrServiceExists, st.Definition.Name)
	}
	e := &entry{state: st}
	r.entries[st.Definition.Name] = e
	return e, nil
}

// remove drops name from the index and marks its entry so late results are discarded.
func (r *Registry) remove(name string) *entry {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	return e
}

// restore puts a removed entry back, used when a delete cannot be persisted.
func (r *Registry) restore(e *entry) {
	e.mu.Lock()
	e.removed = false
	name := e.state.Definition.Name
	e.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.entries[name]; !taken {
		r.entries[name] = e
	}
}

// Record appends a result to the named service. It returns the transition the
// result caused, if any, and false when the service no longer exists.
func (r *Registry) Record(name string, result models.HealthCheckResult) (*models.TransitionEvent, bool) {
	e := r.get(name)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, false
	}

	prev := appendResult(&e.state, result, r.maxHistory)
	if !isTransition(prev, e.state.Status) {
		return nil, true
	}
	ts := result.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &models.TransitionEvent{
		ServiceName: name,
		Previous:    prev,
		Current:     e.state.Status,
		Error:       result.Error,
		Timestamp:   ts,
		Result:      result,
	}, true
}

// Get returns a copy of the named service's state.
func (r *Registry) Get(name string) (models.ServiceState, bool) {
	e := r.get(name)
	if e == nil {
		return models.ServiceState{}, false
	}
	return e.snapshot(), true
}

// List returns copies of every state ordered by creation time, then name.
func (r *Registry) List() []models.ServiceState {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]models.ServiceState, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Definition, out[j].Definition
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Name < b.Name
	})
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stats aggregates status counts and averages over services that have history.
func (r *Registry) Stats() models.Stats {
	var s models.Stats
	var uptime, latency float64
	measured := 0
	for _, st := range r.List() {
		s.TotalServices++
		switch st.Status {
		case models.StatusHealthy:
			s.Healthy++
		case models.StatusUnhealthy:
			s.Unhealthy++
		default:
			s.Unknown++
		}
		if len(st.History) > 0 {
			measured++
			uptime += st.UptimePercent
			latency += st.AverageResponseTimeMs
		}
	}
	if measured > 0 {
		s.AverageUptimePercent = uptime / float64(measured)
		s.AverageResponseTimeMs = latency / float64(measured)
	}
	return s
}
