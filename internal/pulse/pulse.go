// Package pulse is the health-check engine: protocol checkers, the per-service
// poll scheduler, bounded history with derived stats, and transition alerting.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/pulsewatch/internal/event"
	"github.com/HerbHall/pulsewatch/internal/store"
	"github.com/HerbHall/pulsewatch/pkg/models"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// persistTimeout bounds one durable write issued from a check cycle.
const persistTimeout = 5 * time.Second

var (
	// ErrInvalidDefinition wraps validation failures on service definitions.
	ErrInvalidDefinition = errors.New("invalid service definition")
	// ErrStopped is returned by Start after the engine has been stopped.
	ErrStopped = errors.New("pulse engine stopped")
	// ErrReservedKey is returned when a setting key is owned by the engine.
	ErrReservedKey = errors.New("reserved setting key")
)

// Module is the monitoring engine. It owns the registry and scheduler and
// borrows the gateway and bus from its caller.
type Module struct {
	cfg      Config
	gw       store.Gateway
	bus      *event.Bus
	logger   *zap.Logger
	checkers CheckerSet
	validate *validator.Validate

	registry  *Registry
	scheduler *Scheduler
	alerter   *Alerter
	channels  *ChannelStore
	flight    singleflight.Group

	mu       sync.Mutex // guards lifecycle fields below
	running  bool
	stopped  bool
	hydrated bool
}

// Option customizes a Module.
type Option func(*Module)

// WithCheckers replaces the protocol checkers, e.g. with fakes in tests.
func WithCheckers(set CheckerSet) Option {
	return func(m *Module) { m.checkers = set }
}

// New creates an engine. bus may be nil, in which case transitions are only logged.
func New(cfg Config, gw store.Gateway, bus *event.Bus, logger *zap.Logger, opts ...Option) *Module {
	cfg = cfg.withDefaults()
	validate := validator.New(validator.WithRequiredStructEnabled())
	m := &Module{
		cfg:      cfg,
		gw:       gw,
		bus:      bus,
		logger:   logger,
		checkers: DefaultCheckers(),
		validate: validate,
		registry: NewRegistry(cfg.MaxHistorySize),
		channels: NewChannelStore(gw, validate),
	}
	var pub event.Publisher
	if bus != nil {
		pub = bus
	}
	m.alerter = NewAlerter(pub, logger)
	m.scheduler = NewScheduler(func(ctx context.Context, name string) {
		m.probe(ctx, name)
	}, logger)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start hydrates the registry from the gateway and schedules every enabled
// service. Initial probes are staggered by StartupStagger per service.
// A hydration failure is returned and leaves the engine stopped.
func (m *Module) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if m.running {
		return nil
	}
	if !m.hydrated {
		if err := m.hydrate(ctx); err != nil {
			return fmt.Errorf("hydrate registry: %w", err)
		}
		m.hydrated = true
	}

	scheduled := 0
	for _, st := range m.registry.List() {
		def := st.Definition
		if !def.Enabled {
			continue
		}
		delay := time.Duration(scheduled) * m.cfg.StartupStagger
		m.scheduler.Schedule(def.Name, def.Interval(m.cfg.PollInterval), delay)
		scheduled++
	}
	m.running = true
	m.logger.Info("pulse engine started",
		zap.Int("services", m.registry.Len()),
		zap.Int("scheduled", scheduled),
	)
	return nil
}

func (m *Module) hydrate(ctx context.Context) error {
	defs, err := m.gw.ListServices(ctx)
	if err != nil {
		return err
	}
	for i := range defs {
		// Added through this engine before Start.
		if m.registry.get(defs[i].Name) != nil {
			continue
		}
		hist, err := m.gw.GetHistory(ctx, defs[i].Name, m.cfg.MaxHistorySize)
		if err != nil {
			return fmt.Errorf("history for %s: %w", defs[i].Name, err)
		}
		st := restoreState(defs[i], hist, m.cfg.MaxHistorySize)
		if _, err := m.registry.insert(st); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels every timer, waits up to ShutdownGrace for in-flight probes and
// notifications, and closes the gateway. The engine cannot be restarted.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.running = false
	m.stopped = true

	graceCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownGrace)
	defer cancel()
	if !m.scheduler.Stop(graceCtx) {
		m.logger.Warn("in-flight probes abandoned at shutdown")
	}
	if m.bus != nil && !m.bus.Drain(graceCtx) {
		m.logger.Warn("pending notifications abandoned at shutdown")
	}
	if err := m.gw.Close(); err != nil {
		return fmt.Errorf("close gateway: %w", err)
	}
	m.logger.Info("pulse engine stopped")
	return nil
}

// Running reports whether the scheduler is active.
func (m *Module) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// scheduleIfRunning arms def's timer with an immediate first probe.
func (m *Module) scheduleIfRunning(def *models.ServiceDefinition) {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running && def.Enabled {
		m.scheduler.Schedule(def.Name, def.Interval(m.cfg.PollInterval), 0)
	}
}

func (m *Module) validateDefinition(def *models.ServiceDefinition) error {
	if err := m.validate.Struct(def); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return nil
}

// AddService registers and persists a new service and, if the engine is
// running and the service enabled, probes it immediately. A duplicate name
// fails with store.ErrServiceExists and leaves the registry unchanged.
func (m *Module) AddService(ctx context.Context, def models.ServiceDefinition) (models.ServiceState, error) {
	def = def.Clone()
	if err := m.validateDefinition(&def); err != nil {
		return models.ServiceState{}, err
	}
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	e, err := m.registry.insert(models.ServiceState{Definition: def, Status: models.StatusUnknown})
	if err != nil {
		return models.ServiceState{}, err
	}
	e.op.Lock()
	defer e.op.Unlock()

	if err := m.gw.AddService(ctx, &def); err != nil {
		m.registry.remove(def.Name)
		persistenceErrors.WithLabelValues("add_service").Inc()
		return models.ServiceState{}, fmt.Errorf("persist service: %w", err)
	}
	m.logger.Info("service added",
		zap.String("service", def.Name),
		zap.String("protocol", string(def.Protocol)),
	)
	m.scheduleIfRunning(&def)
	return e.snapshot(), nil
}

// UpdateService replaces a service's definition, keeping its status and
// history, and recreates its timer once any in-flight scheduled probe of the
// old definition has finished.
func (m *Module) UpdateService(ctx context.Context, def models.ServiceDefinition) (models.ServiceState, error) {
	def = def.Clone()
	if err := m.validateDefinition(&def); err != nil {
		return models.ServiceState{}, err
	}
	e := m.registry.get(def.Name)
	if e == nil {
		return models.ServiceState{}, fmt.Errorf("%w: %s", store.ErrServiceNotFound, def.Name)
	}
	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return models.ServiceState{}, fmt.Errorf("%w: %s", store.ErrServiceNotFound, def.Name)
	}
	old := e.state.Definition
	def.CreatedAt = old.CreatedAt
	def.UpdatedAt = time.Now().UTC()
	e.state.Definition = def
	e.mu.Unlock()

	if err := m.gw.UpdateService(ctx, &def); err != nil {
		e.mu.Lock()
		e.state.Definition = old
		e.mu.Unlock()
		persistenceErrors.WithLabelValues("update_service").Inc()
		return models.ServiceState{}, fmt.Errorf("persist service: %w", err)
	}

	// The first probe of the new definition must not share a cycle of the old one.
	m.scheduler.CancelWait(ctx, def.Name)
	m.flight.Forget(def.Name)
	m.scheduleIfRunning(&def)
	m.logger.Info("service updated",
		zap.String("service", def.Name),
		zap.Bool("enabled", def.Enabled),
	)
	return e.snapshot(), nil
}

// DeleteService cancels the service's timer, drops its state, and removes it
// from the gateway. An unknown name fails with store.ErrServiceNotFound and
// touches neither the scheduler nor the gateway.
func (m *Module) DeleteService(ctx context.Context, name string) error {
	e := m.registry.get(name)
	if e == nil {
		return fmt.Errorf("%w: %s", store.ErrServiceNotFound, name)
	}
	e.op.Lock()
	defer e.op.Unlock()
	if m.registry.remove(name) == nil {
		return fmt.Errorf("%w: %s", store.ErrServiceNotFound, name)
	}
	m.scheduler.Cancel(name)

	err := m.gw.DeleteService(ctx, name)
	if err != nil && !errors.Is(err, store.ErrServiceNotFound) {
		m.registry.restore(e)
		def := e.definition()
		m.scheduleIfRunning(&def)
		persistenceErrors.WithLabelValues("delete_service").Inc()
		return fmt.Errorf("persist delete: %w", err)
	}
	m.logger.Info("service deleted", zap.String("service", name))
	return nil
}

// ListServices returns a snapshot of every service state.
func (m *Module) ListServices() []models.ServiceState {
	return m.registry.List()
}

// Service returns a snapshot of one service's state.
func (m *Module) Service(name string) (models.ServiceState, bool) {
	return m.registry.Get(name)
}

// Stats aggregates the registry.
func (m *Module) Stats() models.Stats {
	return m.registry.Stats()
}

// CheckNow runs the full check pipeline for name immediately and returns the
// result. If a scheduled probe for name is already in flight, its result is shared.
func (m *Module) CheckNow(ctx context.Context, name string) (models.HealthCheckResult, error) {
	if m.registry.get(name) == nil {
		return models.HealthCheckResult{}, fmt.Errorf("%w: %s", store.ErrServiceNotFound, name)
	}
	r, ok := m.probe(ctx, name)
	if !ok {
		return models.HealthCheckResult{}, fmt.Errorf("%w: %s", store.ErrServiceNotFound, name)
	}
	return r, nil
}

// probe runs one pipeline cycle, collapsing concurrent calls for the same name
// so a service never has two probes in flight.
func (m *Module) probe(ctx context.Context, name string) (models.HealthCheckResult, bool) {
	v, _, _ := m.flight.Do(name, func() (any, error) {
		r, ok := m.cycle(context.WithoutCancel(ctx), name)
		return cycleOutcome{result: r, ok: ok}, nil
	})
	out := v.(cycleOutcome)
	return out.result, out.ok
}

type cycleOutcome struct {
	result models.HealthCheckResult
	ok     bool
}

// cycle probes, records in memory, persists, and alerts on a transition.
func (m *Module) cycle(ctx context.Context, name string) (models.HealthCheckResult, bool) {
	e := m.registry.get(name)
	if e == nil {
		return models.HealthCheckResult{}, false
	}
	def := e.definition()

	result := runCheck(ctx, m.checkers[def.Protocol], &def, def.Timeout(m.cfg.Timeout))
	observeProbe(def.Protocol, result)

	transition, recorded := m.registry.Record(name, result)
	if !recorded {
		m.logger.Debug("discarding result for removed service", zap.String("service", name))
		return result, true
	}
	m.logger.Debug("check completed",
		zap.String("service", name),
		zap.Bool("success", result.Success),
		zap.Float64("response_time_ms", result.ResponseTimeMs),
	)

	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	err := m.gw.SaveCheckResult(pctx, name, &result)
	cancel()
	if err != nil {
		persistenceErrors.WithLabelValues("save_result").Inc()
		m.logger.Warn("failed to persist check result",
			zap.String("service", name),
			zap.Error(err),
		)
	}

	if transition != nil {
		m.alerter.Process(ctx, transition)
	}
	return result, true
}

// Subscribe taps the transition stream. fn runs on its own goroutine per event.
func (m *Module) Subscribe(fn func(models.TransitionEvent)) (unsubscribe func()) {
	if m.bus == nil {
		return func() {}
	}
	handler := func(_ context.Context, ev event.Event) {
		if t, ok := ev.Payload.(models.TransitionEvent); ok {
			fn(t)
		}
	}
	down := m.bus.Subscribe(TopicServiceDown, handler)
	up := m.bus.Subscribe(TopicServiceUp, handler)
	return func() {
		down()
		up()
	}
}

// Channels returns the notification channel store.
func (m *Module) Channels() *ChannelStore {
	return m.channels
}

// Setting returns a dashboard or system setting, or nil if it was never saved.
func (m *Module) Setting(ctx context.Context, key string) ([]byte, error) {
	if key == channelsKey {
		return nil, fmt.Errorf("%w: %s", ErrReservedKey, key)
	}
	return m.gw.GetConfig(ctx, key)
}

// SaveSetting stores a dashboard or system setting.
func (m *Module) SaveSetting(ctx context.Context, key string, value []byte) error {
	if key == channelsKey {
		return fmt.Errorf("%w: %s", ErrReservedKey, key)
	}
	if err := m.gw.SaveConfig(ctx, key, value); err != nil {
		persistenceErrors.WithLabelValues("save_setting").Inc()
		return err
	}
	return nil
}
