package pulse

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProbeFunc runs one check cycle for the named service.
type ProbeFunc func(ctx context.Context, name string)

// Scheduler owns one timer loop per service. A loop waits for its probe to
// finish before arming the next timer, so a service never has two cycles in
// flight from its own loop. Loops for different services are independent.
type Scheduler struct {
	probe  ProbeFunc
	logger *zap.Logger

	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler that calls probe on every tick.
func NewScheduler(probe ProbeFunc, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		probe:  probe,
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Schedule starts a loop for name that first fires after delay and then every
// interval. An existing loop for name is cancelled first.
func (s *Scheduler) Schedule(name string, interval, delay time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if old, ok := s.tasks[name]; ok {
		old.cancel()
	}
	s.tasks[name] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(ctx, t, name, interval, delay)
}

func (s *Scheduler) loop(ctx context.Context, t *task, name string, interval, delay time.Duration) {
	defer s.wg.Done()
	defer close(t.done)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.probe(ctx, name)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(interval)
	}
}

// Cancel stops the loop for name without waiting for an in-flight probe.
// It reports whether a loop existed.
func (s *Scheduler) Cancel(name string) bool {
	return s.detach(name) != nil
}

// CancelWait stops the loop for name and waits until its in-flight probe has
// returned or ctx is done. It reports whether a loop existed.
func (s *Scheduler) CancelWait(ctx context.Context, name string) bool {
	t := s.detach(name)
	if t == nil {
		return false
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		s.logger.Warn("gave up waiting for in-flight probe", zap.String("service", name))
	}
	return true
}

func (s *Scheduler) detach(name string) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return nil
	}
	t.cancel()
	delete(s.tasks, name)
	return t
}

// Scheduled reports whether name has an active loop.
func (s *Scheduler) Scheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Len returns the number of active loops.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every loop and waits for in-flight probes until ctx is done.
// It reports whether all loops exited in time.
func (s *Scheduler) Stop(ctx context.Context) bool {
	s.mu.Lock()
	for name, t := range s.tasks {
		t.cancel()
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out, abandoning in-flight probes")
		return false
	}
}
