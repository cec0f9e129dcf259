// Package connectivity polls backend health and feeds the result to sessions.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Checker is satisfied by backend.Client.
type Checker interface {
	Health(ctx context.Context) error
}

// Target receives connectivity changes. session.Controller implements it.
type Target interface {
	SetOnline(online bool)
}

// TargetFunc adapts a function to Target.
type TargetFunc func(online bool)

func (f TargetFunc) SetOnline(online bool) { f(online) }

// Status is the last observed health.
type Status struct {
	Online    bool
	CheckedAt time.Time
	LastOKAt  time.Time
	LastError string
}

// Monitor checks health on a fixed interval and reports every result to the
// targets returned by the targets func.
type Monitor struct {
	checker  Checker
	interval time.Duration
	targets  func() []Target
	log      *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	status Status
}

func NewMonitor(checker Checker, interval time.Duration, targets func() []Target, log *slog.Logger) (*Monitor, error) {
	if checker == nil {
		return nil, errors.New("health checker is required")
	}
	if interval <= 0 {
		return nil, errors.New("health interval must be positive")
	}
	if targets == nil {
		targets = func() []Target { return nil }
	}
	if log == nil {
		log = slog.Default()
	}

	return &Monitor{
		checker:  checker,
		interval: interval,
		targets:  targets,
		log:      log.With("component", "connectivity.monitor"),
		now:      time.Now,
	}, nil
}

// Run checks once immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one health probe and fans the outcome out to all targets.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.checker.Health(ctx)
	if err != nil && ctx.Err() != nil {
		return m.Status().Online
	}
	online := err == nil

	now := m.now().UTC()
	m.mu.Lock()
	changed := m.status.Online != online || m.status.CheckedAt.IsZero()
	m.status.Online = online
	m.status.CheckedAt = now
	if online {
		m.status.LastOKAt = now
		m.status.LastError = ""
	} else {
		m.status.LastError = err.Error()
	}
	m.mu.Unlock()

	if changed {
		if online {
			m.log.Info("Backend reachable")
		} else {
			m.log.Warn("Backend health check failed", "error", err)
		}
	}

	for _, target := range m.targets() {
		target.SetOnline(online)
	}

	return online
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
