// Package health reports session health and optionally probes the bridge
// in the background so that a dropped session is noticed without traffic.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/config"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/session"
)

// Session is the part of the session manager the monitor needs.
type Session interface {
	IsAuthenticated(ctx context.Context) bool
	Status() session.Status
}

// Status is the session snapshot plus probe bookkeeping.
type Status struct {
	session.Status `yaml:",inline"`

	Probing          bool      `json:"probing" yaml:"probing"`
	ProbeCount       int64     `json:"probe_count" yaml:"probe_count"`
	ProbeFailures    int       `json:"probe_failures" yaml:"probe_failures"`
	LastProbe        time.Time `json:"last_probe,omitempty" yaml:"last_probe,omitempty"`
	LastProbeHealthy bool      `json:"last_probe_healthy" yaml:"last_probe_healthy"`
	NextProbe        time.Time `json:"next_probe,omitempty" yaml:"next_probe,omitempty"`
}

// Monitor tracks session health and runs the auth probe.
type Monitor struct {
	session  Session
	log      *slog.Logger
	interval time.Duration
	probeTTL time.Duration

	backoff *backoff.ExponentialBackOff

	mu          sync.RWMutex
	probeCount  int64
	failures    int
	lastProbe   time.Time
	lastHealthy bool
	nextProbe   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a health monitor. The probe runs only when
// cfg.AuthProbeInterval is positive.
func NewMonitor(cfg *config.Config, s Session) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.AuthProbeInterval
	bo.MaxInterval = cfg.AuthProbeMaxDelay
	bo.MaxElapsedTime = 0 // Never stop based on elapsed time
	bo.Reset()

	return &Monitor{
		session:  s,
		log:      slog.Default().With("component", "health"),
		interval: cfg.AuthProbeInterval,
		probeTTL: cfg.AuthCheckTimeout + cfg.CommandTimeout,
		backoff:  bo,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins probing if it is enabled.
func (m *Monitor) Start() {
	if m.interval <= 0 {
		m.log.Info("health monitor started", "probe", "disabled")
		return
	}
	m.log.Info("health monitor started", "probe_interval", m.interval, "probe_max_delay", m.backoff.MaxInterval)

	m.wg.Add(1)
	go m.run()
}

// Stop ends probing and waits for an in-flight probe to return.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.log.Info("health monitor stopped")
}

// GetStatus returns the current health status.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		Status:           m.session.Status(),
		Probing:          m.interval > 0,
		ProbeCount:       m.probeCount,
		ProbeFailures:    m.failures,
		LastProbe:        m.lastProbe,
		LastProbeHealthy: m.lastHealthy,
		NextProbe:        m.nextProbe,
	}
}

func (m *Monitor) run() {
	defer m.wg.Done()

	delay := m.interval
	for {
		m.mu.Lock()
		m.nextProbe = time.Now().Add(delay)
		m.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		delay = m.Probe()
	}
}

// Probe runs one auth check and returns the delay before the next one.
// Healthy probes keep the base interval; failures back off up to the
// configured maximum. A login in progress owns the bridge and is left
// alone.
func (m *Monitor) Probe() time.Duration {
	if m.session.Status().LoginInProgress {
		m.log.Debug("login in progress, skipping probe")
		return m.interval
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.probeTTL)
	healthy := m.session.IsAuthenticated(ctx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.probeCount++
	m.lastProbe = time.Now()
	m.lastHealthy = healthy

	if healthy {
		if m.failures > 0 {
			m.log.Info("session healthy again", "after_failures", m.failures)
		}
		m.failures = 0
		m.backoff.Reset()
		return m.interval
	}

	m.failures++
	delay := m.backoff.NextBackOff()
	m.log.Warn("session not authenticated", "failures", m.failures, "next_probe", delay)
	return delay
}
