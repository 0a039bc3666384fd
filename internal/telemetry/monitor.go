// Package telemetry keeps a fresh, non-blocking view of backend load so the
// router never probes a backend on the request path.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/kyujaq/hearth/internal/backend"
)

var (
	utilizationGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hearth",
			Name:      "backend_utilization",
			Help:      "Last probed backend utilization fraction.",
		},
		[]string{"backend"},
	)
	pollFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "telemetry_poll_failures_total",
			Help:      "Failed backend stats probes.",
		},
		[]string{"backend"},
	)
)

// failureLogInterval limits how often a sustained probe outage is logged per
// backend.
const failureLogInterval = 5 * time.Minute

// Snapshot is the cached view of one backend's load.
type Snapshot struct {
	Utilization    float64   `json:"utilization"`
	FreeResourceMB float64   `json:"freeResourceMb"`
	AvgUtilization float64   `json:"avgUtilization"`
	LastPoll       time.Time `json:"lastPoll"`
}

// Prober is the subset of backend.Client the monitor needs.
type Prober interface {
	StatsProbe(ctx context.Context) (backend.Stats, error)
}

// Monitor polls each backend's stats probe on a fixed interval and caches the
// results. Snapshot reads never trigger a live probe.
type Monitor struct {
	probers      map[string]Prober
	interval     time.Duration
	probeTimeout time.Duration
	log          zerolog.Logger

	mu      sync.RWMutex
	snaps   map[string]Snapshot
	windows map[string]*window

	lastFailLog map[string]time.Time
}

// NewMonitor creates a Monitor for the given probers. windowSize is the number
// of samples in the rolling utilization window.
func NewMonitor(probers map[string]Prober, interval, probeTimeout time.Duration, windowSize int, log zerolog.Logger) *Monitor {
	m := &Monitor{
		probers:      probers,
		interval:     interval,
		probeTimeout: probeTimeout,
		log:          log,
		snaps:        make(map[string]Snapshot, len(probers)),
		windows:      make(map[string]*window, len(probers)),
		lastFailLog:  make(map[string]time.Time, len(probers)),
	}
	for name := range probers {
		m.windows[name] = newWindow(windowSize)
	}
	return m
}

// Run polls until ctx is cancelled. A failed poll keeps the previous snapshot
// and never terminates the loop.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info().Dur("interval", m.interval).Int("backends", len(m.probers)).Msg("telemetry monitor starting")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("telemetry monitor stopping")
			return
		case <-ticker.C:
			m.PollOnce(ctx)
		}
	}
}

// PollOnce probes every backend once and updates the cached snapshots.
func (m *Monitor) PollOnce(ctx context.Context) {
	for name, p := range m.probers {
		probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		stats, err := p.StatsProbe(probeCtx)
		cancel()
		if err != nil {
			pollFailuresTotal.WithLabelValues(name).Inc()
			m.logFailure(name, err)
			continue // retain previous snapshot
		}

		m.mu.Lock()
		w := m.windows[name]
		w.add(stats.Utilization)
		m.snaps[name] = Snapshot{
			Utilization:    stats.Utilization,
			FreeResourceMB: stats.FreeResourceMB,
			AvgUtilization: w.avg(),
			LastPoll:       time.Now().UTC(),
		}
		m.mu.Unlock()

		utilizationGauge.WithLabelValues(name).Set(stats.Utilization)
	}
}

// Snapshot returns the last cached value for a backend. The second return is
// false until the first successful poll.
func (m *Monitor) Snapshot(name string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snaps[name]
	return s, ok
}

// logFailure logs at most once per backend per failureLogInterval so a
// sustained outage does not flood the log.
func (m *Monitor) logFailure(name string, err error) {
	m.mu.Lock()
	last := m.lastFailLog[name]
	shouldLog := time.Since(last) >= failureLogInterval
	if shouldLog {
		m.lastFailLog[name] = time.Now()
	}
	m.mu.Unlock()

	if shouldLog {
		m.log.Warn().Err(err).Str("backend", name).Msg("stats probe failed; keeping previous snapshot")
	}
}
