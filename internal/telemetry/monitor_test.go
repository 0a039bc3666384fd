package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kyujaq/hearth/internal/backend"
)

type scriptedProber struct {
	stats []backend.Stats
	errs  []error
	calls int
}

func (p *scriptedProber) StatsProbe(context.Context) (backend.Stats, error) {
	i := p.calls
	if i >= len(p.stats) {
		i = len(p.stats) - 1
	}
	p.calls++
	if p.errs != nil && p.errs[i] != nil {
		return backend.Stats{}, p.errs[i]
	}
	return p.stats[i], nil
}

func newTestMonitor(probers map[string]Prober, windowSize int) *Monitor {
	return NewMonitor(probers, time.Second, time.Second, windowSize, zerolog.Nop())
}

func TestPollOnceUpdatesSnapshotAndWindow(t *testing.T) {
	p := &scriptedProber{stats: []backend.Stats{
		{Utilization: 0.2, FreeResourceMB: 4096},
		{Utilization: 0.4, FreeResourceMB: 3072},
	}}
	m := newTestMonitor(map[string]Prober{"deep": p}, 12)

	m.PollOnce(context.Background())
	snap, ok := m.Snapshot("deep")
	require.True(t, ok)
	require.Equal(t, 0.2, snap.Utilization)
	require.Equal(t, 4096.0, snap.FreeResourceMB)
	require.InDelta(t, 0.2, snap.AvgUtilization, 1e-9)

	m.PollOnce(context.Background())
	snap, _ = m.Snapshot("deep")
	require.Equal(t, 0.4, snap.Utilization)
	require.InDelta(t, 0.3, snap.AvgUtilization, 1e-9)
}

func TestFailedPollRetainsPreviousSnapshot(t *testing.T) {
	p := &scriptedProber{
		stats: []backend.Stats{{Utilization: 0.5, FreeResourceMB: 2048}, {}},
		errs:  []error{nil, errors.New("probe down")},
	}
	m := newTestMonitor(map[string]Prober{"vision": p}, 12)

	m.PollOnce(context.Background())
	m.PollOnce(context.Background())

	snap, ok := m.Snapshot("vision")
	require.True(t, ok, "snapshot should survive a failed poll")
	require.Equal(t, 0.5, snap.Utilization)
}

func TestSnapshotAbsentBeforeFirstSuccess(t *testing.T) {
	p := &scriptedProber{stats: []backend.Stats{{}}, errs: []error{errors.New("down")}}
	m := newTestMonitor(map[string]Prober{"deep": p}, 12)
	m.PollOnce(context.Background())
	_, ok := m.Snapshot("deep")
	require.False(t, ok)
}

func TestWindowWrapsAtCapacity(t *testing.T) {
	w := newWindow(3)
	for _, v := range []float64{0.1, 0.2, 0.3, 0.6} { // 0.6 overwrites 0.1
		w.add(v)
	}
	require.InDelta(t, (0.2+0.3+0.6)/3, w.avg(), 1e-9)
}
