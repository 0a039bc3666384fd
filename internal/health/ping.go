package health

import (
	"context"
	"sync/atomic"
	"time"
)

// PingFunc returns nil when the component is healthy.
type PingFunc func(ctx context.Context) error

// PingChecker adapts a PingFunc into a Checker with a cached flag.
type PingChecker struct {
	name    string
	ping    PingFunc
	timeout time.Duration
	healthy atomic.Int32
}

// NewPingChecker builds a checker named name over ping. Each probe is bounded
// by timeout.
func NewPingChecker(name string, ping PingFunc, timeout time.Duration) *PingChecker {
	c := &PingChecker{name: name, ping: ping, timeout: timeout}
	c.healthy.Store(0)
	return c
}

func (c *PingChecker) Name() string    { return c.name }
func (c *PingChecker) IsHealthy() bool { return c.healthy.Load() == 1 }

// Start probes immediately and then on every tick until ctx is cancelled.
func (c *PingChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := c.ping(pctx); err != nil {
			c.healthy.Store(0)
			return
		}
		c.healthy.Store(1)
	}

	probe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}
