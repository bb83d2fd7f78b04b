package reconnector

import (
	"context"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// netProbeAddr is a TEST-NET-1 address. The kernel resolves a route for it
// without any packet leaving the machine, which makes `ip route get` a cheap
// connectivity probe.
const netProbeAddr = "192.0.2.1"

// netPollInterval is how often the network monitor probes for a route.
const netPollInterval = 5 * time.Second

// NetworkMonitor polls the kernel routing table and reports when the machine
// regains a route to the internet.
type NetworkMonitor struct {
	log      *logrus.Entry
	onUp     func()
	interval time.Duration
	probe    func(ctx context.Context) bool
}

// NewNetworkMonitor builds a monitor that calls onUp on every down-to-up
// transition.
func NewNetworkMonitor(log *logrus.Entry, onUp func()) *NetworkMonitor {
	return &NetworkMonitor{
		log:      log,
		onUp:     onUp,
		interval: netPollInterval,
		probe:    probeRoute,
	}
}

// Up reports whether a route to the internet currently exists.
func (m *NetworkMonitor) Up() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return m.probe(ctx)
}

// Run polls until ctx is cancelled.
func (m *NetworkMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	up := m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := m.probe(ctx)
			if now && !up {
				m.log.Info("Network is back up")
				m.onUp()
			}
			up = now
		}
	}
}

func probeRoute(ctx context.Context) bool {
	return exec.CommandContext(ctx, "ip", "route", "get", netProbeAddr).Run() == nil
}
