package portforward

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polarisvpn/polaris-linux/pkg/vpn"
)

// DefaultGateway is the NAT gateway inside the provider's WireGuard network.
const DefaultGateway = "10.2.0.1"

// retryInterval is the pause after a failed mapping request.
const retryInterval = 10 * time.Second

// statusSource delivers connection status updates. *vpn.Connector satisfies
// it.
type statusSource interface {
	Subscribe() (<-chan vpn.Status, func())
}

// Forwarder maintains a public port lease while the tunnel is up. It only
// acts when the enabled callback reports the port-forwarding feature as on,
// so the server-side flag can turn the whole thing off remotely.
type Forwarder struct {
	source  statusSource
	mapper  Mapper
	enabled func() bool
	gateway string
	retry   time.Duration
	log     *logrus.Entry

	mu     sync.Mutex
	port   int
	cancel context.CancelFunc
}

// New builds a forwarder leasing ports from the tunnel's default gateway.
func New(source statusSource, mapper Mapper, enabled func() bool, log *logrus.Entry) *Forwarder {
	return &Forwarder{
		source:  source,
		mapper:  mapper,
		enabled: enabled,
		gateway: DefaultGateway,
		retry:   retryInterval,
		log:     log,
	}
}

// Run reacts to connection status updates until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	updates, cancel := f.source.Subscribe()
	defer cancel()
	defer f.stopLease()

	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			f.handleStatus(ctx, status)
		}
	}
}

// Port returns the currently leased public port, or 0 when there is none.
func (f *Forwarder) Port() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.port
}

func (f *Forwarder) handleStatus(ctx context.Context, status vpn.Status) {
	switch status.State {
	case vpn.StateConnected:
		if !f.enabled() {
			return
		}
		f.startLease(ctx)
	case vpn.StateDisconnected, vpn.StateError:
		f.stopLease()
	}
}

func (f *Forwarder) startLease(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return
	}

	leaseCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.maintain(leaseCtx)
}

// maintain leases a mapping and renews it halfway through its lifetime until
// its context is cancelled.
func (f *Forwarder) maintain(ctx context.Context) {
	for {
		mapping, err := f.mapper.Map(ctx, f.gateway)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.log.WithError(err).Warn("Port mapping request failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.retry):
			}
			continue
		}

		f.mu.Lock()
		changed := f.port != mapping.PublicPort
		f.port = mapping.PublicPort
		f.mu.Unlock()
		if changed {
			f.log.WithField("port", mapping.PublicPort).Info("Public port leased")
		}

		renewIn := mapping.Lifetime / 2
		if renewIn < time.Second {
			renewIn = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(renewIn):
		}
	}
}

func (f *Forwarder) stopLease() {
	f.mu.Lock()
	if f.cancel == nil {
		f.mu.Unlock()
		return
	}
	f.cancel()
	f.cancel = nil
	hadLease := f.port != 0
	f.port = 0
	f.mu.Unlock()

	if !hadLease {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.mapper.Unmap(ctx, f.gateway); err != nil {
		f.log.WithError(err).Debug("Releasing port mapping failed")
	}
}
