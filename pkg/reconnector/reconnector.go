// Package reconnector re-establishes the VPN connection after tunnel drops,
// network changes and desktop session unlocks.
package reconnector

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polarisvpn/polaris-linux/pkg/vpn"
)

// maxRetryDelay caps the backoff between reconnection attempts.
const maxRetryDelay = 5 * time.Minute

// Dialer re-establishes the last requested connection. The daemon implements
// it; the reconnector itself does not know which server was selected.
type Dialer interface {
	Reconnect(ctx context.Context) error
}

// certRefresher is the slice of the certificate refresher the reconnector
// needs when a server rejects an expired certificate.
type certRefresher interface {
	ForceRefresh()
}

// networkChecker reports whether the machine currently has a route to the
// internet.
type networkChecker func() bool

// Reconnector watches connection status updates and retries failed
// connections with exponential backoff. Failures that cannot be fixed by
// retrying, like rejected credentials, stop the retry loop instead.
type Reconnector struct {
	connector *vpn.Connector
	dialer    Dialer
	certs     certRefresher
	networkUp networkChecker
	log       *logrus.Entry
	delayFn   func(attempts int) time.Duration

	mu       sync.Mutex
	pending  bool
	attempts int
	timer    *time.Timer

	retryCh chan struct{}
	wakeCh  chan struct{}
}

// New builds a reconnector. networkUp may be nil, in which case the network
// is assumed reachable.
func New(connector *vpn.Connector, dialer Dialer, certs certRefresher,
	networkUp networkChecker, log *logrus.Entry) *Reconnector {
	if networkUp == nil {
		networkUp = func() bool { return true }
	}
	return &Reconnector{
		connector: connector,
		dialer:    dialer,
		certs:     certs,
		networkUp: networkUp,
		log:       log,
		delayFn:   reconnectDelay,
		retryCh:   make(chan struct{}, 1),
		wakeCh:    make(chan struct{}, 1),
	}
}

// Run processes status updates until ctx is cancelled.
func (r *Reconnector) Run(ctx context.Context) {
	updates, cancel := r.connector.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			r.stopTimer()
			return
		case status := <-updates:
			r.handleStatus(status)
		case <-r.retryCh:
			r.retry(ctx)
		case <-r.wakeCh:
			r.retryIfPending(ctx)
		}
	}
}

// Wake retries a pending reconnection immediately. Monitors call it when the
// network comes back or the desktop session is unlocked.
func (r *Reconnector) Wake() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// Pending reports whether a reconnection is scheduled or waiting for the
// network.
func (r *Reconnector) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

func (r *Reconnector) handleStatus(status vpn.Status) {
	switch status.State {
	case vpn.StateConnected:
		r.mu.Lock()
		r.pending = false
		r.attempts = 0
		r.mu.Unlock()
	case vpn.StateDisconnected:
		// A requested disconnect cancels any pending retry.
		r.mu.Lock()
		r.pending = false
		r.attempts = 0
		r.stopTimerLocked()
		r.mu.Unlock()
	case vpn.StateError:
		r.handleFailure(status)
	}
}

func (r *Reconnector) handleFailure(status vpn.Status) {
	switch status.LastEvent {
	case vpn.EventAuthDenied, vpn.EventMaximumSessionsReached:
		r.log.WithField("event", status.LastEvent.String()).
			Error("Connection failed and retrying cannot help, giving up")
		r.mu.Lock()
		r.pending = false
		r.attempts = 0
		r.mu.Unlock()
		return
	case vpn.EventExpiredCertificate:
		r.log.Info("Certificate expired, requesting a new one before reconnecting")
		r.certs.ForceRefresh()
	}
	r.scheduleRetry()
}

func (r *Reconnector) scheduleRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = true
	r.attempts++
	delay := r.delayFn(r.attempts)
	r.log.WithFields(logrus.Fields{
		"attempt": r.attempts,
		"delay":   delay.Round(time.Millisecond),
	}).Info("Reconnection scheduled")

	r.stopTimerLocked()
	r.timer = time.AfterFunc(delay, func() {
		select {
		case r.retryCh <- struct{}{}:
		default:
		}
	})
}

func (r *Reconnector) retry(ctx context.Context) {
	r.mu.Lock()
	if !r.pending {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if !r.networkUp() {
		r.log.Info("Network is down, reconnection waits for it to come back")
		return
	}

	if err := r.dialer.Reconnect(ctx); err != nil {
		r.log.WithError(err).Warn("Reconnection attempt failed")
		r.scheduleRetry()
	}
}

func (r *Reconnector) retryIfPending(ctx context.Context) {
	if !r.Pending() {
		return
	}
	r.log.Info("Retrying pending reconnection")
	r.stopTimer()
	r.retry(ctx)
}

func (r *Reconnector) stopTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimerLocked()
}

func (r *Reconnector) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// reconnectDelay grows exponentially with the attempt number, jittered by a
// factor drawn from [0.9, 1.1].
func reconnectDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	jitter := 0.9 + 0.2*rand.Float64()
	delay := time.Duration(math.Pow(2, float64(attempts-1)) * float64(time.Second) * jitter)
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}
