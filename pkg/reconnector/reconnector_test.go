package reconnector

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarisvpn/polaris-linux/pkg/vpn"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeDialer reconnects through the real connector with fixed params.
type fakeDialer struct {
	connector *vpn.Connector
	calls     atomic.Int32
}

func (d *fakeDialer) Reconnect(ctx context.Context) error {
	d.calls.Add(1)
	return d.connector.Connect(ctx, vpn.Params{ServerID: "1", ServerName: "NL#1"})
}

type fakeCerts struct {
	refreshes atomic.Int32
}

func (c *fakeCerts) ForceRefresh() { c.refreshes.Add(1) }

type harness struct {
	connector *vpn.Connector
	backend   *vpn.FakeBackend
	dialer    *fakeDialer
	certs     *fakeCerts
	rec       *Reconnector
	updates   <-chan vpn.Status
}

func newHarness(t *testing.T, networkUp networkChecker) *harness {
	t.Helper()

	backend := vpn.NewFakeBackend()
	connector := vpn.NewConnector(backend, testLogger())
	dialer := &fakeDialer{connector: connector}
	certs := &fakeCerts{}

	rec := New(connector, dialer, certs, networkUp, testLogger())
	rec.delayFn = func(int) time.Duration { return time.Millisecond }

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go connector.Run(ctx)
	go rec.Run(ctx)

	updates, unsubscribe := connector.Subscribe()
	t.Cleanup(unsubscribe)

	return &harness{connector: connector, backend: backend, dialer: dialer,
		certs: certs, rec: rec, updates: updates}
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.connector.Connect(context.Background(), vpn.Params{
		ServerID: "1", ServerName: "NL#1",
	}))
	h.waitForState(t, vpn.StateConnected)
}

func (h *harness) waitForState(t *testing.T, want vpn.State) {
	t.Helper()
	for {
		select {
		case status := <-h.updates:
			if status.State == want {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestReconnector_ReconnectsAfterTunnelDrop(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.backend.Emit(vpn.Event{Kind: vpn.EventDown})

	h.waitForState(t, vpn.StateConnected)
	assert.GreaterOrEqual(t, h.dialer.calls.Load(), int32(1))
	assert.GreaterOrEqual(t, h.backend.Connects(), 2)
}

func TestReconnector_GivesUpOnAuthDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.backend.Emit(vpn.Event{Kind: vpn.EventAuthDenied})
	h.waitForState(t, vpn.StateError)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, h.dialer.calls.Load())
	assert.False(t, h.rec.Pending())
}

func TestReconnector_GivesUpOnMaximumSessions(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.backend.Emit(vpn.Event{Kind: vpn.EventMaximumSessionsReached})
	h.waitForState(t, vpn.StateError)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, h.dialer.calls.Load())
}

func TestReconnector_RefreshesCertificateWhenExpired(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.backend.Emit(vpn.Event{Kind: vpn.EventExpiredCertificate})

	h.waitForState(t, vpn.StateConnected)
	assert.Equal(t, int32(1), h.certs.refreshes.Load())
}

func TestReconnector_WaitsForNetwork(t *testing.T) {
	var networkUp atomic.Bool
	h := newHarness(t, func() bool { return networkUp.Load() })
	h.connect(t)

	h.backend.Emit(vpn.Event{Kind: vpn.EventDown})
	h.waitForState(t, vpn.StateError)

	// The retry fires but finds the network down and stays pending.
	require.Eventually(t, h.rec.Pending, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.dialer.calls.Load())

	networkUp.Store(true)
	h.rec.Wake()

	h.waitForState(t, vpn.StateConnected)
	assert.False(t, h.rec.Pending())
}

func TestReconnector_RequestedDisconnectCancelsRetry(t *testing.T) {
	var networkUp atomic.Bool
	h := newHarness(t, func() bool { return networkUp.Load() })
	h.connect(t)

	h.backend.Emit(vpn.Event{Kind: vpn.EventDown})
	h.waitForState(t, vpn.StateError)
	require.Eventually(t, h.rec.Pending, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.connector.Disconnect(context.Background()))
	h.waitForState(t, vpn.StateDisconnected)

	require.Eventually(t, func() bool { return !h.rec.Pending() },
		2*time.Second, 5*time.Millisecond)

	networkUp.Store(true)
	h.rec.Wake()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.dialer.calls.Load())
}

func TestReconnectDelay(t *testing.T) {
	for attempts := 1; attempts <= 5; attempts++ {
		delay := reconnectDelay(attempts)
		base := time.Duration(int(1)<<(attempts-1)) * time.Second
		assert.GreaterOrEqual(t, delay, time.Duration(0.9*float64(base)))
		assert.LessOrEqual(t, delay, time.Duration(1.1*float64(base))+time.Millisecond)
	}
	assert.Equal(t, maxRetryDelay, reconnectDelay(20))
}

func TestNetworkMonitor_ReportsTransition(t *testing.T) {
	var up atomic.Bool
	var notified atomic.Int32

	monitor := NewNetworkMonitor(testLogger(), func() { notified.Add(1) })
	monitor.interval = 10 * time.Millisecond
	monitor.probe = func(context.Context) bool { return up.Load() }

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go monitor.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, notified.Load())

	up.Store(true)
	require.Eventually(t, func() bool { return notified.Load() == 1 },
		2*time.Second, 5*time.Millisecond)

	// Staying up does not re-notify.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), notified.Load())
}
