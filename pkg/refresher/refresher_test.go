package refresher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarisvpn/polaris-linux/pkg/api"
	"github.com/polarisvpn/polaris-linux/pkg/cache"
	"github.com/polarisvpn/polaris-linux/pkg/serverlist"
)

type fakeAPI struct {
	mu sync.Mutex

	logicals    []serverlist.LogicalServer
	logicalsErr error
	loads       []serverlist.ServerLoad
	config      *api.ClientConfig
	cert        *api.Certificate
	flags       api.FeatureFlags

	logicalsCalls int
	loadsCalls    int
	certCalls     int
}

func (f *fakeAPI) GetLogicals(context.Context) ([]serverlist.LogicalServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logicalsCalls++
	if f.logicalsErr != nil {
		return nil, f.logicalsErr
	}
	return f.logicals, nil
}

func (f *fakeAPI) GetLoads(context.Context) ([]serverlist.ServerLoad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadsCalls++
	return f.loads, nil
}

func (f *fakeAPI) GetClientConfig(context.Context) (*api.ClientConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.config == nil {
		return nil, errors.New("no config")
	}
	config := *f.config
	return &config, nil
}

func (f *fakeAPI) GetCertificate(context.Context) (*api.Certificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.certCalls++
	if f.cert == nil {
		return nil, errors.New("no certificate")
	}
	cert := *f.cert
	return &cert, nil
}

func (f *fakeAPI) GetFeatureFlags(context.Context) (api.FeatureFlags, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flags == nil {
		return nil, errors.New("no flags")
	}
	return f.flags, nil
}

func (f *fakeAPI) calls() (logicals, loads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logicalsCalls, f.loadsCalls
}

// fakeSession is a minimal session manager for refresher tests.
type fakeSession struct {
	mu         sync.Mutex
	expiry     time.Time
	refreshErr error
	refreshes  int
}

func (f *fakeSession) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeSession) TokenExpiresAt() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expiry.IsZero() {
		return time.Time{}, false
	}
	return f.expiry, true
}

func (f *fakeSession) refreshCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func openStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fixedTier(tier int) func() int {
	return func() int { return tier }
}

func TestServerListRefresher_FetchesWhenCacheEmpty(t *testing.T) {
	sched := startScheduler(t)
	backend := &fakeAPI{logicals: []serverlist.LogicalServer{
		{ID: "1", Name: "NL#1", ExitCountry: "NL"},
	}}
	store := openStore(t)

	var updates atomic.Int32
	r := NewServerListRefresher(sched, backend, store, testLogger(), fixedTier(2),
		func(*serverlist.ServerList) { updates.Add(1) })
	r.Start()
	defer r.Stop()

	eventually(t, func() bool { return r.List() != nil }, "list never fetched")
	assert.Equal(t, 2, r.List().UserTier)
	assert.NotNil(t, r.List().GetByName("NL#1"))
	assert.GreaterOrEqual(t, updates.Load(), int32(1))

	// The fetched list must be persisted for the next startup.
	cached, err := store.LoadServerList()
	require.NoError(t, err)
	assert.Len(t, cached.Servers, 1)
}

func TestServerListRefresher_FreshCacheSkipsFetch(t *testing.T) {
	sched := startScheduler(t)
	backend := &fakeAPI{}
	store := openStore(t)

	list := serverlist.New([]serverlist.LogicalServer{{ID: "1", Name: "NL#1"}}, 0, time.Now())
	list.LoadsFetchedAt = time.Now()
	require.NoError(t, store.SaveServerList(list))

	r := NewServerListRefresher(sched, backend, store, testLogger(), fixedTier(0), nil)
	r.Start()
	defer r.Stop()

	eventually(t, func() bool { return r.List() != nil }, "cached list not restored")
	time.Sleep(50 * time.Millisecond)

	logicals, loads := backend.calls()
	assert.Zero(t, logicals)
	assert.Zero(t, loads)
}

func TestServerListRefresher_RefreshesOnlyLoadsWhenListFresh(t *testing.T) {
	sched := startScheduler(t)
	backend := &fakeAPI{loads: []serverlist.ServerLoad{{ID: "1", Load: 95, Score: 9}}}
	store := openStore(t)

	list := serverlist.New([]serverlist.LogicalServer{{ID: "1", Name: "NL#1", Load: 10}}, 0, time.Now())
	list.LoadsFetchedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.SaveServerList(list))

	r := NewServerListRefresher(sched, backend, store, testLogger(), fixedTier(0), nil)
	r.Start()
	defer r.Stop()

	eventually(t, func() bool {
		current := r.List()
		return current != nil && current.GetByID("1").Load == 95
	}, "loads never refreshed")

	logicals, loads := backend.calls()
	assert.Zero(t, logicals)
	assert.Equal(t, 1, loads)
}

func TestServerListRefresher_RetriesOnFailure(t *testing.T) {
	sched := startScheduler(t)
	backend := &fakeAPI{logicalsErr: errors.New("api down")}
	store := openStore(t)

	r := NewServerListRefresher(sched, backend, store, testLogger(), fixedTier(0), nil)
	r.poller.retryBase = time.Millisecond
	r.Start()
	defer r.Stop()

	eventually(t, func() bool {
		logicals, _ := backend.calls()
		return logicals >= 2
	}, "refresh was not retried")
	assert.Nil(t, r.List())
}

func TestClientConfigRefresher(t *testing.T) {
	sched := startScheduler(t)
	backend := &fakeAPI{config: &api.ClientConfig{
		OpenVPNPortsUDP: []int{1194},
		Protocols:       []string{"wireguard"},
	}}

	r := NewClientConfigRefresher(sched, backend, testLogger())
	r.Start()
	defer r.Stop()

	eventually(t, func() bool { return r.Config() != nil }, "config never fetched")
	config := r.Config()
	assert.Equal(t, []int{1194}, config.OpenVPNPortsUDP)
	assert.False(t, config.Expired(time.Now()))
}

func TestCertificateRefresher(t *testing.T) {
	sched := startScheduler(t)
	backend := &fakeAPI{cert: &api.Certificate{
		Certificate: "-----BEGIN CERTIFICATE-----",
		IssuedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}}

	r := NewCertificateRefresher(sched, backend, testLogger())
	r.Start()
	defer r.Stop()

	eventually(t, func() bool { return r.Certificate() != nil }, "certificate never fetched")
}

func TestCertificateRefresher_ForceRefresh(t *testing.T) {
	sched := startScheduler(t)
	backend := &fakeAPI{cert: &api.Certificate{
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}}

	r := NewCertificateRefresher(sched, backend, testLogger())
	r.Start()
	defer r.Stop()
	eventually(t, func() bool { return r.Certificate() != nil }, "certificate never fetched")

	r.ForceRefresh()
	eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.certCalls >= 2
	}, "forced refresh did not fetch")
}

func TestNextCertRefresh_Bounds(t *testing.T) {
	cert := &api.Certificate{ExpiresAt: time.Now().Add(10 * time.Hour)}
	for i := 0; i < 20; i++ {
		delay := nextCertRefresh(cert, time.Now())
		assert.Greater(t, delay, 4*time.Hour)
		assert.Less(t, delay, 6*time.Hour)
	}

	expired := &api.Certificate{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.Equal(t, time.Duration(0), nextCertRefresh(expired, time.Now()))
}

func TestFeatureFlagsRefresher(t *testing.T) {
	sched := startScheduler(t)
	backend := &fakeAPI{flags: api.FeatureFlags{"port-forwarding": true}}

	r := NewFeatureFlagsRefresher(sched, backend, testLogger())
	r.Start()
	defer r.Stop()

	eventually(t, func() bool { return r.Flags() != nil }, "flags never fetched")
	assert.True(t, r.Enabled("port-forwarding"))
	assert.False(t, r.Enabled("unknown"))
}

func TestSessionRefresher_RenewsTokenInsideRenewalWindow(t *testing.T) {
	sched := startScheduler(t)
	sess := &fakeSession{expiry: time.Now().Add(time.Minute)}

	r := NewSessionRefresher(sched, sess, testLogger(), nil)
	r.Start()
	defer r.Stop()

	// One renewal runs and the next one is scheduled, not spinning.
	eventually(t, func() bool {
		return sess.refreshCalls() >= 1 && sched.Pending() == 1
	}, "token never renewed")
	assert.Equal(t, 1, sess.refreshCalls())
}

func TestSessionRefresher_WaitsForDistantExpiry(t *testing.T) {
	sched := startScheduler(t)
	sess := &fakeSession{expiry: time.Now().Add(12 * time.Hour)}

	r := NewSessionRefresher(sched, sess, testLogger(), nil)
	r.Start()
	defer r.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sess.refreshCalls())
	assert.Equal(t, 1, sched.Pending())
}

func TestSessionRefresher_StopsWhenSessionExpired(t *testing.T) {
	sched := startScheduler(t)
	sess := &fakeSession{
		expiry:     time.Now().Add(time.Minute),
		refreshErr: api.ErrSessionExpired,
	}

	var expired atomic.Bool
	r := NewSessionRefresher(sched, sess, testLogger(), func() { expired.Store(true) })
	r.Start()

	eventually(t, expired.Load, "expired session did not stop the refresher")
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sched.Pending())
	assert.Equal(t, 1, sess.refreshCalls())
}

func TestVPNDataRefresher_StartStop(t *testing.T) {
	backend := &fakeAPI{
		logicals: []serverlist.LogicalServer{{ID: "1", Name: "NL#1"}},
		config:   &api.ClientConfig{},
		cert:     &api.Certificate{IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)},
		flags:    api.FeatureFlags{},
	}
	store := openStore(t)

	sess := &fakeSession{expiry: time.Now().Add(time.Hour)}
	v := NewVPNDataRefresher(backend, sess, store, testLogger(), fixedTier(0), nil)
	v.sched.tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go v.Run(ctx)

	v.Start()
	eventually(t, func() bool {
		return v.ServerList.List() != nil && v.ClientConfig.Config() != nil &&
			v.Certificate.Certificate() != nil && v.FeatureFlags.Flags() != nil
	}, "refreshers did not all fetch")

	v.Stop()
	// Stop is idempotent.
	v.Stop()
}
