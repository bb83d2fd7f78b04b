package refresher

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/polarisvpn/polaris-linux/pkg/cache"
	"github.com/polarisvpn/polaris-linux/pkg/serverlist"
)

// clientAPI is the full API surface the refreshers need. *api.Client
// satisfies it.
type clientAPI interface {
	serversAPI
	clientConfigAPI
	certificateAPI
	featureFlagsAPI
}

// VPNDataRefresher bundles the individual refreshers behind a single
// Start/Stop pair that the daemon flips on login and logout.
type VPNDataRefresher struct {
	sched *Scheduler
	log   *logrus.Entry

	Session      *SessionRefresher
	ServerList   *ServerListRefresher
	ClientConfig *ClientConfigRefresher
	Certificate  *CertificateRefresher
	FeatureFlags *FeatureFlagsRefresher

	mu      sync.Mutex
	enabled bool
}

// NewVPNDataRefresher wires the refreshers to a shared scheduler. userTier
// and onServerList are forwarded to the server list refresher. When the
// session expires beyond recovery, all refreshers stop.
func NewVPNDataRefresher(apiClient clientAPI, sess sessionRefreshAPI, store *cache.Store,
	log *logrus.Entry, userTier func() int, onServerList func(*serverlist.ServerList)) *VPNDataRefresher {
	sched := NewScheduler(log)
	v := &VPNDataRefresher{
		sched:        sched,
		log:          log,
		ServerList:   NewServerListRefresher(sched, apiClient, store, log, userTier, onServerList),
		ClientConfig: NewClientConfigRefresher(sched, apiClient, log),
		Certificate:  NewCertificateRefresher(sched, apiClient, log),
		FeatureFlags: NewFeatureFlagsRefresher(sched, apiClient, log),
	}
	v.Session = NewSessionRefresher(sched, sess, log, v.Stop)
	return v
}

// Run drives the shared scheduler until ctx is cancelled. It must be running
// for Start to have any effect.
func (v *VPNDataRefresher) Run(ctx context.Context) {
	v.sched.Run(ctx)
}

// Start begins refreshing all VPN data. Called when a session becomes
// available.
func (v *VPNDataRefresher) Start() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.enabled {
		return
	}
	v.enabled = true

	v.log.Info("Starting VPN data refreshers")
	v.Session.Start()
	v.ServerList.Start()
	v.ClientConfig.Start()
	v.Certificate.Start()
	v.FeatureFlags.Start()
}

// Stop halts all refreshing. Called on logout.
func (v *VPNDataRefresher) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.enabled {
		return
	}
	v.enabled = false

	v.log.Info("Stopping VPN data refreshers")
	v.Session.Stop()
	v.ServerList.Stop()
	v.ClientConfig.Stop()
	v.Certificate.Stop()
	v.FeatureFlags.Stop()
}
