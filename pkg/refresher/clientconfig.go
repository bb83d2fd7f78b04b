package refresher

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polarisvpn/polaris-linux/pkg/api"
)

type clientConfigAPI interface {
	GetClientConfig(ctx context.Context) (*api.ClientConfig, error)
}

// ClientConfigRefresher keeps the client configuration (ports, protocols,
// smart routing) fresh.
type ClientConfigRefresher struct {
	api    clientConfigAPI
	log    *logrus.Entry
	poller *poller

	mu     sync.RWMutex
	config *api.ClientConfig
}

func NewClientConfigRefresher(sched *Scheduler, apiClient clientConfigAPI, log *logrus.Entry) *ClientConfigRefresher {
	r := &ClientConfigRefresher{api: apiClient, log: log}
	r.poller = newPoller(sched, log, "client-config", r.refresh)
	return r
}

func (r *ClientConfigRefresher) Start() { r.poller.start(0) }
func (r *ClientConfigRefresher) Stop()  { r.poller.stop() }

// Config returns the current client config, or nil before the first fetch.
func (r *ClientConfigRefresher) Config() *api.ClientConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

func (r *ClientConfigRefresher) refresh(ctx context.Context) (time.Duration, error) {
	now := time.Now()
	if current := r.Config(); current != nil && !current.Expired(now) {
		return current.SecondsUntilExpiration(now), nil
	}

	config, err := r.api.GetClientConfig(ctx)
	if err != nil {
		return 0, err
	}
	config.FetchedAt = now

	r.mu.Lock()
	r.config = config
	r.mu.Unlock()

	r.log.Info("Client config refreshed")
	return config.SecondsUntilExpiration(now), nil
}
