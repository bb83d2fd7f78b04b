package refresher

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polarisvpn/polaris-linux/pkg/api"
)

type featureFlagsAPI interface {
	GetFeatureFlags(ctx context.Context) (api.FeatureFlags, error)
}

// FeatureFlagsRefresher polls the feature flag endpoint on a fixed interval.
// Flags default to off until the first successful fetch.
type FeatureFlagsRefresher struct {
	api    featureFlagsAPI
	log    *logrus.Entry
	poller *poller

	mu    sync.RWMutex
	flags api.FeatureFlags
}

func NewFeatureFlagsRefresher(sched *Scheduler, apiClient featureFlagsAPI, log *logrus.Entry) *FeatureFlagsRefresher {
	r := &FeatureFlagsRefresher{api: apiClient, log: log}
	r.poller = newPoller(sched, log, "feature-flags", r.refresh)
	return r
}

func (r *FeatureFlagsRefresher) Start() { r.poller.start(0) }
func (r *FeatureFlagsRefresher) Stop()  { r.poller.stop() }

// Enabled reports whether the named flag is on. Unknown flags are off.
func (r *FeatureFlagsRefresher) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags.Get(name)
}

// Flags returns the current flag set, which may be nil before the first
// fetch.
func (r *FeatureFlagsRefresher) Flags() api.FeatureFlags {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags
}

func (r *FeatureFlagsRefresher) refresh(ctx context.Context) (time.Duration, error) {
	flags, err := r.api.GetFeatureFlags(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.flags = flags
	r.mu.Unlock()

	r.log.WithField("flags", len(flags)).Debug("Feature flags refreshed")
	return api.FeatureFlagsRefreshInterval, nil
}
