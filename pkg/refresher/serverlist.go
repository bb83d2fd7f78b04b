package refresher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polarisvpn/polaris-linux/pkg/cache"
	"github.com/polarisvpn/polaris-linux/pkg/serverlist"
)

// serversAPI is the slice of the API client the server list refresher uses.
type serversAPI interface {
	GetLogicals(ctx context.Context) ([]serverlist.LogicalServer, error)
	GetLoads(ctx context.Context) ([]serverlist.ServerLoad, error)
}

// ServerListRefresher keeps the logical server list and the per-server loads
// fresh. The full list is re-fetched when it passes its jittered refresh
// interval; in between, only the much cheaper loads endpoint is polled.
type ServerListRefresher struct {
	api      serversAPI
	store    *cache.Store
	log      *logrus.Entry
	userTier func() int
	onUpdate func(*serverlist.ServerList)
	poller   *poller

	mu   sync.RWMutex
	list *serverlist.ServerList
}

// NewServerListRefresher builds a stopped refresher. userTier reports the
// tier of the logged-in user so list lookups can be capped to it. onUpdate,
// when not nil, is called with every new list, including the one restored
// from cache.
func NewServerListRefresher(sched *Scheduler, api serversAPI, store *cache.Store,
	log *logrus.Entry, userTier func() int, onUpdate func(*serverlist.ServerList)) *ServerListRefresher {
	r := &ServerListRefresher{
		api:      api,
		store:    store,
		log:      log,
		userTier: userTier,
		onUpdate: onUpdate,
	}
	r.poller = newPoller(sched, log, "server-list", r.refresh)
	return r
}

// Start restores the cached list and begins refreshing. Anything stale is
// fetched right away; a fresh cached list defers the first fetch to its
// expiration.
func (r *ServerListRefresher) Start() {
	list, err := r.store.LoadServerList()
	switch {
	case err == nil:
		r.setList(list)
		r.log.WithField("servers", len(list.Servers)).Info("Restored server list from cache")
	case errors.Is(err, cache.ErrEmpty):
	default:
		r.log.WithError(err).Warn("Could not restore server list from cache")
	}
	r.poller.start(0)
}

// Stop cancels pending refreshes.
func (r *ServerListRefresher) Stop() {
	r.poller.stop()
}

// List returns the current list, or nil before the first successful fetch
// when the cache was empty.
func (r *ServerListRefresher) List() *serverlist.ServerList {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list
}

// ForceRefresh discards the schedule and refreshes now.
func (r *ServerListRefresher) ForceRefresh() {
	r.poller.stop()
	r.poller.start(0)
}

func (r *ServerListRefresher) setList(list *serverlist.ServerList) {
	r.mu.Lock()
	r.list = list
	r.mu.Unlock()
	if r.onUpdate != nil {
		r.onUpdate(list)
	}
}

func (r *ServerListRefresher) refresh(ctx context.Context) (time.Duration, error) {
	now := time.Now()
	current := r.List()

	if current == nil || current.Expired(now) {
		servers, err := r.api.GetLogicals(ctx)
		if err != nil {
			return 0, err
		}
		list := serverlist.New(servers, r.userTier(), now)

		// The logicals payload already carries loads, so both clocks reset.
		list.LoadsFetchedAt = now
		r.persist(list)
		r.setList(list)
		r.log.WithField("servers", len(servers)).Info("Server list refreshed")
		return r.nextDelay(list, now), nil
	}

	if current.LoadsExpired(now) {
		loads, err := r.api.GetLoads(ctx)
		if err != nil {
			return 0, err
		}
		current.ApplyLoads(loads, now)
		r.persist(current)
		r.setList(current)
		r.log.Info("Server loads refreshed")
	}
	return r.nextDelay(current, now), nil
}

// nextDelay returns the time until the earlier of the list expiration and
// the loads expiration.
func (r *ServerListRefresher) nextDelay(list *serverlist.ServerList, now time.Time) time.Duration {
	next := list.SecondsUntilExpiration(now)
	loadsIn := list.LoadsFetchedAt.Add(serverlist.LoadsRefreshInterval).Sub(now)
	if loadsIn < 0 {
		loadsIn = 0
	}
	if loadsIn < next {
		next = loadsIn
	}
	return next
}

func (r *ServerListRefresher) persist(list *serverlist.ServerList) {
	if err := r.store.SaveServerList(list); err != nil {
		r.log.WithError(err).Warn("Could not persist server list")
	}
}
