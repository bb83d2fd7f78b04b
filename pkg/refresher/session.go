package refresher

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polarisvpn/polaris-linux/pkg/api"
)

// tokenRenewBefore is how far before the access token expiry the session is
// refreshed.
const tokenRenewBefore = 5 * time.Minute

// tokenRenewFloor keeps consecutive renewals at least this far apart, even
// when the API keeps answering with tokens that are already inside the
// renewal window.
const tokenRenewFloor = time.Minute

// tokenFallbackInterval is the refresh interval used when the access token
// carries no readable expiry claim.
const tokenFallbackInterval = time.Hour

// sessionRefreshAPI is the slice of the session manager the refresher needs.
type sessionRefreshAPI interface {
	Refresh(ctx context.Context) error
	TokenExpiresAt() (time.Time, bool)
}

// SessionRefresher renews the access token shortly before the expiry parsed
// from its claims. When the API reports the session as expired beyond
// recovery it stops itself and fires onExpired, so the other refreshers can
// be shut down instead of hammering the API with a dead token.
type SessionRefresher struct {
	session   sessionRefreshAPI
	log       *logrus.Entry
	onExpired func()
	poller    *poller
}

func NewSessionRefresher(sched *Scheduler, session sessionRefreshAPI,
	log *logrus.Entry, onExpired func()) *SessionRefresher {
	r := &SessionRefresher{session: session, log: log, onExpired: onExpired}
	r.poller = newPoller(sched, log, "session", r.refresh)
	return r
}

func (r *SessionRefresher) Start() { r.poller.start(r.delayUntilRenewal()) }
func (r *SessionRefresher) Stop()  { r.poller.stop() }

func (r *SessionRefresher) delayUntilRenewal() time.Duration {
	expiry, ok := r.session.TokenExpiresAt()
	if !ok {
		return tokenFallbackInterval
	}
	delay := time.Until(expiry) - tokenRenewBefore
	if delay < 0 {
		return 0
	}
	return delay
}

func (r *SessionRefresher) refresh(ctx context.Context) (time.Duration, error) {
	err := r.session.Refresh(ctx)
	if err == nil {
		next := r.delayUntilRenewal()
		if next < tokenRenewFloor {
			next = tokenRenewFloor
		}
		r.log.WithField("next_in", next.Round(time.Second)).Info("Access token renewed")
		return next, nil
	}

	if errors.Is(err, api.ErrSessionExpired) || errors.Is(err, api.ErrWrongCredentials) {
		r.log.Warn("Session is no longer refreshable, stopping")
		r.poller.stop()
		if r.onExpired != nil {
			r.onExpired()
		}
		return 0, nil
	}
	return 0, err
}
