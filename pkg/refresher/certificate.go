package refresher

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polarisvpn/polaris-linux/pkg/api"
)

type certificateAPI interface {
	GetCertificate(ctx context.Context) (*api.Certificate, error)
}

// CertificateRefresher keeps the client certificate used for tunnel
// authentication valid. A new certificate is requested about halfway through
// the current one's lifetime, jittered so that renewals spread out.
type CertificateRefresher struct {
	api    certificateAPI
	log    *logrus.Entry
	poller *poller

	mu   sync.RWMutex
	cert *api.Certificate
}

func NewCertificateRefresher(sched *Scheduler, apiClient certificateAPI, log *logrus.Entry) *CertificateRefresher {
	r := &CertificateRefresher{api: apiClient, log: log}
	r.poller = newPoller(sched, log, "certificate", r.refresh)
	return r
}

func (r *CertificateRefresher) Start() { r.poller.start(0) }
func (r *CertificateRefresher) Stop()  { r.poller.stop() }

// Certificate returns the current certificate, or nil before the first
// fetch.
func (r *CertificateRefresher) Certificate() *api.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

// ForceRefresh requests a new certificate immediately. Used when a server
// rejects the current one as expired.
func (r *CertificateRefresher) ForceRefresh() {
	r.poller.stop()
	r.poller.start(0)
}

func (r *CertificateRefresher) refresh(ctx context.Context) (time.Duration, error) {
	cert, err := r.api.GetCertificate(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.cert = cert
	r.mu.Unlock()

	r.log.WithField("expires_at", cert.ExpiresAt.Format(time.RFC3339)).
		Info("Client certificate refreshed")
	return nextCertRefresh(cert, time.Now()), nil
}

// nextCertRefresh picks a renewal time in the middle of the remaining
// lifetime, drawn uniformly from [0.45, 0.55] of it.
func nextCertRefresh(cert *api.Certificate, now time.Time) time.Duration {
	remaining := cert.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	fraction := 0.45 + 0.1*rand.Float64()
	return time.Duration(float64(remaining) * fraction)
}
