package refresher

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// defaultRetryBase is the first-retry delay used when a refresh fails.
const defaultRetryBase = time.Second

// poller is the loop shared by all refreshers: run a refresh, schedule the
// next one at the interval the refresh reports, and back off exponentially
// while refreshes fail.
type poller struct {
	sched *Scheduler
	log   *logrus.Entry
	name  string
	// refresh fetches fresh data and returns when the next refresh is due.
	// The returned delay is only consulted on success.
	refresh   func(ctx context.Context) (time.Duration, error)
	retryBase time.Duration

	mu       sync.Mutex
	running  bool
	attempts int
	taskID   int64
	ctx      context.Context
	cancel   context.CancelFunc
}

func newPoller(sched *Scheduler, log *logrus.Entry, name string,
	refresh func(ctx context.Context) (time.Duration, error)) *poller {
	return &poller{
		sched:     sched,
		log:       log.WithField("refresher", name),
		name:      name,
		refresh:   refresh,
		retryBase: defaultRetryBase,
	}
}

// start schedules the first refresh after the given delay. Starting an
// already-started poller is a no-op.
func (p *poller) start(initialDelay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.attempts = 0
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.taskID = p.sched.ScheduleAfter(initialDelay, p.name, p.run)
}

// stop cancels the pending refresh and any in-flight request.
func (p *poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.cancel()
	p.sched.Cancel(p.taskID)
}

func (p *poller) run() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	p.mu.Unlock()

	next, err := p.refresh(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	// A stop, or a stop/start cycle, while the refresh was in flight hands
	// the schedule over to the restarted chain. This run must not reschedule
	// on top of it.
	if !p.running || p.ctx != ctx {
		return
	}

	if err != nil {
		p.attempts++
		next = retryDelay(p.retryBase, p.attempts)
		p.log.WithError(err).WithField("retry_in", next.Round(time.Millisecond)).
			Warn("Refresh failed")
	} else {
		p.attempts = 0
	}
	p.taskID = p.sched.ScheduleAfter(next, p.name, p.run)
}
