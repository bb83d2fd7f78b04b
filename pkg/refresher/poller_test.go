package refresher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoller_ReschedulesAtReportedInterval(t *testing.T) {
	sched := startScheduler(t)

	var calls atomic.Int32
	p := newPoller(sched, testLogger(), "test", func(context.Context) (time.Duration, error) {
		calls.Add(1)
		return time.Millisecond, nil
	})
	p.start(0)
	defer p.stop()

	eventually(t, func() bool { return calls.Load() >= 3 }, "refresh did not repeat")
}

func TestPoller_StopCancelsInFlightContext(t *testing.T) {
	sched := startScheduler(t)

	cancelled := make(chan struct{})
	p := newPoller(sched, testLogger(), "test", func(ctx context.Context) (time.Duration, error) {
		<-ctx.Done()
		close(cancelled)
		return 0, ctx.Err()
	})
	p.start(0)

	time.Sleep(20 * time.Millisecond)
	p.stop()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not cancel the in-flight refresh")
	}
}

func TestPoller_RestartDuringRefreshKeepsSingleChain(t *testing.T) {
	sched := startScheduler(t)

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	p := newPoller(sched, testLogger(), "test", func(context.Context) (time.Duration, error) {
		entered <- struct{}{}
		<-release
		return time.Hour, nil
	})

	p.start(0)
	<-entered

	// Restart while the first refresh is still in flight, the way a forced
	// refresh does.
	p.stop()
	p.start(0)
	close(release)
	<-entered
	defer p.stop()

	// Only the restarted chain may schedule the next refresh; the stale one
	// must not fork a second chain.
	eventually(t, func() bool { return sched.Pending() == 1 }, "next refresh not scheduled")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sched.Pending())
}

func TestPoller_BacksOffOnFailure(t *testing.T) {
	sched := startScheduler(t)

	var calls atomic.Int32
	p := newPoller(sched, testLogger(), "test", func(context.Context) (time.Duration, error) {
		calls.Add(1)
		return 0, errors.New("api down")
	})
	p.retryBase = time.Millisecond
	p.start(0)
	defer p.stop()

	eventually(t, func() bool { return calls.Load() >= 2 }, "failed refresh was not retried")

	p.mu.Lock()
	attempts := p.attempts
	p.mu.Unlock()
	assert.GreaterOrEqual(t, attempts, 2)
}
