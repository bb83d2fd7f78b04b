package refresher

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func startScheduler(t *testing.T) *Scheduler {
	t.Helper()
	sched := NewScheduler(testLogger())
	sched.tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)
	return sched
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestScheduler_RunsDueTask(t *testing.T) {
	sched := startScheduler(t)

	var ran atomic.Bool
	sched.ScheduleAfter(0, "test", func() { ran.Store(true) })

	eventually(t, ran.Load, "task did not run")
	assert.Zero(t, sched.Pending())
}

func TestScheduler_RespectsDeadline(t *testing.T) {
	sched := startScheduler(t)

	var ran atomic.Bool
	sched.ScheduleAfter(time.Hour, "later", func() { ran.Store(true) })

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Equal(t, 1, sched.Pending())
}

func TestScheduler_RunsPastDeadlineTask(t *testing.T) {
	// A deadline in the past must fire immediately, the way it does after a
	// suspend that outlasted the deadline.
	sched := startScheduler(t)

	var ran atomic.Bool
	sched.ScheduleAt(time.Now().Add(-time.Hour), "overdue", func() { ran.Store(true) })

	eventually(t, ran.Load, "overdue task did not run")
}

func TestScheduler_Cancel(t *testing.T) {
	sched := startScheduler(t)

	var ran atomic.Bool
	id := sched.ScheduleAfter(30*time.Millisecond, "cancelled", func() { ran.Store(true) })
	sched.Cancel(id)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Zero(t, sched.Pending())
}

func TestScheduler_MultipleTasksInOrder(t *testing.T) {
	sched := startScheduler(t)

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		sched.ScheduleAfter(0, "batch", func() { count.Add(1) })
	}

	eventually(t, func() bool { return count.Load() == 5 }, "not all tasks ran")
}

func TestRetryDelay_GrowsExponentially(t *testing.T) {
	base := time.Second
	for attempts := 1; attempts <= 5; attempts++ {
		delay := retryDelay(base, attempts)
		floor := time.Duration(float64(base) * float64(int(1)<<(attempts-1)))
		assert.GreaterOrEqual(t, delay, floor)
		assert.Less(t, delay, 2*floor+time.Millisecond)
	}
}

func TestRetryDelay_Capped(t *testing.T) {
	assert.Equal(t, maxRetryDelay, retryDelay(time.Second, 30))
}
