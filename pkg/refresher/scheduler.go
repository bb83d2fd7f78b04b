// Package refresher keeps the session's VPN data fresh in the background:
// server list, client config, client certificate and feature flags.
package refresher

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// schedulerTick is how often the scheduler compares task deadlines against
// the wall clock.
const schedulerTick = 10 * time.Second

type scheduledTask struct {
	id  int64
	at  time.Time
	fn  func()
	tag string
}

// Scheduler runs functions at wall-clock deadlines. Deadlines are compared
// against time.Now on every tick rather than counted down with timers, so a
// task scheduled for three hours from now still fires on time when the
// machine spends those hours suspended.
type Scheduler struct {
	log  *logrus.Entry
	tick time.Duration

	mu     sync.Mutex
	nextID int64
	tasks  map[int64]scheduledTask
	kick   chan struct{}
}

// NewScheduler returns a stopped scheduler. Call Run to start executing
// tasks.
func NewScheduler(log *logrus.Entry) *Scheduler {
	return &Scheduler{
		log:   log,
		tick:  schedulerTick,
		tasks: make(map[int64]scheduledTask),
		kick:  make(chan struct{}, 1),
	}
}

// Run executes due tasks until ctx is cancelled. Pending tasks are kept, so
// a scheduler can be resumed by calling Run again.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.runDue(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(time.Now())
		case <-s.kick:
			s.runDue(time.Now())
		}
	}
}

// ScheduleAt registers fn to run at the given time. The tag only shows up in
// logs. The returned id cancels the task via Cancel.
func (s *Scheduler) ScheduleAt(at time.Time, tag string, fn func()) int64 {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.tasks[id] = scheduledTask{id: id, at: at, fn: fn, tag: tag}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"task": tag, "at": at.Format(time.RFC3339)}).
		Debug("Task scheduled")

	if !at.After(time.Now()) {
		// Already due; wake the loop instead of waiting for the next tick.
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return id
}

// ScheduleAfter registers fn to run once the given delay has elapsed.
func (s *Scheduler) ScheduleAfter(delay time.Duration, tag string, fn func()) int64 {
	return s.ScheduleAt(time.Now().Add(delay), tag, fn)
}

// Cancel removes a pending task. Cancelling an unknown or already-run id is
// a no-op.
func (s *Scheduler) Cancel(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// Pending returns the number of tasks waiting to run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	var due []scheduledTask
	for id, task := range s.tasks {
		if !task.at.After(now) {
			due = append(due, task)
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()

	for _, task := range due {
		s.log.WithField("task", task.tag).Debug("Running task")
		task.fn()
	}
}
