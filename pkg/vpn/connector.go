package vpn

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/polarisvpn/polaris-linux/pkg/logging"
)

// ErrAlreadyActive is returned by Connect while a connection attempt is in
// flight or a tunnel is established.
var ErrAlreadyActive = errors.New("vpn: connection already active")

// Status is a snapshot of the connection state machine.
type Status struct {
	State      State
	ServerID   string
	ServerName string
	Protocol   string
	// AttemptID changes on every Connect call so that subscribers can tell
	// events of distinct attempts apart.
	AttemptID uuid.UUID
	// LastEvent is the backend event that produced this status, if any.
	LastEvent EventKind
	// Err is set when State is StateError.
	Err error
}

// Connector runs the connection state machine on top of a Backend. It turns
// Connect/Disconnect requests and backend events into state transitions and
// fans the resulting statuses out to subscribers.
type Connector struct {
	backend Backend
	log     *logrus.Entry

	mu          sync.Mutex
	status      Status
	subscribers map[int]chan Status
	nextSubID   int
}

// NewConnector returns a Connector in the Disconnected state. Run must be
// called before backend events are processed.
func NewConnector(backend Backend, log *logrus.Entry) *Connector {
	return &Connector{
		backend:     backend,
		log:         log,
		status:      Status{State: StateDisconnected},
		subscribers: make(map[int]chan Status),
	}
}

// Run consumes backend events until ctx is cancelled.
func (c *Connector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.backend.Events():
			if !ok {
				return
			}
			c.handleEvent(event)
		}
	}
}

// Status returns the current state machine snapshot.
func (c *Connector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscribe registers for status updates. The returned channel is buffered;
// updates are dropped for subscribers that fall behind. The cancel function
// unregisters the subscriber and closes the channel.
func (c *Connector) Subscribe() (<-chan Status, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Status, 16)
	c.subscribers[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Connect starts a connection attempt to the given server. It returns once
// the backend accepted the request; the outcome arrives as a status update.
func (c *Connector) Connect(ctx context.Context, params Params) error {
	c.mu.Lock()
	if c.status.State.IsActive() {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	attemptID := uuid.New()
	c.setStatusLocked(Status{
		State:      StateConnecting,
		ServerID:   params.ServerID,
		ServerName: params.ServerName,
		Protocol:   params.Protocol,
		AttemptID:  attemptID,
	})
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"server":  params.ServerName,
		"attempt": attemptID,
	}).Info("Connecting")

	if err := c.backend.Connect(ctx, params); err != nil {
		c.mu.Lock()
		status := c.status
		status.State = StateError
		status.LastEvent = EventUnexpectedError
		status.Err = err
		c.setStatusLocked(status)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect tears the tunnel down. Calling it while already disconnected is
// a no-op.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status.State {
	case StateDisconnected, StateDisconnecting:
		c.mu.Unlock()
		return nil
	}
	status := c.status
	status.State = StateDisconnecting
	c.setStatusLocked(status)
	c.mu.Unlock()

	c.log.Info("Disconnecting")

	if err := c.backend.Disconnect(ctx); err != nil {
		c.mu.Lock()
		status := c.status
		status.State = StateError
		status.LastEvent = EventUnexpectedError
		status.Err = err
		c.setStatusLocked(status)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Connector) handleEvent(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status
	status.LastEvent = event.Kind
	status.Err = nil

	switch event.Kind {
	case EventUp:
		if status.State != StateConnecting {
			// A stray Up outside an attempt is ignored.
			return
		}
		status.State = StateConnected
	case EventDisconnected:
		status.State = StateDisconnected
		status.ServerID = ""
		status.ServerName = ""
		status.Protocol = ""
	case EventDown, EventTimeout, EventAuthDenied, EventExpiredCertificate,
		EventMaximumSessionsReached, EventUnexpectedError:
		if !status.State.IsActive() {
			return
		}
		status.State = StateError
		status.Err = event.Err
	default:
		c.log.WithField("event", event.Kind).Warn("Ignoring unknown backend event")
		return
	}

	logging.WithEvent(c.log, event.Kind.String()).
		WithField("state", status.State.String()).
		Info("Connection state changed")
	c.setStatusLocked(status)
}

// setStatusLocked records the new status and notifies subscribers. The caller
// must hold c.mu.
func (c *Connector) setStatusLocked(status Status) {
	c.status = status
	for _, sub := range c.subscribers {
		select {
		case sub <- status:
		default:
		}
	}
}
