package reconnector

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

// SessionMonitor listens for desktop session unlocks on the logind D-Bus
// interface. The tunnel often dies while the laptop sits locked and
// suspended, so an unlock is a good moment to retry right away instead of
// waiting out the backoff.
type SessionMonitor struct {
	log      *logrus.Entry
	onUnlock func()
	conn     *dbus.Conn
}

// NewSessionMonitor connects to the system bus and subscribes to logind
// session Unlock signals.
func NewSessionMonitor(log *logrus.Entry, onUnlock func()) (*SessionMonitor, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.login1.Session"),
		dbus.WithMatchMember("Unlock"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to session unlock signals: %w", err)
	}

	return &SessionMonitor{log: log, onUnlock: onUnlock, conn: conn}, nil
}

// Run dispatches unlock signals until ctx is cancelled, then closes the bus
// connection.
func (m *SessionMonitor) Run(ctx context.Context) {
	signals := make(chan *dbus.Signal, 8)
	m.conn.Signal(signals)
	defer m.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case signal, ok := <-signals:
			if !ok {
				return
			}
			if signal.Name == "org.freedesktop.login1.Session.Unlock" {
				m.log.Info("Desktop session unlocked")
				m.onUnlock()
			}
		}
	}
}
