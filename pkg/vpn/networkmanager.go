package vpn

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// connectionName is the NetworkManager profile the backend owns. It is
// created on Connect and removed on Disconnect.
const connectionName = "polaris-vpn"

// pollInterval is how often the backend checks that an established tunnel is
// still up.
const pollInterval = 10 * time.Second

// runner executes a command and returns its combined output. Split out so
// tests can run the backend without nmcli installed.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NetworkManagerBackend establishes WireGuard tunnels through nmcli.
type NetworkManagerBackend struct {
	log    *logrus.Entry
	run    runner
	events chan Event

	mu       sync.Mutex
	watching bool
	stopPoll chan struct{}
}

// NewNetworkManagerBackend returns a backend that shells out to nmcli.
func NewNetworkManagerBackend(log *logrus.Entry) *NetworkManagerBackend {
	return &NetworkManagerBackend{
		log:    log,
		run:    execRunner,
		events: make(chan Event, 16),
	}
}

func (b *NetworkManagerBackend) Events() <-chan Event {
	return b.events
}

func (b *NetworkManagerBackend) Connect(ctx context.Context, params Params) error {
	if params.Host == "" {
		return fmt.Errorf("vpn: no entry address for server %s", params.ServerName)
	}

	// Drop any profile left behind by a previous run.
	b.removeConnection(ctx)

	args := []string{"connection", "add",
		"type", "wireguard",
		"con-name", connectionName,
		"ifname", "wg-polaris",
		"autoconnect", "no",
		"wireguard.peer-endpoint", net.JoinHostPort(params.Host, strconv.Itoa(params.Port)),
	}
	out, err := b.run(ctx, "nmcli", args...)
	if err != nil {
		return fmt.Errorf("create connection profile: %w: %s", err, strings.TrimSpace(string(out)))
	}

	go b.activate(context.WithoutCancel(ctx), params)
	return nil
}

// activate brings the profile up and translates the outcome into an event.
func (b *NetworkManagerBackend) activate(ctx context.Context, params Params) {
	out, err := b.run(ctx, "nmcli", "connection", "up", connectionName)
	if err != nil {
		b.log.WithField("output", strings.TrimSpace(string(out))).
			Error("Activating VPN connection failed")
		b.events <- Event{Kind: classifyNmcliFailure(string(out)), Err: err}
		return
	}

	b.log.WithField("server", params.ServerName).Info("Tunnel established")
	b.events <- Event{Kind: EventUp}
	b.startPolling()
}

func (b *NetworkManagerBackend) Disconnect(ctx context.Context) error {
	b.stopPolling()

	out, err := b.run(ctx, "nmcli", "connection", "down", connectionName)
	if err != nil && !strings.Contains(string(out), "not an active connection") {
		return fmt.Errorf("deactivate connection: %w: %s", err, strings.TrimSpace(string(out)))
	}
	b.removeConnection(ctx)

	b.events <- Event{Kind: EventDisconnected}
	return nil
}

func (b *NetworkManagerBackend) removeConnection(ctx context.Context) {
	out, err := b.run(ctx, "nmcli", "connection", "delete", connectionName)
	if err != nil && !strings.Contains(string(out), "unknown connection") {
		b.log.WithField("output", strings.TrimSpace(string(out))).
			Debug("Removing VPN connection profile failed")
	}
}

// startPolling watches the active connection and reports EventDown if
// NetworkManager drops it outside a requested disconnect.
func (b *NetworkManagerBackend) startPolling() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watching {
		return
	}
	b.watching = true
	b.stopPoll = make(chan struct{})

	go func(stop chan struct{}) {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if b.connectionActive() {
					continue
				}
				b.stopPolling()
				b.events <- Event{Kind: EventDown}
				return
			}
		}
	}(b.stopPoll)
}

func (b *NetworkManagerBackend) stopPolling() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.watching {
		return
	}
	b.watching = false
	close(b.stopPoll)
}

func (b *NetworkManagerBackend) connectionActive() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := b.run(ctx, "nmcli", "-t", "-f", "GENERAL.STATE", "connection", "show", connectionName)
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "activated")
}

// classifyNmcliFailure maps nmcli error output to an event kind.
func classifyNmcliFailure(output string) EventKind {
	switch {
	case strings.Contains(output, "Timeout"):
		return EventTimeout
	case strings.Contains(output, "Secrets were required"):
		return EventAuthDenied
	default:
		return EventUnexpectedError
	}
}
