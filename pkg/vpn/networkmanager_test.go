package vpn

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
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

// fakeRunner records nmcli invocations and scripts their outcomes.
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	fail     map[string]string
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmd := name + " " + strings.Join(args, " ")
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()

	for prefix, output := range f.fail {
		if strings.HasPrefix(cmd, prefix) {
			return []byte(output), errors.New("exit status 4")
		}
	}
	return nil, nil
}

func (f *fakeRunner) commandMatching(substr string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cmd := range f.commands {
		if strings.Contains(cmd, substr) {
			return cmd
		}
	}
	return ""
}

func newTestBackend(runner *fakeRunner) *NetworkManagerBackend {
	b := NewNetworkManagerBackend(testLogger())
	b.run = runner.run
	return b
}

func waitEvent(t *testing.T, b *NetworkManagerBackend) Event {
	t.Helper()
	select {
	case event := <-b.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no backend event")
		return Event{}
	}
}

func TestNetworkManagerBackend_ConnectSetsPeerEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	b := newTestBackend(runner)

	err := b.Connect(context.Background(), Params{
		ServerName: "NL#1",
		Host:       "192.0.2.10",
		Port:       51820,
	})
	require.NoError(t, err)

	add := runner.commandMatching("connection add")
	require.NotEmpty(t, add, "profile was never created")
	assert.Contains(t, add, "wireguard.peer-endpoint 192.0.2.10:51820")

	assert.Equal(t, EventUp, waitEvent(t, b).Kind)
	b.stopPolling()
}

func TestNetworkManagerBackend_ConnectRequiresHost(t *testing.T) {
	runner := &fakeRunner{}
	b := newTestBackend(runner)

	err := b.Connect(context.Background(), Params{ServerName: "NL#1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entry address")
	assert.Empty(t, runner.commandMatching("connection add"))
}

func TestNetworkManagerBackend_ActivationTimeout(t *testing.T) {
	runner := &fakeRunner{fail: map[string]string{
		"nmcli connection up": "Error: Timeout expired",
	}}
	b := newTestBackend(runner)

	err := b.Connect(context.Background(), Params{Host: "192.0.2.10", Port: 51820})
	require.NoError(t, err)

	assert.Equal(t, EventTimeout, waitEvent(t, b).Kind)
}

func TestNetworkManagerBackend_Disconnect(t *testing.T) {
	runner := &fakeRunner{}
	b := newTestBackend(runner)

	require.NoError(t, b.Disconnect(context.Background()))
	assert.Equal(t, EventDisconnected, waitEvent(t, b).Kind)
	assert.NotEmpty(t, runner.commandMatching("connection delete"))
}
