package integration

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polarisvpn/polaris-linux/pkg/config"
	"github.com/polarisvpn/polaris-linux/pkg/control"
	"github.com/polarisvpn/polaris-linux/pkg/daemon"
	"github.com/polarisvpn/polaris-linux/pkg/daemon/endpoints"
	"github.com/polarisvpn/polaris-linux/pkg/keyring"
	"github.com/polarisvpn/polaris-linux/pkg/killswitch"
	"github.com/polarisvpn/polaris-linux/pkg/vpn"
)

// DaemonInstance is an in-process daemon wired to a fake API and a fake
// tunnel backend, with a control client pointed at its control API.
type DaemonInstance struct {
	Client  *control.Client
	Keyring *keyring.Memory
	Backend *vpn.FakeBackend

	control *httptest.Server
	cancel  context.CancelFunc
	dir     string
}

// StartDaemon boots a daemon against the given fake API and waits until its
// control API answers.
func StartDaemon(api *FakeAPI) (*DaemonInstance, error) {
	dir, err := os.MkdirTemp("", "polaris-integration-*")
	if err != nil {
		return nil, err
	}

	cfg := &config.Config{
		APIBaseURL:         api.Server.URL,
		ControlAddr:        "127.0.0.1:0",
		CachePath:          filepath.Join(dir, "cache.db"),
		SettingsPath:       filepath.Join(dir, "settings.yml"),
		KeyringBackend:     "memory",
		LogLevel:           "error",
		HTTPTimeoutSeconds: 5,
	}

	ring := keyring.NewMemory()
	backend := vpn.NewFakeBackend()
	d, err := daemon.New(cfg,
		daemon.WithBackend(backend),
		daemon.WithKeyringBackend(ring),
		daemon.WithEnforcer(killswitch.Noop{}),
	)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("create daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	log := logrus.New()
	log.SetOutput(io.Discard)
	srv := daemon.NewServer(d, cfg.ControlAddr, logrus.NewEntry(log))
	endpoints.RegisterAll(srv)
	controlServer := httptest.NewServer(srv.Router)

	instance := &DaemonInstance{
		Client:  control.New(strings.TrimPrefix(controlServer.URL, "http://")),
		Keyring: ring,
		Backend: backend,
		control: controlServer,
		cancel:  cancel,
		dir:     dir,
	}

	if err := instance.waitReady(10 * time.Second); err != nil {
		instance.Stop()
		return nil, err
	}
	return instance, nil
}

// Stop shuts the daemon down and removes its state directory.
func (di *DaemonInstance) Stop() {
	di.cancel()
	di.control.Close()
	_ = os.RemoveAll(di.dir)
}

func (di *DaemonInstance) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := di.Client.Ping(ctx)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not become ready within %v", timeout)
}
