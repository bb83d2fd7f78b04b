// Package daemon wires the session, refreshers, connection machinery and the
// local control API into the long-running polarisd process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polarisvpn/polaris-linux/pkg/api"
	"github.com/polarisvpn/polaris-linux/pkg/cache"
	"github.com/polarisvpn/polaris-linux/pkg/config"
	"github.com/polarisvpn/polaris-linux/pkg/keyring"
	"github.com/polarisvpn/polaris-linux/pkg/killswitch"
	"github.com/polarisvpn/polaris-linux/pkg/logging"
	"github.com/polarisvpn/polaris-linux/pkg/portforward"
	"github.com/polarisvpn/polaris-linux/pkg/reconnector"
	"github.com/polarisvpn/polaris-linux/pkg/refresher"
	"github.com/polarisvpn/polaris-linux/pkg/serverlist"
	"github.com/polarisvpn/polaris-linux/pkg/session"
	"github.com/polarisvpn/polaris-linux/pkg/settings"
	"github.com/polarisvpn/polaris-linux/pkg/vpn"
)

// tunnelInterface is the network interface the VPN backend creates.
const tunnelInterface = "wg-polaris"

// defaultWireGuardPort is used until the client config announces the ports
// the infrastructure listens on.
const defaultWireGuardPort = 51820

// ErrNotLoggedIn is returned by operations that need a session.
var ErrNotLoggedIn = errors.New("daemon: not logged in")

// ErrNoSuchServer is returned when a connect request names an unknown server.
var ErrNoSuchServer = errors.New("daemon: no such server")

// ErrNoServerList is returned when connecting before any server list is
// available.
var ErrNoServerList = errors.New("daemon: server list not loaded yet")

// Daemon owns every long-lived component of the VPN client.
type Daemon struct {
	cfg *config.Config
	log *logrus.Entry

	api       *api.Client
	ring      keyring.Keyring
	session   *session.Manager
	store     *cache.Store
	refresher *refresher.VPNDataRefresher
	backend   vpn.Backend
	connector *vpn.Connector
	rec       *reconnector.Reconnector
	netmon    *reconnector.NetworkMonitor
	forwarder *portforward.Forwarder
	enforcer  killswitch.Enforcer
	settings  *settings.Manager

	mu         sync.Mutex
	lastParams *vpn.Params
}

// Option overrides a default dependency, mostly for tests.
type Option func(*Daemon)

// WithBackend replaces the NetworkManager backend.
func WithBackend(backend vpn.Backend) Option {
	return func(d *Daemon) { d.backend = backend }
}

// WithKeyringBackend replaces the keyring selected by the config.
func WithKeyringBackend(ring keyring.Keyring) Option {
	return func(d *Daemon) { d.ring = ring }
}

// WithEnforcer replaces the nftables kill switch enforcer.
func WithEnforcer(enforcer killswitch.Enforcer) Option {
	return func(d *Daemon) { d.enforcer = enforcer }
}

// New builds a daemon from the given config.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	log := logging.ForCategory("daemon")

	d := &Daemon{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(d)
	}

	if d.ring == nil {
		ring, err := openKeyring(cfg.KeyringBackend)
		if err != nil {
			return nil, err
		}
		d.ring = ring
	}
	if d.backend == nil {
		d.backend = vpn.NewNetworkManagerBackend(logging.ForCategory("vpn.backend"))
	}

	d.api = api.New(cfg.APIBaseURL, time.Duration(cfg.HTTPTimeoutSeconds)*time.Second)
	d.session = session.NewManager(d.api, d.ring)

	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		return nil, err
	}
	d.store = store

	settingsManager, err := settings.NewManager(cfg.SettingsPath,
		logging.ForCategory("settings"), d.onSettingsChange)
	if err != nil {
		return nil, err
	}
	d.settings = settingsManager

	d.refresher = refresher.NewVPNDataRefresher(d.api, d.session, store,
		logging.ForCategory("refresher"), d.userTier, nil)
	d.connector = vpn.NewConnector(d.backend, logging.ForCategory("vpn"))

	// The monitor and the reconnector reference each other, so the monitor's
	// callback goes through the field rather than the not-yet-built value.
	d.netmon = reconnector.NewNetworkMonitor(logging.ForCategory("net"), func() {
		d.rec.Wake()
	})
	d.rec = reconnector.New(d.connector, d, d.refresher.Certificate,
		d.netmon.Up, logging.ForCategory("reconnector"))

	d.forwarder = portforward.New(d.connector, &portforward.NATPMPMapper{},
		func() bool { return d.refresher.FeatureFlags.Enabled("port-forwarding") },
		logging.ForCategory("portforward"))

	if d.enforcer == nil {
		d.enforcer = killswitch.NewNFTEnforcer(logging.ForCategory("killswitch"), tunnelInterface)
	}
	return d, nil
}

func openKeyring(backend string) (keyring.Keyring, error) {
	switch backend {
	case "secretservice":
		return keyring.NewSecretService()
	case "memory":
		return keyring.NewMemory(), nil
	default:
		return nil, fmt.Errorf("daemon: unknown keyring backend %q", backend)
	}
}

// Run starts all background loops and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	restored, err := d.session.Restore()
	if err != nil {
		d.log.WithError(err).Warn("Could not restore session from keyring")
	}
	if restored {
		d.refresher.Start()
	}

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(d.refresher.Run)
	run(d.connector.Run)
	run(d.rec.Run)
	run(d.netmon.Run)
	run(d.forwarder.Run)
	run(d.watchKillSwitch)
	run(func(ctx context.Context) { _ = d.settings.Watch(ctx.Done()) })

	if monitor, err := reconnector.NewSessionMonitor(
		logging.ForCategory("sessionmonitor"), d.rec.Wake); err != nil {
		d.log.WithError(err).Warn("Desktop session monitoring unavailable")
	} else {
		run(monitor.Run)
	}

	if d.settings.Get().KillSwitch == killswitch.ModePermanent {
		if err := d.enforcer.Enable(ctx, ""); err != nil {
			d.log.WithError(err).Error("Could not enable permanent kill switch")
		}
	}

	d.autoconnect(ctx)

	<-ctx.Done()
	wg.Wait()
	return d.store.Close()
}

func (d *Daemon) userTier() int {
	return d.session.Tier()
}

// tunnelPort picks the WireGuard port announced by the client config, falling
// back to the protocol default before the config is first fetched.
func (d *Daemon) tunnelPort() int {
	if cfg := d.refresher.ClientConfig.Config(); cfg != nil && len(cfg.WireGuardPortsUDP) > 0 {
		return cfg.WireGuardPortsUDP[0]
	}
	return defaultWireGuardPort
}

func (d *Daemon) autoconnect(ctx context.Context) {
	target := d.settings.Get().Autoconnect
	if target == "" || !d.session.LoggedIn() {
		return
	}
	if err := d.Connect(ctx, target); err != nil {
		d.log.WithError(err).WithField("server", target).Warn("Autoconnect failed")
	}
}

// Login authenticates against the API. It reports whether a second factor is
// still needed to complete the login.
func (d *Daemon) Login(ctx context.Context, username, password string) (bool, error) {
	twoFactorRequired, err := d.session.Login(ctx, username, password)
	if err != nil {
		return false, err
	}
	if !twoFactorRequired {
		d.refresher.Start()
	}
	return twoFactorRequired, nil
}

// SubmitSecondFactor completes a two factor login.
func (d *Daemon) SubmitSecondFactor(ctx context.Context, code string) error {
	if err := d.session.SubmitSecondFactor(ctx, code); err != nil {
		return err
	}
	d.refresher.Start()
	return nil
}

// Logout disconnects, stops refreshing and removes the stored session.
func (d *Daemon) Logout(ctx context.Context) error {
	if err := d.Disconnect(ctx); err != nil {
		d.log.WithError(err).Warn("Disconnect on logout failed")
	}
	d.refresher.Stop()
	return d.session.Logout(ctx)
}

// Session reports the login state.
func (d *Daemon) Session() (state session.State, username string, tier int) {
	return d.session.State(), d.session.Username(), d.session.Tier()
}

// Servers returns the current server list.
func (d *Daemon) Servers() (*serverlist.ServerList, error) {
	if !d.session.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	list := d.refresher.ServerList.List()
	if list == nil {
		return nil, ErrNoServerList
	}
	return list, nil
}

// RefreshServers forces a server list refresh.
func (d *Daemon) RefreshServers() error {
	if !d.session.LoggedIn() {
		return ErrNotLoggedIn
	}
	d.refresher.ServerList.ForceRefresh()
	return nil
}

// Connect resolves target and starts a connection. Target is a server name,
// a two-letter country code, or "fastest".
func (d *Daemon) Connect(ctx context.Context, target string) error {
	if !d.session.LoggedIn() {
		return ErrNotLoggedIn
	}
	list := d.refresher.ServerList.List()
	if list == nil {
		return ErrNoServerList
	}

	server, err := resolveServer(list, target)
	if err != nil {
		return err
	}

	params := vpn.Params{
		ServerID:   server.ID,
		ServerName: server.Name,
		Host:       server.EntryIP,
		Port:       d.tunnelPort(),
		Protocol:   d.settings.Get().Protocol,
	}
	if cert := d.refresher.Certificate.Certificate(); cert != nil {
		params.Certificate = cert.Certificate
	}

	d.mu.Lock()
	d.lastParams = &params
	d.mu.Unlock()

	return d.connector.Connect(ctx, params)
}

// Reconnect re-establishes the last requested connection. The reconnector
// calls it after tunnel drops.
func (d *Daemon) Reconnect(ctx context.Context) error {
	d.mu.Lock()
	params := d.lastParams
	d.mu.Unlock()
	if params == nil {
		return errors.New("daemon: nothing to reconnect to")
	}

	// Pick up a fresher certificate if one arrived since the last attempt.
	p := *params
	if cert := d.refresher.Certificate.Certificate(); cert != nil {
		p.Certificate = cert.Certificate
	}
	return d.connector.Connect(ctx, p)
}

// Disconnect tears the tunnel down and forgets the reconnect target.
func (d *Daemon) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	d.lastParams = nil
	d.mu.Unlock()
	return d.connector.Disconnect(ctx)
}

// ConnectionStatus returns the connection state machine snapshot.
func (d *Daemon) ConnectionStatus() vpn.Status {
	return d.connector.Status()
}

// ForwardedPort returns the public port leased through the tunnel gateway,
// or 0 when port forwarding is off or no tunnel is up.
func (d *Daemon) ForwardedPort() int {
	return d.forwarder.Port()
}

// Settings returns the current user settings.
func (d *Daemon) Settings() settings.Settings {
	return d.settings.Get()
}

// UpdateSettings validates and persists new settings.
func (d *Daemon) UpdateSettings(s settings.Settings) error {
	return d.settings.Update(s)
}

func resolveServer(list *serverlist.ServerList, target string) (*serverlist.LogicalServer, error) {
	switch {
	case target == "" || target == "fastest":
		if server := list.GetFastest(); server != nil {
			return server, nil
		}
	case len(target) == 2:
		if server := list.GetFastestInCountry(target); server != nil {
			return server, nil
		}
	default:
		if server := list.GetByName(target); server != nil {
			return server, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchServer, target)
}

// watchKillSwitch flips the firewall rules as the connection state changes.
func (d *Daemon) watchKillSwitch(ctx context.Context) {
	updates, cancel := d.connector.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			d.applyKillSwitch(ctx, status)
		}
	}
}

func (d *Daemon) applyKillSwitch(ctx context.Context, status vpn.Status) {
	mode := d.settings.Get().KillSwitch
	if mode == killswitch.ModeOff {
		return
	}

	switch status.State {
	case vpn.StateConnecting:
		if err := d.enforcer.Enable(ctx, ""); err != nil {
			d.log.WithError(err).Error("Could not enable kill switch")
		}
	case vpn.StateDisconnected:
		if mode == killswitch.ModePermanent {
			return
		}
		if err := d.enforcer.Disable(ctx); err != nil {
			d.log.WithError(err).Error("Could not disable kill switch")
		}
	}
}

// onSettingsChange reacts to settings edits made while running.
func (d *Daemon) onSettingsChange(s settings.Settings) {
	d.log.Info("Settings changed")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch s.KillSwitch {
	case killswitch.ModeOff:
		if err := d.enforcer.Disable(ctx); err != nil {
			d.log.WithError(err).Error("Could not disable kill switch")
		}
	case killswitch.ModePermanent:
		if err := d.enforcer.Enable(ctx, ""); err != nil {
			d.log.WithError(err).Error("Could not enable permanent kill switch")
		}
	}
}
