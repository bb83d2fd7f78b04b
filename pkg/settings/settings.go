// Package settings stores user preferences in a YAML file and picks up
// edits made while the daemon runs.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/polarisvpn/polaris-linux/pkg/killswitch"
)

// ValidProtocols are the tunnel protocols a user can select.
var ValidProtocols = []string{"wireguard", "openvpn-udp", "openvpn-tcp"}

// Settings are the user preferences. Zero values are filled in from Default
// on load.
type Settings struct {
	// Protocol is the preferred tunnel protocol.
	Protocol string `yaml:"protocol"`
	// KillSwitch is off, on or permanent.
	KillSwitch killswitch.Mode `yaml:"killswitch"`
	// Autoconnect names the server to connect to on startup. "fastest"
	// picks the fastest one, empty disables autoconnect.
	Autoconnect string `yaml:"autoconnect"`
	// PinnedServers are shown first in server listings.
	PinnedServers []string `yaml:"pinned_servers"`
	// StartMinimized tells graphical front-ends to start in the tray. The
	// daemon only stores it.
	StartMinimized bool `yaml:"start_minimized"`
}

// Default returns the settings used before the user changes anything.
func Default() Settings {
	return Settings{
		Protocol:   "wireguard",
		KillSwitch: killswitch.ModeOff,
	}
}

// Validate rejects values the daemon cannot act on.
func (s Settings) Validate() error {
	valid := false
	for _, p := range ValidProtocols {
		if s.Protocol == p {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("settings: invalid protocol %q", s.Protocol)
	}
	if !s.KillSwitch.IsValid() {
		return fmt.Errorf("settings: invalid killswitch mode %q", s.KillSwitch)
	}
	return nil
}

// Manager loads, saves and watches the settings file.
type Manager struct {
	path string
	log  *logrus.Entry

	mu       sync.RWMutex
	current  Settings
	onChange func(Settings)
}

// NewManager loads the settings at path, falling back to defaults when the
// file does not exist yet. onChange, when not nil, fires after every change,
// whether made through Update or by editing the file.
func NewManager(path string, log *logrus.Entry, onChange func(Settings)) (*Manager, error) {
	m := &Manager{path: path, log: log, onChange: onChange}

	loaded, err := load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		loaded = Default()
	}
	m.current = loaded
	return m, nil
}

// Get returns the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update validates, applies and persists new settings.
func (m *Manager) Update(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := m.save(s); err != nil {
		return err
	}
	m.apply(s)
	return nil
}

func (m *Manager) apply(s Settings) {
	m.mu.Lock()
	changed := !reflect.DeepEqual(m.current, s)
	m.current = s
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(s)
	}
}

// save writes to a temp file in the same directory and renames it over the
// settings file, so a crash mid-write cannot leave a truncated file behind.
func (m *Manager) save(s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yml")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close settings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

// Watch reloads the settings when the file changes on disk. It blocks until
// done is closed.
func (m *Manager) Watch(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors and the atomic save
	// replace the file, which drops a watch set on the file itself.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("watch settings directory: %w", err)
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != m.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			m.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.WithError(err).Warn("Settings watcher error")
		}
	}
}

func (m *Manager) reload() {
	loaded, err := load(m.path)
	if err != nil {
		m.log.WithError(err).Warn("Ignoring settings file change")
		return
	}
	if err := loaded.Validate(); err != nil {
		m.log.WithError(err).Warn("Ignoring invalid settings file change")
		return
	}
	m.log.Info("Settings reloaded from disk")
	m.apply(loaded)
}

func load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings file: %w", err)
	}
	return s, nil
}
