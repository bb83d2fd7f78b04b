package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "/etc/polaris/config"
	ConfigFileName    = "polarisd.yml"
)

// ValidKeyringBackends is the list of supported keyring backends.
var ValidKeyringBackends = []string{"secretservice", "memory"}

// Config holds all daemon configuration settings.
type Config struct {
	// APIBaseURL is the base URL of the VPN REST API.
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`

	// ControlAddr is the address the local control API listens on.
	ControlAddr string `yaml:"control_addr" json:"control_addr"`

	// CachePath is the path of the local SQLite cache database.
	CachePath string `yaml:"cache_path" json:"cache_path"`

	// SettingsPath is the path of the user settings file.
	SettingsPath string `yaml:"settings_path" json:"settings_path"`

	// KeyringBackend selects where session credentials are persisted.
	KeyringBackend string `yaml:"keyring_backend" json:"keyring_backend"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// HTTPTimeoutSeconds is the per-request timeout for API calls.
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds" json:"http_timeout_seconds"`

	// sources tracks where each value came from
	sources map[string]string

	// configFilePath is the path to the config file
	configFilePath string
}

// Attribute represents a configuration attribute with its value and source.
type Attribute struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

// Global singleton config
var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configMu.RLock()
	if globalConfig != nil {
		configMu.RUnlock()
		return globalConfig
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()

	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			globalConfig = newDefault()
		} else {
			globalConfig = cfg
		}
	}
	return globalConfig
}

// Reload reloads the configuration from file and environment.
func Reload() error {
	cfg, err := Load()
	if err != nil {
		return err
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
	return nil
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "polaris")
	}
	return "/var/lib/polaris"
}

// newDefault returns a config with default values.
func newDefault() *Config {
	stateDir := defaultStateDir()
	return &Config{
		APIBaseURL:         "https://api.polarisvpn.example",
		ControlAddr:        "127.0.0.1:6572",
		CachePath:          filepath.Join(stateDir, "cache.db"),
		SettingsPath:       filepath.Join(stateDir, "settings.yml"),
		KeyringBackend:     "secretservice",
		LogLevel:           "info",
		HTTPTimeoutSeconds: 10,
		sources:            make(map[string]string),
	}
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over file values.
func Load() (*Config, error) {
	config := newDefault()

	for _, name := range attributeNames() {
		config.sources[name] = "default"
	}

	configPath := os.Getenv("POLARIS_CONFIG_PATH")
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	config.configFilePath = filepath.Join(configPath, ConfigFileName)

	if data, err := os.ReadFile(config.configFilePath); err == nil {
		var fileConfig Config
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", config.configFilePath, err)
		}
		config.applyFileConfig(&fileConfig)
	}

	config.applyEnvConfig()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func attributeNames() []string {
	return []string{
		"api_base_url", "control_addr", "cache_path", "settings_path",
		"keyring_backend", "log_level", "http_timeout_seconds",
	}
}

func (c *Config) applyFileConfig(file *Config) {
	if file.APIBaseURL != "" {
		c.APIBaseURL = file.APIBaseURL
		c.sources["api_base_url"] = "file"
	}
	if file.ControlAddr != "" {
		c.ControlAddr = file.ControlAddr
		c.sources["control_addr"] = "file"
	}
	if file.CachePath != "" {
		c.CachePath = file.CachePath
		c.sources["cache_path"] = "file"
	}
	if file.SettingsPath != "" {
		c.SettingsPath = file.SettingsPath
		c.sources["settings_path"] = "file"
	}
	if file.KeyringBackend != "" {
		c.KeyringBackend = file.KeyringBackend
		c.sources["keyring_backend"] = "file"
	}
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
		c.sources["log_level"] = "file"
	}
	if file.HTTPTimeoutSeconds != 0 {
		c.HTTPTimeoutSeconds = file.HTTPTimeoutSeconds
		c.sources["http_timeout_seconds"] = "file"
	}
}

func (c *Config) applyEnvConfig() {
	setString := func(env, name string, target *string) {
		if v := os.Getenv(env); v != "" {
			*target = v
			c.sources[name] = "env"
		}
	}

	setString("POLARIS_API_BASE_URL", "api_base_url", &c.APIBaseURL)
	setString("POLARIS_CONTROL_ADDR", "control_addr", &c.ControlAddr)
	setString("POLARIS_CACHE_PATH", "cache_path", &c.CachePath)
	setString("POLARIS_SETTINGS_PATH", "settings_path", &c.SettingsPath)
	setString("POLARIS_KEYRING_BACKEND", "keyring_backend", &c.KeyringBackend)
	setString("POLARIS_LOG_LEVEL", "log_level", &c.LogLevel)

	if v := os.Getenv("POLARIS_HTTP_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.HTTPTimeoutSeconds = n
			c.sources["http_timeout_seconds"] = "env"
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	valid := false
	for _, b := range ValidKeyringBackends {
		if c.KeyringBackend == b {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid keyring_backend %q, must be one of %v", c.KeyringBackend, ValidKeyringBackends)
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("http_timeout_seconds must be positive, got %d", c.HTTPTimeoutSeconds)
	}
	return nil
}

// Attributes returns all configuration attributes with their values and
// sources, for `polarisctl configuration show`.
func (c *Config) Attributes() []Attribute {
	return []Attribute{
		{Name: "api_base_url", Value: c.APIBaseURL, Source: c.sources["api_base_url"]},
		{Name: "control_addr", Value: c.ControlAddr, Source: c.sources["control_addr"]},
		{Name: "cache_path", Value: c.CachePath, Source: c.sources["cache_path"]},
		{Name: "settings_path", Value: c.SettingsPath, Source: c.sources["settings_path"]},
		{Name: "keyring_backend", Value: c.KeyringBackend, Source: c.sources["keyring_backend"]},
		{Name: "log_level", Value: c.LogLevel, Source: c.sources["log_level"]},
		{Name: "http_timeout_seconds", Value: strconv.Itoa(c.HTTPTimeoutSeconds), Source: c.sources["http_timeout_seconds"]},
	}
}

// ConfigFilePath returns the path the configuration was (or would be) read from.
func (c *Config) ConfigFilePath() string {
	return c.configFilePath
}
