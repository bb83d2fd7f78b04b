package api

import (
	"time"
)

// AuthResult is the outcome of a successful credential or second-factor check.
type AuthResult struct {
	UID          string   `json:"uid"`
	Username     string   `json:"username"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	Scopes       []string `json:"scopes"`
	Tier         int      `json:"tier"`

	// TwoFactorRequired is set when the password was accepted but a
	// one-time code must still be submitted before the session is usable.
	TwoFactorRequired bool `json:"two_factor_required"`
}

// HasScope reports whether the session token carries the given scope.
func (a *AuthResult) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ClientConfigRefreshInterval is how often the client configuration is
// re-fetched when the API does not answer with a fresher one.
const ClientConfigRefreshInterval = 12 * time.Hour

// ClientConfig is the client configuration document served by the API:
// the ports and protocols the client is allowed to use.
type ClientConfig struct {
	OpenVPNPortsUDP   []int    `json:"openvpn_ports_udp"`
	OpenVPNPortsTCP   []int    `json:"openvpn_ports_tcp"`
	WireGuardPortsUDP []int    `json:"wireguard_ports_udp"`
	Protocols         []string `json:"protocols"`
	SmartRouting      bool     `json:"smart_routing"`

	// FetchedAt is set by the client on retrieval.
	FetchedAt time.Time `json:"-"`
}

// Expired reports whether the client config is due for a refresh.
func (c *ClientConfig) Expired(now time.Time) bool {
	return now.After(c.FetchedAt.Add(ClientConfigRefreshInterval))
}

// SecondsUntilExpiration returns how long until the config expires, never
// negative.
func (c *ClientConfig) SecondsUntilExpiration(now time.Time) time.Duration {
	d := c.FetchedAt.Add(ClientConfigRefreshInterval).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Certificate is the short-lived client certificate used to derive the keys
// for VPN connections.
type Certificate struct {
	Certificate string    `json:"certificate"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Validity returns the certificate lifetime.
func (c *Certificate) Validity() time.Duration {
	return c.ExpiresAt.Sub(c.IssuedAt)
}

// FeatureFlags maps feature names to their enablement state.
type FeatureFlags map[string]bool

// Get returns the flag value, defaulting to false for unknown flags.
func (f FeatureFlags) Get(name string) bool {
	return f[name]
}

// FeatureFlagsRefreshInterval is how often feature flags are re-fetched.
const FeatureFlagsRefreshInterval = 2 * time.Hour

type logicalsResponse struct {
	LogicalServers []logicalServerPayload `json:"logical_servers"`
}

type logicalServerPayload struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	ExitCountry      string  `json:"exit_country"`
	EntryCountry     string  `json:"entry_country"`
	City             string  `json:"city"`
	EntryIP          string  `json:"entry_ip"`
	Load             int     `json:"load"`
	Score            float64 `json:"score"`
	Tier             int     `json:"tier"`
	Features         int     `json:"features"`
	UnderMaintenance bool    `json:"under_maintenance"`
}

type loadsResponse struct {
	Loads []loadPayload `json:"loads"`
}

type loadPayload struct {
	ID               string  `json:"id"`
	Load             int     `json:"load"`
	Score            float64 `json:"score"`
	UnderMaintenance bool    `json:"under_maintenance"`
}

type certificateResponse struct {
	Certificate string `json:"certificate"`
	IssuedAt    int64  `json:"issued_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

type featuresResponse struct {
	Features map[string]bool `json:"features"`
}
