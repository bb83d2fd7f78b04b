// Package session manages the user's authentication session: the login and
// two-factor flow against the REST API, and persistence of the resulting
// credentials in the system keyring so the user stays logged in across
// daemon restarts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/polarisvpn/polaris-linux/pkg/api"
	"github.com/polarisvpn/polaris-linux/pkg/keyring"
	"github.com/polarisvpn/polaris-linux/pkg/logging"
)

// Keyring coordinates under which stored sessions are filed.
const (
	KeyringService = "Polaris"
	KeyringAccount = "polaris-session"
)

// State of the login flow.
type State int

const (
	// LoggedOut means no usable session exists.
	LoggedOut State = iota
	// AwaitingSecondFactor means the password was accepted but a one-time
	// code is still required.
	AwaitingSecondFactor
	// LoggedIn means the session is fully authenticated.
	LoggedIn
)

func (s State) String() string {
	switch s {
	case AwaitingSecondFactor:
		return "awaiting-second-factor"
	case LoggedIn:
		return "logged-in"
	default:
		return "logged-out"
	}
}

// ErrNotAwaitingSecondFactor is returned when a second-factor code is
// submitted outside of the two-factor step of the login flow.
var ErrNotAwaitingSecondFactor = errors.New("session: no second factor pending")

// ErrNoSession is returned by Refresh when there is nothing to refresh.
var ErrNoSession = errors.New("session: not logged in")

// ErrNoVPNScope is returned when the account authenticated but its token
// does not grant VPN access.
var ErrNoVPNScope = errors.New("session: account has no VPN access")

// Session is the persisted session data.
type Session struct {
	Username     string   `json:"username"`
	UID          string   `json:"uid"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	Scopes       []string `json:"scopes"`
	Tier         int      `json:"tier"`
}

// Manager drives the login flow and owns the current session.
// It is safe for concurrent use.
type Manager struct {
	api  *api.Client
	ring keyring.Keyring
	log  *logrus.Entry

	mu      sync.RWMutex
	state   State
	current *Session
}

// NewManager returns a manager using the given API client and keyring.
func NewManager(client *api.Client, ring keyring.Keyring) *Manager {
	return &Manager{
		api:   client,
		ring:  ring,
		log:   logging.ForCategory("session"),
		state: LoggedOut,
	}
}

// Restore loads a previously persisted session from the keyring, if any,
// and installs its credentials on the API client. It returns true when a
// session was restored.
func (m *Manager) Restore() (bool, error) {
	data, err := m.ring.Get(KeyringService, KeyringAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session from keyring: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// The persisted payload is unusable (format change or corrupted
		// data). Drop it and start logged out.
		_ = m.ring.Delete(KeyringService, KeyringAccount)
		return false, nil
	}

	m.mu.Lock()
	m.current = &sess
	m.state = LoggedIn
	m.mu.Unlock()

	m.api.SetAuth(sess.UID, sess.AccessToken)
	m.log.Infof("Session restored for user %s", sess.Username)
	return true, nil
}

// Login submits credentials. It returns true when a second factor is still
// required to complete the login. A wrong password surfaces
// api.ErrWrongCredentials unchanged.
func (m *Manager) Login(ctx context.Context, username, password string) (bool, error) {
	result, err := m.api.Login(ctx, username, password)
	if err != nil {
		return false, err
	}

	if result.TwoFactorRequired {
		m.mu.Lock()
		m.state = AwaitingSecondFactor
		m.current = sessionFromAuth(result)
		m.mu.Unlock()
		m.log.Infof("User %s authenticated, second factor required", username)
		return true, nil
	}

	if err := m.completeLogin(result); err != nil {
		return false, err
	}
	return false, nil
}

// SubmitSecondFactor completes a pending two-factor login.
func (m *Manager) SubmitSecondFactor(ctx context.Context, code string) error {
	m.mu.RLock()
	pending := m.state == AwaitingSecondFactor
	m.mu.RUnlock()
	if !pending {
		return ErrNotAwaitingSecondFactor
	}

	result, err := m.api.SubmitSecondFactor(ctx, code)
	if err != nil {
		return err
	}
	return m.completeLogin(result)
}

func (m *Manager) completeLogin(result *api.AuthResult) error {
	if !result.HasScope("vpn") {
		m.api.ClearAuth()
		m.mu.Lock()
		m.current = nil
		m.state = LoggedOut
		m.mu.Unlock()
		return ErrNoVPNScope
	}

	sess := sessionFromAuth(result)

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.ring.Set(KeyringService, KeyringAccount, data); err != nil {
		return fmt.Errorf("store session in keyring: %w", err)
	}

	m.mu.Lock()
	m.current = sess
	m.state = LoggedIn
	m.mu.Unlock()

	m.log.Infof("Session established for user %s", sess.Username)
	return nil
}

func sessionFromAuth(result *api.AuthResult) *Session {
	return &Session{
		Username:     result.Username,
		UID:          result.UID,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Scopes:       result.Scopes,
		Tier:         result.Tier,
	}
}

// Refresh exchanges the refresh token for a fresh token pair and persists
// the result. When the API reports the session as expired the stored
// credentials are dropped, since they can never become valid again, and the
// user has to log in from scratch.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.RLock()
	state := m.state
	refreshToken := ""
	if m.current != nil {
		refreshToken = m.current.RefreshToken
	}
	m.mu.RUnlock()

	switch state {
	case AwaitingSecondFactor:
		return api.ErrSecondFactorRequired
	case LoggedOut:
		return ErrNoSession
	}

	result, err := m.api.RefreshSession(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, api.ErrSessionExpired) {
			m.log.Warn("Session expired, dropping stored credentials")
			m.forget()
		}
		return err
	}
	return m.completeLogin(result)
}

// forget drops the persisted and in-memory session without calling the API.
func (m *Manager) forget() {
	_ = m.ring.Delete(KeyringService, KeyringAccount)
	m.api.ClearAuth()

	m.mu.Lock()
	m.current = nil
	m.state = LoggedOut
	m.mu.Unlock()
}

// Logout invalidates the session remotely and removes the persisted
// credentials. Local state is cleared even when the API call fails.
func (m *Manager) Logout(ctx context.Context) error {
	apiErr := m.api.Logout(ctx)

	if err := m.ring.Delete(KeyringService, KeyringAccount); err != nil {
		return fmt.Errorf("remove session from keyring: %w", err)
	}

	m.mu.Lock()
	m.current = nil
	m.state = LoggedOut
	m.mu.Unlock()

	m.log.Infof("User logged out")
	return apiErr
}

// State returns the current login state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LoggedIn reports whether a fully authenticated session exists.
func (m *Manager) LoggedIn() bool {
	return m.State() == LoggedIn
}

// Username returns the logged-in username, or "".
func (m *Manager) Username() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.Username
}

// Tier returns the account tier of the current session.
func (m *Manager) Tier() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return 0
	}
	return m.current.Tier
}

// TokenExpiresAt returns the expiry of the access token, parsed from its
// claims. The token is issued by the API and only decoded here, not
// verified. ok is false when there is no session or the token carries no
// expiry.
func (m *Manager) TokenExpiresAt() (expiry time.Time, ok bool) {
	m.mu.RLock()
	token := ""
	if m.current != nil {
		token = m.current.AccessToken
	}
	m.mu.RUnlock()
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
