package endpoints_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarisvpn/polaris-linux/pkg/config"
	"github.com/polarisvpn/polaris-linux/pkg/daemon"
	"github.com/polarisvpn/polaris-linux/pkg/daemon/endpoints"
	"github.com/polarisvpn/polaris-linux/pkg/keyring"
	"github.com/polarisvpn/polaris-linux/pkg/killswitch"
	"github.com/polarisvpn/polaris-linux/pkg/vpn"
)

const (
	testPassword = "12341234"
	testUsername = "vpnplus"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeVPNAPI fakes the Polaris REST API endpoints the daemon calls.
func fakeVPNAPI(t *testing.T) *httptest.Server {
	t.Helper()

	router := mux.NewRouter()
	router.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != testPassword {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":8002,"error":"Wrong credentials."}`))
			return
		}
		_, _ = w.Write([]byte(`{"uid":"uid-1","username":"` + testUsername + `",` +
			`"access_token":"token","refresh_token":"refresh","scopes":["vpn"],"tier":2}`))
	}).Methods("POST")
	router.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("DELETE")
	router.HandleFunc("/vpn/logicals", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"logical_servers":[
			{"id":"1","name":"NL#1","exit_country":"NL","city":"Amsterdam","entry_ip":"192.0.2.10","load":45,"score":1.5,"tier":0},
			{"id":"2","name":"CH#1","exit_country":"CH","city":"Zurich","entry_ip":"192.0.2.20","load":10,"score":0.5,"tier":2}
		]}`))
	}).Methods("GET")
	router.HandleFunc("/vpn/loads", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"loads":[]}`))
	}).Methods("GET")
	router.HandleFunc("/vpn/clientconfig", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"openvpn_ports_udp":[1194],"openvpn_ports_tcp":[443],` +
			`"wireguard_ports_udp":[51820],"protocols":["wireguard"],"smart_routing":true}`))
	}).Methods("GET")
	router.HandleFunc("/vpn/certificate", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Unix()
		_, _ = w.Write([]byte(`{"certificate":"-----BEGIN CERTIFICATE-----",` +
			`"issued_at":` + jsonInt(now) + `,"expires_at":` + jsonInt(now+86400) + `}`))
	}).Methods("GET")
	router.HandleFunc("/features", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"features":{"port-forwarding":true}}`))
	}).Methods("GET")

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func jsonInt(n int64) string {
	data, _ := json.Marshal(n)
	return string(data)
}

type harness struct {
	api     *httptest.Server
	control *httptest.Server
	backend *vpn.FakeBackend
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	backendAPI := fakeVPNAPI(t)
	dir := t.TempDir()
	cfg := &config.Config{
		APIBaseURL:         backendAPI.URL,
		ControlAddr:        "127.0.0.1:0",
		CachePath:          filepath.Join(dir, "cache.db"),
		SettingsPath:       filepath.Join(dir, "settings.yml"),
		KeyringBackend:     "memory",
		LogLevel:           "error",
		HTTPTimeoutSeconds: 5,
	}

	fakeBackend := vpn.NewFakeBackend()
	d, err := daemon.New(cfg,
		daemon.WithBackend(fakeBackend),
		daemon.WithKeyringBackend(keyring.NewMemory()),
		daemon.WithEnforcer(killswitch.Noop{}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	srv := daemon.NewServer(d, cfg.ControlAddr, testLogger())
	endpoints.RegisterAll(srv)
	control := httptest.NewServer(srv.Router)
	t.Cleanup(control.Close)

	return &harness{api: backendAPI, control: control, backend: fakeBackend}
}

func (h *harness) request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequest(method, h.control.URL+path, &reqBody)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	resp, _ := h.request(t, http.MethodPost, "/session/login",
		endpoints.LoginRequest{Username: testUsername, Password: testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t)

	resp, body := h.request(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status endpoints.StatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "ok", status.Status)
	assert.NotEmpty(t, status.Version)
}

func TestLogin(t *testing.T) {
	h := newHarness(t)

	resp, body := h.request(t, http.MethodPost, "/session/login",
		endpoints.LoginRequest{Username: testUsername, Password: testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login endpoints.LoginResponse
	require.NoError(t, json.Unmarshal(body, &login))
	assert.False(t, login.TwoFactorRequired)

	resp, body = h.request(t, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sess endpoints.SessionResponse
	require.NoError(t, json.Unmarshal(body, &sess))
	assert.Equal(t, "logged-in", sess.State)
	assert.Equal(t, testUsername, sess.Username)
	assert.Equal(t, 2, sess.Tier)
}

func TestLogin_WrongPassword(t *testing.T) {
	h := newHarness(t)

	resp, body := h.request(t, http.MethodPost, "/session/login",
		endpoints.LoginRequest{Username: testUsername, Password: "nope"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var apiErr endpoints.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &apiErr))
	assert.Equal(t, "Wrong credentials.", apiErr.Error)
}

func TestServers_RequiresLogin(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.request(t, http.MethodGet, "/servers", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServers(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	var servers endpoints.ServersResponse
	require.Eventually(t, func() bool {
		resp, body := h.request(t, http.MethodGet, "/servers", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(body, &servers))
		return len(servers.Servers) == 2
	}, 5*time.Second, 50*time.Millisecond, "server list never became available")

	assert.Equal(t, 2, servers.UserTier)
	assert.Greater(t, servers.ExpiresIn, int64(0))

	// Search filter narrows the list.
	resp, body := h.request(t, http.MethodGet, "/servers?search=CH", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &servers))
	require.Len(t, servers.Servers, 1)
	assert.Equal(t, "CH#1", servers.Servers[0].Name)
}

func TestConnectAndDisconnect(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	require.Eventually(t, func() bool {
		resp, _ := h.request(t, http.MethodGet, "/servers", nil)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, _ := h.request(t, http.MethodPost, "/connection/connect",
		endpoints.ConnectRequest{Target: "NL#1"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var conn endpoints.ConnectionResponse
	require.Eventually(t, func() bool {
		resp, body := h.request(t, http.MethodGet, "/connection", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.Unmarshal(body, &conn))
		return conn.State == "connected"
	}, 5*time.Second, 50*time.Millisecond, "never connected")
	assert.Equal(t, "NL#1", conn.ServerName)

	// The tunnel endpoint reaches the backend.
	params := h.backend.LastParams()
	assert.Equal(t, "192.0.2.10", params.Host)
	assert.Equal(t, 51820, params.Port)

	resp, _ = h.request(t, http.MethodPost, "/connection/disconnect", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, body := h.request(t, http.MethodGet, "/connection", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.Unmarshal(body, &conn))
		return conn.State == "disconnected"
	}, 5*time.Second, 50*time.Millisecond, "never disconnected")
}

func TestConnect_UnknownServer(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	require.Eventually(t, func() bool {
		resp, _ := h.request(t, http.MethodGet, "/servers", nil)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, body := h.request(t, http.MethodPost, "/connection/connect",
		endpoints.ConnectRequest{Target: "XX#99"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var apiErr endpoints.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &apiErr))
	assert.Contains(t, apiErr.Error, "XX#99")
}

func TestSettings(t *testing.T) {
	h := newHarness(t)

	resp, body := h.request(t, http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var current endpoints.SettingsBody
	require.NoError(t, json.Unmarshal(body, &current))
	assert.Equal(t, "wireguard", current.Protocol)
	assert.Equal(t, "off", current.KillSwitch)

	current.KillSwitch = "on"
	current.Autoconnect = "fastest"
	resp, _ = h.request(t, http.MethodPut, "/settings", current)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = h.request(t, http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &current))
	assert.Equal(t, "on", current.KillSwitch)
	assert.Equal(t, "fastest", current.Autoconnect)
}

func TestSettings_RejectsInvalid(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.request(t, http.MethodPut, "/settings",
		endpoints.SettingsBody{Protocol: "pptp", KillSwitch: "off"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	resp, _ := h.request(t, http.MethodPost, "/session/logout", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := h.request(t, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sess endpoints.SessionResponse
	require.NoError(t, json.Unmarshal(body, &sess))
	assert.Equal(t, "logged-out", sess.State)
}
