package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// apiAccount is a user known to the fake API.
type apiAccount struct {
	Password      string
	TwoFactorCode string
	Tier          int
}

// FakeAPI imitates the Polaris REST API for integration tests. Accounts and
// the served server list are mutable, and requests per endpoint are counted
// so scenarios can assert on refresh behaviour.
type FakeAPI struct {
	Server *httptest.Server

	mu           sync.Mutex
	accounts     map[string]apiAccount
	servers      []map[string]any
	requestCount map[string]int
	pendingCode  string
	pendingUser  string
}

// NewFakeAPI starts a fake API with the default two-server fixture.
func NewFakeAPI() *FakeAPI {
	f := &FakeAPI{
		accounts:     make(map[string]apiAccount),
		requestCount: make(map[string]int),
		servers: []map[string]any{
			{"id": "1", "name": "NL#1", "exit_country": "NL", "city": "Amsterdam", "entry_ip": "192.0.2.10", "load": 45, "score": 1.5, "tier": 0},
			{"id": "2", "name": "CH#1", "exit_country": "CH", "city": "Zurich", "entry_ip": "192.0.2.20", "load": 10, "score": 0.5, "tier": 2},
		},
	}

	router := mux.NewRouter()
	router.HandleFunc("/auth", f.handleLogin).Methods("POST")
	router.HandleFunc("/auth", f.count("logout", ok)).Methods("DELETE")
	router.HandleFunc("/auth/2fa", f.handleSecondFactor).Methods("POST")
	router.HandleFunc("/auth/refresh", f.handleRefresh).Methods("POST")
	router.HandleFunc("/vpn/logicals", f.count("logicals", f.handleLogicals)).Methods("GET")
	router.HandleFunc("/vpn/loads", f.count("loads", f.handleLoads)).Methods("GET")
	router.HandleFunc("/vpn/clientconfig", f.count("clientconfig", f.handleClientConfig)).Methods("GET")
	router.HandleFunc("/vpn/certificate", f.count("certificate", f.handleCertificate)).Methods("GET")
	router.HandleFunc("/features", f.count("features", f.handleFeatures)).Methods("GET")

	f.Server = httptest.NewServer(router)
	return f
}

// Close shuts the fake API down.
func (f *FakeAPI) Close() {
	f.Server.Close()
}

// AddAccount registers a user. An empty twoFactorCode means the account has
// no second factor.
func (f *FakeAPI) AddAccount(username, password, twoFactorCode string, tier int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[username] = apiAccount{Password: password, TwoFactorCode: twoFactorCode, Tier: tier}
}

// Requests returns how many times the named endpoint was hit.
func (f *FakeAPI) Requests(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requestCount[endpoint]
}

func ok(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (f *FakeAPI) count(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requestCount[endpoint]++
		f.mu.Unlock()
		next(w, r)
	}
}

func (f *FakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	account, found := f.accounts[req.Username]
	f.requestCount["login"]++
	f.mu.Unlock()

	if !found || account.Password != req.Password {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":8002,"error":"Wrong credentials."}`))
		return
	}

	if account.TwoFactorCode != "" {
		f.mu.Lock()
		f.pendingUser = req.Username
		f.pendingCode = account.TwoFactorCode
		f.mu.Unlock()
		writeAuthResult(w, req.Username, account.Tier, true)
		return
	}

	writeAuthResult(w, req.Username, account.Tier, false)
}

func (f *FakeAPI) handleSecondFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	username, code := f.pendingUser, f.pendingCode
	account := f.accounts[username]
	f.requestCount["2fa"]++
	f.mu.Unlock()

	if username == "" || req.Code != code {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":8012,"error":"Invalid authentication code."}`))
		return
	}

	writeAuthResult(w, username, account.Tier, false)
}

func (f *FakeAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	username := strings.TrimPrefix(req.RefreshToken, "refresh-")
	f.mu.Lock()
	account, found := f.accounts[username]
	f.requestCount["refresh"]++
	f.mu.Unlock()

	if !found || req.RefreshToken == username {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":10013,"error":"Session expired."}`))
		return
	}

	writeAuthResult(w, username, account.Tier, false)
}

func writeAuthResult(w http.ResponseWriter, username string, tier int, twoFactor bool) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"uid":                 "uid-" + username,
		"username":            username,
		"access_token":        "access-" + username,
		"refresh_token":       "refresh-" + username,
		"scopes":              []string{"vpn"},
		"tier":                tier,
		"two_factor_required": twoFactor,
	})
}

func (f *FakeAPI) handleLogicals(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	servers := f.servers
	f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]any{"logical_servers": servers})
}

func (f *FakeAPI) handleLoads(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	loads := make([]map[string]any, 0, len(f.servers))
	for _, s := range f.servers {
		loads = append(loads, map[string]any{"id": s["id"], "load": s["load"], "score": s["score"]})
	}
	f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]any{"loads": loads})
}

func (f *FakeAPI) handleClientConfig(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"openvpn_ports_udp":   []int{1194},
		"openvpn_ports_tcp":   []int{443},
		"wireguard_ports_udp": []int{51820},
		"protocols":           []string{"wireguard"},
		"smart_routing":       true,
	})
}

func (f *FakeAPI) handleCertificate(w http.ResponseWriter, r *http.Request) {
	now := time.Now().Unix()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"certificate": "-----BEGIN CERTIFICATE-----",
		"issued_at":   now,
		"expires_at":  now + 86400,
	})
}

func (f *FakeAPI) handleFeatures(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"features": map[string]bool{"port-forwarding": true},
	})
}
