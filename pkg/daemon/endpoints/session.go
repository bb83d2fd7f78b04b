package endpoints

import (
	"net/http"

	"github.com/polarisvpn/polaris-linux/pkg/daemon"
)

// LoginRequest is the body of POST /session/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse reports whether the login completed or still needs a second
// factor.
type LoginResponse struct {
	TwoFactorRequired bool `json:"two_factor_required"`
}

// SecondFactorRequest is the body of POST /session/2fa.
type SecondFactorRequest struct {
	Code string `json:"code"`
}

// SessionResponse is the body of GET /session.
type SessionResponse struct {
	State    string `json:"state"`
	Username string `json:"username,omitempty"`
	Tier     int    `json:"tier"`
}

// RegisterSessionEndpoints registers the login, two factor, logout and
// session status endpoints.
func RegisterSessionEndpoints(s *daemon.Server) {
	d := s.Daemon
	s.Router.HandleFunc("/session", handleGetSession(d)).Methods("GET")
	s.Router.HandleFunc("/session/login", handleLogin(d)).Methods("POST")
	s.Router.HandleFunc("/session/2fa", handleSecondFactor(d)).Methods("POST")
	s.Router.HandleFunc("/session/logout", handleLogout(d)).Methods("POST")
}

func handleGetSession(d *daemon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, username, tier := d.Session()
		writeJSON(w, http.StatusOK, SessionResponse{
			State:    state.String(),
			Username: username,
			Tier:     tier,
		})
	}
}

func handleLogin(d *daemon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !decodeBody(w, r, &req) {
			return
		}

		twoFactorRequired, err := d.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, LoginResponse{TwoFactorRequired: twoFactorRequired})
	}
}

func handleSecondFactor(d *daemon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SecondFactorRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if err := d.SubmitSecondFactor(r.Context(), req.Code); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, LoginResponse{TwoFactorRequired: false})
	}
}

func handleLogout(d *daemon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Logout(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
