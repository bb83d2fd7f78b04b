package endpoints

import (
	"net/http"

	"github.com/polarisvpn/polaris-linux/pkg/daemon"
)

// ConnectRequest is the body of POST /connection/connect.
type ConnectRequest struct {
	// Target is a server name ("NL#1"), a country code ("CH") or "fastest".
	// Empty picks the fastest server.
	Target string `json:"target"`
}

// ConnectionResponse is the body of GET /connection.
type ConnectionResponse struct {
	State      string `json:"state"`
	ServerID   string `json:"server_id,omitempty"`
	ServerName string `json:"server_name,omitempty"`
	Protocol   string `json:"protocol,omitempty"`
	// ForwardedPort is the public port leased on the gateway while port
	// forwarding is active.
	ForwardedPort int    `json:"forwarded_port,omitempty"`
	Error         string `json:"error,omitempty"`
}

// RegisterConnectionEndpoints registers connect, disconnect and connection
// status.
func RegisterConnectionEndpoints(s *daemon.Server) {
	d := s.Daemon
	s.Router.HandleFunc("/connection", handleGetConnection(d)).Methods("GET")
	s.Router.HandleFunc("/connection/connect", handleConnect(d)).Methods("POST")
	s.Router.HandleFunc("/connection/disconnect", handleDisconnect(d)).Methods("POST")
}

func handleGetConnection(d *daemon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := d.ConnectionStatus()
		resp := ConnectionResponse{
			State:         status.State.String(),
			ServerID:      status.ServerID,
			ServerName:    status.ServerName,
			Protocol:      status.Protocol,
			ForwardedPort: d.ForwardedPort(),
		}
		if status.Err != nil {
			resp.Error = status.Err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleConnect(d *daemon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConnectRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if err := d.Connect(r.Context(), req.Target); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleDisconnect(d *daemon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Disconnect(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
