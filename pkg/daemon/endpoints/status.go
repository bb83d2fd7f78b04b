package endpoints

import (
	"net/http"

	"github.com/polarisvpn/polaris-linux/pkg/daemon"
)

// Version is the daemon version reported by GET /. Overridden at build time
// with -ldflags.
var Version = "4.3.0"

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// RegisterStatusEndpoints registers the health endpoint the CLI uses to
// check that the daemon is up.
func RegisterStatusEndpoints(s *daemon.Server) {
	s.Router.HandleFunc("/", handleStatus()).Methods("GET")
}

func handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{
			Status:  "ok",
			Version: Version,
		})
	}
}
