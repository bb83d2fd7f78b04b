package endpoints

import (
	"net/http"

	"github.com/polarisvpn/polaris-linux/pkg/daemon"
	"github.com/polarisvpn/polaris-linux/pkg/killswitch"
	"github.com/polarisvpn/polaris-linux/pkg/settings"
)

// SettingsBody is the body of GET and PUT /settings.
type SettingsBody struct {
	Protocol       string   `json:"protocol"`
	KillSwitch     string   `json:"killswitch"`
	Autoconnect    string   `json:"autoconnect"`
	PinnedServers  []string `json:"pinned_servers"`
	StartMinimized bool     `json:"start_minimized"`
}

// RegisterSettingsEndpoints registers the settings endpoints.
func RegisterSettingsEndpoints(s *daemon.Server) {
	d := s.Daemon
	s.Router.HandleFunc("/settings", handleGetSettings(d)).Methods("GET")
	s.Router.HandleFunc("/settings", handlePutSettings(d)).Methods("PUT")
}

func handleGetSettings(d *daemon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current := d.Settings()
		writeJSON(w, http.StatusOK, SettingsBody{
			Protocol:       current.Protocol,
			KillSwitch:     string(current.KillSwitch),
			Autoconnect:    current.Autoconnect,
			PinnedServers:  current.PinnedServers,
			StartMinimized: current.StartMinimized,
		})
	}
}

func handlePutSettings(d *daemon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body SettingsBody
		if !decodeBody(w, r, &body) {
			return
		}

		err := d.UpdateSettings(settings.Settings{
			Protocol:       body.Protocol,
			KillSwitch:     killswitch.Mode(body.KillSwitch),
			Autoconnect:    body.Autoconnect,
			PinnedServers:  body.PinnedServers,
			StartMinimized: body.StartMinimized,
		})
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		handleGetSettings(d)(w, r)
	}
}
