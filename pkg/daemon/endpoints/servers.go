package endpoints

import (
	"net/http"
	"time"

	"github.com/polarisvpn/polaris-linux/pkg/daemon"
	"github.com/polarisvpn/polaris-linux/pkg/serverlist"
)

// Server is one row of the server list response.
type Server struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	ExitCountry      string  `json:"exit_country"`
	EntryCountry     string  `json:"entry_country,omitempty"`
	City             string  `json:"city"`
	Load             int     `json:"load"`
	Score            float64 `json:"score"`
	Tier             int     `json:"tier"`
	SecureCore       bool    `json:"secure_core"`
	UnderMaintenance bool    `json:"under_maintenance"`
}

// ServersResponse is the body of GET /servers.
type ServersResponse struct {
	Servers       []Server  `json:"servers"`
	UserTier      int       `json:"user_tier"`
	ListFetchedAt time.Time `json:"list_fetched_at"`
	ExpiresIn     int64     `json:"expires_in_seconds"`
}

// RegisterServersEndpoints registers the server list endpoints.
func RegisterServersEndpoints(s *daemon.Server) {
	d := s.Daemon
	s.Router.HandleFunc("/servers", handleGetServers(d)).Methods("GET")
	s.Router.HandleFunc("/servers/refresh", handleRefreshServers(d)).Methods("POST")
}

func handleGetServers(d *daemon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := d.Servers()
		if err != nil {
			writeError(w, err)
			return
		}

		query := r.URL.Query().Get("search")
		var servers []serverlist.LogicalServer
		if query != "" {
			servers = list.Search(query)
		} else {
			servers = list.Sorted()
		}

		rows := make([]Server, 0, len(servers))
		for _, srv := range servers {
			rows = append(rows, Server{
				ID:               srv.ID,
				Name:             srv.Name,
				ExitCountry:      srv.ExitCountry,
				EntryCountry:     srv.EntryCountry,
				City:             srv.City,
				Load:             srv.Load,
				Score:            srv.Score,
				Tier:             srv.Tier,
				SecureCore:       srv.IsSecureCore(),
				UnderMaintenance: srv.UnderMaintenance,
			})
		}

		writeJSON(w, http.StatusOK, ServersResponse{
			Servers:       rows,
			UserTier:      list.UserTier,
			ListFetchedAt: list.ListFetchedAt,
			ExpiresIn:     int64(list.SecondsUntilExpiration(time.Now()).Seconds()),
		})
	}
}

func handleRefreshServers(d *daemon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.RefreshServers(); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
