package endpoints

import "github.com/polarisvpn/polaris-linux/pkg/daemon"

// RegisterAll registers every control API endpoint on the server.
func RegisterAll(srv *daemon.Server) {
	RegisterStatusEndpoints(srv)
	RegisterSessionEndpoints(srv)
	RegisterServersEndpoints(srv)
	RegisterConnectionEndpoints(srv)
	RegisterSettingsEndpoints(srv)
}
