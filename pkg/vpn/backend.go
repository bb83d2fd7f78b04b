package vpn

import "context"

// Params describe the tunnel a backend should establish.
type Params struct {
	ServerID   string
	ServerName string
	// Host is the entry IP or hostname of the physical server.
	Host string
	// Protocol is the tunnel protocol, e.g. "wireguard" or "openvpn-udp".
	Protocol string
	Port     int
	// Certificate is the PEM-encoded client certificate used for tunnel
	// authentication.
	Certificate string
}

// Backend drives the actual tunnel. Connect and Disconnect only issue the
// request; completion and failures are reported through Events.
type Backend interface {
	Connect(ctx context.Context, params Params) error
	Disconnect(ctx context.Context) error
	// Events returns the channel on which the backend reports tunnel events.
	// The channel is owned by the backend and stays open for its lifetime.
	Events() <-chan Event
}
