// Package vpn implements the VPN connection state machine and the backends
// that drive the actual tunnel.
package vpn

//go:generate go run github.com/dmarkham/enumer -type State -trimprefix State -transform lower -output state.gen.go

// State of the VPN connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

// IsActive reports whether a connection attempt is in flight or established.
// Error and Disconnected are the inactive states.
func (s State) IsActive() bool {
	switch s {
	case StateConnecting, StateConnected, StateDisconnecting:
		return true
	default:
		return false
	}
}
