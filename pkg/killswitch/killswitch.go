// Package killswitch blocks non-VPN traffic so that no packet leaves the
// machine outside the tunnel.
package killswitch

import "context"

// Mode controls when the kill switch is active.
type Mode string

const (
	// ModeOff never blocks traffic.
	ModeOff Mode = "off"
	// ModeOn blocks traffic from connect until disconnect.
	ModeOn Mode = "on"
	// ModePermanent keeps blocking even while disconnected, so traffic can
	// only ever flow through the tunnel.
	ModePermanent Mode = "permanent"
)

// ValidModes lists the accepted kill switch settings.
var ValidModes = []Mode{ModeOff, ModeOn, ModePermanent}

// IsValid reports whether m is one of ValidModes.
func (m Mode) IsValid() bool {
	for _, valid := range ValidModes {
		if m == valid {
			return true
		}
	}
	return false
}

// Enforcer installs and removes the firewall rules that implement the kill
// switch.
type Enforcer interface {
	// Enable blocks all traffic except loopback, the tunnel interface and
	// the given VPN server address. serverIP may be empty in permanent mode
	// while disconnected.
	Enable(ctx context.Context, serverIP string) error
	// Disable removes the rules. Disabling an inactive kill switch is a
	// no-op.
	Disable(ctx context.Context) error
}
