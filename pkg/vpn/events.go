package vpn

// EventKind identifies a tunnel-level event reported by a Backend.
type EventKind int

const (
	// EventUp is emitted once the tunnel is established.
	EventUp EventKind = iota
	// EventDown is emitted when an established tunnel drops unexpectedly.
	EventDown
	// EventDisconnected is emitted when a requested disconnect completes.
	EventDisconnected
	// EventTimeout is emitted when the tunnel could not be established in time.
	EventTimeout
	// EventAuthDenied is emitted when the server rejects the client certificate
	// or credentials. Retrying with the same credentials cannot succeed.
	EventAuthDenied
	// EventExpiredCertificate is emitted when the client certificate has
	// expired and must be refreshed before the next attempt.
	EventExpiredCertificate
	// EventMaximumSessionsReached is emitted when the account has no free
	// session slots left.
	EventMaximumSessionsReached
	// EventUnexpectedError covers everything the backend cannot classify.
	EventUnexpectedError
)

var eventKindNames = map[EventKind]string{
	EventUp:                     "up",
	EventDown:                   "down",
	EventDisconnected:           "disconnected",
	EventTimeout:                "timeout",
	EventAuthDenied:             "auth-denied",
	EventExpiredCertificate:     "expired-certificate",
	EventMaximumSessionsReached: "maximum-sessions-reached",
	EventUnexpectedError:        "unexpected-error",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is a tunnel-level notification from a Backend.
type Event struct {
	Kind EventKind
	// Err carries detail for the error kinds. Nil for Up, Down and
	// Disconnected.
	Err error
}
