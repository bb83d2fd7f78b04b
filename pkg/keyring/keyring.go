// Package keyring stores session credentials in the system's secret storage.
//
// The default backend talks to the freedesktop Secret Service over the
// session D-Bus, which is how desktop keyrings (gnome-keyring, KWallet)
// expose themselves. An in-memory backend exists for tests and for systems
// without a keyring daemon.
package keyring

import "errors"

// ErrNotFound is returned when no secret is stored under the given key.
var ErrNotFound = errors.New("keyring: item not found")

// Keyring stores named secrets. Secrets are namespaced by service and
// account, matching the attribute model of the Secret Service API.
type Keyring interface {
	Set(service, account string, secret []byte) error
	Get(service, account string) ([]byte, error)
	Delete(service, account string) error
}
