// Package main implements polarisctl, the Polaris VPN client for Linux.
//
// The client is split into a long-running daemon and a thin CLI. The daemon
// owns the session, keeps the server list and client certificate fresh,
// drives the VPN connection through NetworkManager, and serves a control API
// on loopback. The CLI commands talk to that API.
//
// # Architecture
//
//   - pkg/api: client for the Polaris REST API
//   - pkg/session: login flow and keyring-backed session storage
//   - pkg/serverlist: logical server list, lookups and expiration
//   - pkg/cache: SQLite-backed server list cache
//   - pkg/refresher: background refreshing of VPN data
//   - pkg/vpn: connection state machine and tunnel backends
//   - pkg/reconnector: automatic reconnection after drops
//   - pkg/killswitch: nftables traffic blocking
//   - pkg/settings: user preferences
//   - pkg/daemon: wiring and the control API
//
// # Quick Start
//
//	# Start the daemon
//	polarisctl daemon &
//	polarisctl wait
//
//	# Log in and connect
//	polarisctl login vpnuser
//	polarisctl connect
//
// # Environment Variables
//
//   - POLARIS_CONFIG_PATH: directory containing polarisd.yml
//   - POLARIS_API_BASE_URL: base URL of the REST API
//   - POLARIS_CONTROL_ADDR: control API listen address
//   - POLARIS_KEYRING_BACKEND: secretservice or memory
//   - POLARIS_LOG_LEVEL: debug, info, warn, error
package main
