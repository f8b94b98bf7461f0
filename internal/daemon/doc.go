// Package daemon coordinates the long-running tenk process.
//
// It wires configuration, the session store and the tracker service into a
// single lifecycle with flock-based locking to prevent multiple instances.
// While running, the daemon serves the web wizard and the JSON API over HTTP
// and periodically abandons sessions left idle past server.session_ttl_minutes.
// The HTTP server and the sweeper run under one errgroup so either failing
// stops both.
//
// Keep orchestration logic here: session rules live in the tracker package
// while the daemon focuses on startup, shutdown, and transport.
package daemon
