// Package api defines wire-format types, converters and an HTTP client for the
// tenk JSON API. It translates tracker models into transport-friendly DTOs that
// the CLI and the web wizard can render without coupling to internal types.
//
// # Key Types
//
// SessionView: a wizard session with its phase, detected and ordered objects,
// the object being placed and a server-computed elapsed counter.
//
// PlacementView: one recorded placement for the history listing.
//
// ProgressView: total hours invested against the goal.
//
// StatusView: daemon runtime information (backend, vision availability,
// active sessions, progress).
//
// # Converters
//
// FromSession, FromPlacement, FromProgress convert tracker models into views.
//
// # Client
//
// Client calls the daemon over HTTP with optional bearer auth. Non-2xx
// responses are returned as *Error carrying the HTTP status and the server's
// error message.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Thumbnails are only included when a caller asks for them, since the base64
// payload dominates the response size.
package api
