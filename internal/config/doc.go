// Package config loads, normalizes, and validates tenk configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// OPENROUTER_API_KEY and MONGO_URI. The Config type centralizes every knob the
// daemon and CLI need so the vision endpoint, the document store, and the
// tracker timezone are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
