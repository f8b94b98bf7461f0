// Package store selects the persistence backend configured for tenk.
package store
