// Package sqlite stores tracker sessions, placements and detection records in
// a local SQLite database (modernc.org/sqlite, no cgo).
//
// The schema is embedded and versioned; a database written by a different
// schema version is rejected rather than migrated.
package sqlite
