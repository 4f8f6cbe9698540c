// Package migrations holds the ordered set of schema migrations for the
// Conversation Core's shared SQLite store.
package migrations

import "github.com/laceai/lace/pkg/db"

// All returns every migration known to the store, in the order they were
// authored. db.MigrationRunner re-sorts by Version before applying, so
// declaration order here only matters for readability.
func All() []db.Migration {
	return []db.Migration{
		migration20260301090000,
		migration20260301090001,
		migration20260301090002,
	}
}
