// Package migrations embeds and applies the PostgreSQL schema of the
// journal store.
package migrations

import "embed"

// PostgresFS embeds all PostgreSQL migration files.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS
