// Package migrations embeds the schema and seed files.
package migrations

import "embed"

// FS holds sql/*.sql and seeds/*.sql.
//
//go:embed sql/*.sql seeds/*.sql
var FS embed.FS

const (
	SQLDir   = "sql"
	SeedsDir = "seeds"
)
