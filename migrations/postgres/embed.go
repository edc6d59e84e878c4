// Package migrations embeds SQL migration files.
package migrations

import "embed"

// CoreFS contains the schema migrations for the mandato database.
//
//go:embed core/*.sql
var CoreFS embed.FS

// CoreDir is the directory within CoreFS where migrations live.
const CoreDir = "core"
