package migrations

import "embed"

// FS holds the numbered migration scripts.
//
//go:embed scripts/*.sql
var FS embed.FS
