package migrations

import "embed"

// FS holds the versioned schema migrations applied by db.Init.
//
//go:embed *.sql
var FS embed.FS
