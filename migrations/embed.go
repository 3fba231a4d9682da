// Package migrations embeds the SQL schema of the connection journal so the
// binary can create its tables without files on disk.
package migrations

import "embed"

// Dir is the directory within FS holding the migration files.
const Dir = "."

// FS holds every *.up.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
