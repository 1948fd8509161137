package migrations

import "embed"

// FS contains embedded SQLite migrations for dealer storage.
//
//go:embed *.sql
var FS embed.FS
