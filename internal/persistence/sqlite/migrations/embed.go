package migrations

import "embed"

// FS contains embedded SQLite migrations for work session storage.
//
//go:embed *.sql
var FS embed.FS
