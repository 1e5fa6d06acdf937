// Package migrations embeds the Postgres schema for work sessions and the outbox.
package migrations

import "embed"

// FS holds the ordered *.up.sql files.
//
//go:embed *.up.sql
var FS embed.FS
