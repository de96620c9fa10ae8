// Package migrations embeds the SQL schema for the postgres backend.
package migrations

import "embed"

// FS holds the numbered migration files.
//
//go:embed *.sql
var FS embed.FS
