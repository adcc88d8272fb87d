// Package migrations embeds the Postgres schema migrations.
package migrations

import "embed"

// FS holds the NNNNNN_name.{up,down}.sql files read by golang-migrate.
//
//go:embed *.sql
var FS embed.FS
