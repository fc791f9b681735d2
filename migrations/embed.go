// Package migrations embeds the SQLite schema migrations into the binary.
//
//	db.Migrate(ctx, migrations.FS)
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files at its root.
//
//go:embed *.sql
var FS embed.FS
