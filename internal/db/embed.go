package db

import "embed"

// EmbedMigrations contains the ledger schema migrations.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
