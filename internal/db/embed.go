package db

import "embed"

// migrationFS embeds the goose SQL migrations into the binary.
//
//go:embed migrations/*.sql
var migrationFS embed.FS
