// Package migrations embeds the SQLite schema migrations for the record store.
package migrations

import "embed"

// Files holds the numbered up/down migration scripts.
//
//go:embed *.sql
var Files embed.FS
