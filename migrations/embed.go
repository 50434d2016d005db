// Package migrations embeds SQL migration files.
package migrations

import "embed"

// ShardFS contains the schema migrations applied to every store shard on
// first use. Creation is idempotent, safe to run on every new connection.
//
//go:embed shard/*.sql
var ShardFS embed.FS

// ShardDir is the directory within ShardFS where migrations live.
const ShardDir = "shard"
