// Package migrations embeds the SQL schema for the cluster_nodes
// membership table, applied via golang-migrate/v4's iofs source driver.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
