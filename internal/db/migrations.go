// Package db carries the schema migrations applied at startup by pg.Migrate.
package db

import "embed"

// Dir is the directory inside Migrations that holds the goose files.
const Dir = "migrations"

//go:embed migrations/*.sql
var Migrations embed.FS
