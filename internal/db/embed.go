// Package db holds the Postgres schema of the service.
package db

import "embed"

// Migrations are goose SQL migrations, applied by pg.Migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations goose reads from.
const MigrationsDir = "migrations"
