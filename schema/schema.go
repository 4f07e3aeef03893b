// Package schema embeds the DDL for the ingestion tables.
package schema

import _ "embed"

// Postgres is the PostgreSQL schema
//
//go:embed postgres.sql
var Postgres string

// SQLite is the SQLite schema. Every statement is idempotent.
//
//go:embed sqlite.sql
var SQLite string
