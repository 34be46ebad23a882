// Package database manages the single connection behind a table repository:
// connection strings and YAML configuration, per-dialect bun pools, the
// transaction flag, typed errors, the access-log sink, schema introspection
// and replay of SQL scripts.
package database
