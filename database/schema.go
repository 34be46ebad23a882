/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// ColumnInfo describes one column of an existing table.
type ColumnInfo struct {
	Name       string
	Type       string
	NotNull    bool
	Default    string
	HasDefault bool
	PrimaryKey int // position in the primary key, 0 when not part of it
}

// QuoteIdent quotes a table or column name for d. A dotted name is quoted
// part by part.
func QuoteIdent(d dialect.Name, ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = quoteIdentPart(d, p)
	}
	return strings.Join(parts, ".")
}

func quoteIdentPart(d dialect.Name, s string) string {
	switch d {
	case dialect.MySQL:
		return "`" + strings.ReplaceAll(s, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
}

// TableColumns lists the columns of table in declaration order.
func TableColumns(ctx context.Context, conn bun.IConn, d dialect.Name, table string) ([]ColumnInfo, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch d {
	case dialect.PG:
		rows, err = conn.QueryContext(ctx, `SELECT c.column_name, c.data_type, c.character_maximum_length, c.is_nullable, c.column_default,
  COALESCE((SELECT k.ordinal_position FROM information_schema.table_constraints t
    JOIN information_schema.key_column_usage k ON t.constraint_name = k.constraint_name AND t.table_schema = k.table_schema
    WHERE t.constraint_type = 'PRIMARY KEY' AND t.table_schema = c.table_schema AND t.table_name = c.table_name AND k.column_name = c.column_name), 0)
FROM information_schema.columns c
WHERE c.table_schema = current_schema() AND c.table_name = ?
ORDER BY c.ordinal_position`, table)
	case dialect.MySQL:
		rows, err = conn.QueryContext(ctx, `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, COLUMN_KEY
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`, table)
	case dialect.SQLite:
		rows, err = conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdent(d, table)))
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unsupported dialect %s", d)}
	}
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var cols []ColumnInfo
	for rows.Next() {
		var (
			col       ColumnInfo
			defaultNS sql.NullString
		)
		switch d {
		case dialect.PG:
			var (
				nullable string
				length   sql.NullInt64
				pkPos    int
			)
			if err := rows.Scan(&col.Name, &col.Type, &length, &nullable, &defaultNS, &pkPos); err != nil {
				return nil, err
			}
			if length.Valid {
				col.Type = fmt.Sprintf("%s(%d)", col.Type, length.Int64)
			}
			col.NotNull = strings.EqualFold(nullable, "NO")
			col.PrimaryKey = pkPos
		case dialect.MySQL:
			var nullable, key string
			if err := rows.Scan(&col.Name, &col.Type, &nullable, &defaultNS, &key); err != nil {
				return nil, err
			}
			col.NotNull = strings.EqualFold(nullable, "NO")
			if key == "PRI" {
				col.PrimaryKey = 1
			}
		default:
			var cid, notnull, pk int
			if err := rows.Scan(&cid, &col.Name, &col.Type, &notnull, &defaultNS, &pk); err != nil {
				return nil, err
			}
			col.NotNull = notnull == 1
			col.PrimaryKey = pk
		}
		col.Default, col.HasDefault = defaultNS.String, defaultNS.Valid
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// PrimaryKeys returns the declared primary key columns of table in key
// order. A table without a primary key yields an empty slice.
func PrimaryKeys(ctx context.Context, conn bun.IConn, d dialect.Name, table string) ([]string, error) {
	if d == dialect.MySQL {
		return mysqlPrimaryKeys(ctx, conn, table)
	}
	cols, err := TableColumns(ctx, conn, d, table)
	if err != nil {
		return nil, err
	}
	keyed := make([]ColumnInfo, 0, len(cols))
	for _, c := range cols {
		if c.PrimaryKey > 0 {
			keyed = append(keyed, c)
		}
	}
	sort.SliceStable(keyed, func(i, j int) bool { return keyed[i].PrimaryKey < keyed[j].PrimaryKey })
	keys := make([]string, len(keyed))
	for i, c := range keyed {
		keys[i] = c.Name
	}
	return keys, nil
}

func mysqlPrimaryKeys(ctx context.Context, conn bun.IConn, table string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
ORDER BY ORDINAL_POSITION`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		keys = append(keys, name)
	}
	return keys, rows.Err()
}

// CreateTableStatement returns the statement that recreates table, without a
// trailing semicolon. MySQL and SQLite report their own DDL; for Postgres it
// is rebuilt from information_schema and covers columns, defaults and the
// primary key only.
func CreateTableStatement(ctx context.Context, conn bun.IConn, d dialect.Name, table string) (string, error) {
	switch d {
	case dialect.MySQL:
		var name, stmt string
		err := conn.QueryRowContext(ctx, "SHOW CREATE TABLE "+QuoteIdent(d, table)).Scan(&name, &stmt)
		return stmt, err
	case dialect.SQLite:
		var stmt string
		err := conn.QueryRowContext(ctx, "SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&stmt)
		return stmt, err
	case dialect.PG:
		cols, err := TableColumns(ctx, conn, d, table)
		if err != nil {
			return "", err
		}
		if len(cols) == 0 {
			return "", sql.ErrNoRows
		}
		return postgresCreateTable(table, cols), nil
	default:
		return "", &ConfigurationError{Reason: fmt.Sprintf("unsupported dialect %s", d)}
	}
}

func postgresCreateTable(table string, cols []ColumnInfo) string {
	defs := make([]string, 0, len(cols)+1)
	var keys []ColumnInfo
	for _, c := range cols {
		typ := c.Type
		def := c.Default
		// serial columns own their sequence, which DROP TABLE removes
		if serial, ok := serialType(c); ok {
			typ, def = serial, ""
		}
		b := quoteIdentPart(dialect.PG, c.Name) + " " + typ
		if c.NotNull {
			b += " NOT NULL"
		}
		if def != "" {
			b += " DEFAULT " + def
		}
		defs = append(defs, b)
		if c.PrimaryKey > 0 {
			keys = append(keys, c)
		}
	}
	if len(keys) > 0 {
		sort.SliceStable(keys, func(i, j int) bool { return keys[i].PrimaryKey < keys[j].PrimaryKey })
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = quoteIdentPart(dialect.PG, k.Name)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(names, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(dialect.PG, table), strings.Join(defs, ", "))
}

// serialType returns the serial pseudo type matching a Postgres column fed by
// a sequence.
func serialType(c ColumnInfo) (string, bool) {
	if !c.HasDefault || !strings.HasPrefix(c.Default, "nextval(") {
		return "", false
	}
	switch c.Type {
	case "bigint":
		return "bigserial", true
	case "integer":
		return "serial", true
	case "smallint":
		return "smallserial", true
	}
	return "", false
}

// SequenceResetStatements returns the statements that move the sequence of
// every serial column of table past the values already stored. Restored
// rows carry explicit ids, so a dump replays them after its INSERTs. Only
// Postgres has any.
func SequenceResetStatements(ctx context.Context, conn bun.IConn, d dialect.Name, table string) ([]string, error) {
	if d != dialect.PG {
		return nil, nil
	}
	cols, err := TableColumns(ctx, conn, d, table)
	if err != nil {
		return nil, err
	}
	return postgresSequenceResets(table, cols), nil
}

func postgresSequenceResets(table string, cols []ColumnInfo) []string {
	var stmts []string
	quoted := QuoteIdent(dialect.PG, table)
	for _, c := range cols {
		if _, ok := serialType(c); !ok {
			continue
		}
		col := quoteIdentPart(dialect.PG, c.Name)
		stmts = append(stmts, fmt.Sprintf(
			"SELECT setval(pg_get_serial_sequence('%s', '%s'), COALESCE(MAX(%s), 1), MAX(%s) IS NOT NULL) FROM %s",
			strings.ReplaceAll(quoted, "'", "''"), strings.ReplaceAll(c.Name, "'", "''"), col, col, quoted,
		))
	}
	return stmts
}
