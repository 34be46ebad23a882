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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/dialect"
)

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`users`", QuoteIdent(dialect.MySQL, "users"))
	assert.Equal(t, "`app`.`users`", QuoteIdent(dialect.MySQL, "app.users"))
	assert.Equal(t, `"public"."users"`, QuoteIdent(dialect.PG, "public.users"))
	assert.Equal(t, `"we""ird"`, QuoteIdent(dialect.SQLite, `we"ird`))
}

func TestSQLiteIntrospection(t *testing.T) {
	ctx := context.Background()
	m := newSQLiteManager(t)
	conn, err := m.Handle(ctx)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `CREATE TABLE pairs (k2 TEXT NOT NULL, k1 INTEGER NOT NULL, note TEXT DEFAULT 'none', PRIMARY KEY (k1, k2))`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `CREATE TABLE loose (a TEXT)`)
	require.NoError(t, err)

	cols, err := TableColumns(ctx, conn, dialect.SQLite, "pairs")
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "k2", cols[0].Name)
	assert.True(t, cols[0].NotNull)
	assert.Equal(t, 2, cols[0].PrimaryKey)
	assert.True(t, cols[2].HasDefault)
	assert.Equal(t, "'none'", cols[2].Default)

	keys, err := PrimaryKeys(ctx, conn, dialect.SQLite, "pairs")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, keys)

	keys, err = PrimaryKeys(ctx, conn, dialect.SQLite, "loose")
	require.NoError(t, err)
	assert.Empty(t, keys)

	stmt, err := CreateTableStatement(ctx, conn, dialect.SQLite, "pairs")
	require.NoError(t, err)
	assert.Contains(t, stmt, "CREATE TABLE pairs")

	_, err = CreateTableStatement(ctx, conn, dialect.SQLite, "missing")
	assert.Error(t, err)
}

func TestPostgresCreateTable(t *testing.T) {
	stmt := postgresCreateTable("orders", []ColumnInfo{
		{Name: "id", Type: "bigint", NotNull: true, Default: "nextval('orders_id_seq'::regclass)", HasDefault: true, PrimaryKey: 1},
		{Name: "ref", Type: "character varying(32)", NotNull: true},
		{Name: "state", Type: "text", Default: "'new'::text", HasDefault: true},
	})
	assert.Equal(t, `CREATE TABLE "orders" ("id" bigserial NOT NULL, "ref" character varying(32) NOT NULL, "state" text DEFAULT 'new'::text, PRIMARY KEY ("id"))`, stmt)
}

func TestPostgresSequenceResets(t *testing.T) {
	stmts := postgresSequenceResets("app.orders", []ColumnInfo{
		{Name: "id", Type: "bigint", NotNull: true, Default: "nextval('orders_id_seq'::regclass)", HasDefault: true, PrimaryKey: 1},
		{Name: "ref", Type: "text", Default: "nextval('refs')", HasDefault: true},
		{Name: "state", Type: "text", Default: "'new'::text", HasDefault: true},
	})
	require.Len(t, stmts, 1, "only integer columns become serial")
	assert.Equal(t, `SELECT setval(pg_get_serial_sequence('"app"."orders"', 'id'), COALESCE(MAX("id"), 1), MAX("id") IS NOT NULL) FROM "app"."orders"`, stmts[0])

	assert.Empty(t, postgresSequenceResets("plain", []ColumnInfo{{Name: "a", Type: "integer"}}))
}

func TestSequenceResetStatementsOutsidePostgres(t *testing.T) {
	ctx := context.Background()
	m := newSQLiteManager(t)
	conn, err := m.Handle(ctx)
	require.NoError(t, err)

	stmts, err := SequenceResetStatements(ctx, conn, dialect.SQLite, "anything")
	require.NoError(t, err)
	assert.Nil(t, stmts)
}
