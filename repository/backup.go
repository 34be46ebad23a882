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

package repository

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tomoncle/tablerepo/database"
	"github.com/tomoncle/tablerepo/utils"
	"github.com/uptrace/bun/dialect"
)

// Backup writes a replayable dump of the table to
// <backup dir>/<fileName>.<YYYYMMDD.HHMMSS>.sql and returns its path. The
// script drops the table, recreates it and inserts every row, one statement
// per line. fileName defaults to the table name.
func (r *Repository[T]) Backup(ctx context.Context, fileName string) (string, error) {
	spec := r.spec
	if err := spec.requireTable("backup"); err != nil {
		return "", err
	}
	if fileName == "" {
		fileName = spec.table
	}
	path := filepath.Join(r.backupDir, fmt.Sprintf("%s.%s.sql", fileName, utils.FormatTimestamp(time.Now())))

	h, err := r.conn.Handle(ctx)
	if err != nil {
		return "", err
	}
	d := r.dialect()
	start := time.Now()
	create, err := database.CreateTableStatement(ctx, h, d, spec.table)
	r.conn.AccessLog().Access("create statement of "+spec.table, time.Since(start))
	if err != nil {
		return "", database.NewQueryError("create statement of "+spec.table, err)
	}

	start = time.Now()
	resets, err := database.SequenceResetStatements(ctx, h, d, spec.table)
	r.conn.AccessLog().Access("sequences of "+spec.table, time.Since(start))
	if err != nil {
		return "", database.NewQueryError("sequences of "+spec.table, err)
	}

	query := "SELECT * FROM " + database.QuoteIdent(d, spec.table)
	rows, err := r.Query(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return "", database.NewQueryError(query, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &database.BackupError{Path: path, Err: err}
	}
	file, err := os.Create(path)
	if err != nil {
		return "", &database.BackupError{Path: path, Err: err}
	}
	w := bufio.NewWriter(file)
	table := database.QuoteIdent(d, spec.table)

	fmt.Fprintf(w, "DROP TABLE IF EXISTS %s;\n", table)
	fmt.Fprintf(w, "%s;\n", strings.TrimRight(strings.TrimSpace(create), ";"))

	count := 0
	values := make([]interface{}, len(columns))
	dest := make([]interface{}, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			_ = file.Close()
			return "", database.NewQueryError(query, err)
		}
		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = sqlLiteral(d, v)
		}
		fmt.Fprintf(w, "INSERT INTO %s VALUES (%s);\n", table, strings.Join(literals, ", "))
		count++
	}
	if err := rows.Err(); err != nil {
		_ = file.Close()
		return "", database.NewQueryError(query, err)
	}
	for _, stmt := range resets {
		fmt.Fprintf(w, "%s;\n", stmt)
	}

	if err := w.Flush(); err != nil {
		_ = file.Close()
		return "", &database.BackupError{Path: path, Err: err}
	}
	if err := file.Close(); err != nil {
		return "", &database.BackupError{Path: path, Err: err}
	}
	r.logger.Info("Table backup written", "table", spec.table, "rows", count, "file", path)
	return path, nil
}

// Restore replays a script written by Backup, or any script of plain
// statements, on the repository's connection. Inside a transaction the
// replay is part of it.
func (r *Repository[T]) Restore(ctx context.Context, path string) error {
	h, err := r.conn.Handle(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	result, err := database.RestoreScript(ctx, h, r.dialect(), path)
	r.conn.AccessLog().Access("restore "+path, time.Since(start))
	if err != nil {
		return err
	}
	r.logger.Info("Script restored", "file", path, "statements", result.Statements, "rows_affected", result.RowsAffected)
	return nil
}

// sqlLiteral renders a driver value as a literal of dialect d. Strings are
// escaped so that the literal never spans lines.
func sqlLiteral(d dialect.Name, v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case bool:
		if d == dialect.PG {
			return strings.ToUpper(strconv.FormatBool(x))
		}
		if x {
			return "1"
		}
		return "0"
	case time.Time:
		return quoteString(d, formatTime(d, x))
	case []byte:
		if utf8.Valid(x) {
			return quoteString(d, string(x))
		}
		return blobLiteral(d, x)
	case string:
		return quoteString(d, x)
	default:
		return quoteString(d, fmt.Sprint(v))
	}
}

func formatTime(d dialect.Name, t time.Time) string {
	switch d {
	case dialect.MySQL:
		return t.Format("2006-01-02 15:04:05.999999")
	default:
		return t.Format("2006-01-02 15:04:05.999999999-07:00")
	}
}

func blobLiteral(d dialect.Name, b []byte) string {
	if d == dialect.PG {
		return `'\x` + hex.EncodeToString(b) + `'::bytea`
	}
	return "X'" + hex.EncodeToString(b) + "'"
}

var (
	mysqlEscaper = strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		"\n", `\n`,
		"\r", `\r`,
		"\x00", `\0`,
		"\x1a", `\Z`,
	)
	postgresEscaper = strings.NewReplacer(
		`\`, `\\`,
		`'`, `''`,
		"\n", `\n`,
		"\r", `\r`,
	)
	sqliteEscaper = strings.NewReplacer(
		`'`, `''`,
		"\n", `' || char(10) || '`,
		"\r", `' || char(13) || '`,
	)
)

func quoteString(d dialect.Name, s string) string {
	switch d {
	case dialect.MySQL:
		return "'" + mysqlEscaper.Replace(s) + "'"
	case dialect.PG:
		if strings.ContainsAny(s, "\\\n\r") {
			return "E'" + postgresEscaper.Replace(s) + "'"
		}
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	default:
		if strings.ContainsAny(s, "\n\r") {
			return "('" + sqliteEscaper.Replace(s) + "')"
		}
		return "'" + sqliteEscaper.Replace(s) + "'"
	}
}
