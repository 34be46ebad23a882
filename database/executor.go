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
	"strconv"
	"strings"

	"github.com/uptrace/bun/dialect"
)

// Executor runs statements whose arguments are bound by the driver. Both
// *sql.Conn and *sql.Tx implement it.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	_ Executor = (*sql.Conn)(nil)
	_ Executor = (*sql.Tx)(nil)
)

// Rebind rewrites "?" placeholders into the numbered "$n" form Postgres
// drivers expect. A "?" inside a quoted string, a quoted identifier or a
// "--" comment is text and stays as it is. Other dialects bind "?" natively
// and get query back unchanged.
func Rebind(d dialect.Name, query string) string {
	if d != dialect.PG || !strings.Contains(query, "?") {
		return query
	}

	var (
		b       strings.Builder
		n       int
		quote   byte
		escapes bool
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		c := query[i]
		if quote != 0 {
			b.WriteByte(c)
			switch {
			case escapes && c == '\\' && i+1 < len(query):
				i++
				b.WriteByte(query[i])
			case c == quote:
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"':
			quote = c
			// E'...' strings take backslash escapes
			escapes = c == '\'' && i > 0 && (query[i-1] == 'E' || query[i-1] == 'e')
			b.WriteByte(c)
		case '-':
			if i+1 < len(query) && query[i+1] == '-' {
				end := strings.IndexByte(query[i:], '\n')
				if end < 0 {
					b.WriteString(query[i:])
					return b.String()
				}
				b.WriteString(query[i : i+end])
				i += end - 1
				continue
			}
			b.WriteByte(c)
		case '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// statementOperation returns the leading keyword of query, upper cased.
func statementOperation(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
