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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// RestoreResult is the outcome of replaying one script.
type RestoreResult struct {
	File         string
	Statements   int
	RowsAffected int64
	Duration     time.Duration
}

// RestoreScript replays the SQL script at path statement by statement on
// conn. Blank statements and "--" comment lines are skipped. The first
// failing statement aborts the replay with a QueryError; running it inside a
// transaction is up to the caller.
func RestoreScript(ctx context.Context, conn bun.IConn, d dialect.Name, path string) (*RestoreResult, error) {
	start := time.Now()
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	result := &RestoreResult{File: path}
	for _, stmt := range SplitStatements(string(content), d == dialect.MySQL) {
		res, err := conn.ExecContext(ctx, stmt)
		if err != nil {
			return result, NewQueryError(stmt, err)
		}
		result.Statements++
		if n, err := res.RowsAffected(); err == nil {
			result.RowsAffected += n
		}
	}
	result.Duration = time.Since(start)
	return result, nil
}

// SplitStatements splits a script on semicolons that are outside quoted
// strings and identifiers. backslashEscapes makes a backslash escape the next
// character inside single quoted strings, as MySQL does by default. Comment
// lines starting with "--" outside a statement are dropped.
func SplitStatements(content string, backslashEscapes bool) []string {
	var (
		statements []string
		current    strings.Builder
		quote      rune
		escaped    bool
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	runes := []rune(content)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			current.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\' && backslashEscapes && quote == '\'':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}

		if r == '-' && i+1 < len(runes) && runes[i+1] == '-' && strings.TrimSpace(current.String()) == "" {
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			continue
		}

		switch r {
		case '\'', '"', '`':
			quote = r
			current.WriteRune(r)
		case ';':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return statements
}
