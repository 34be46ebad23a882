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
	"fmt"
	"strconv"
	"strings"

	"github.com/tomoncle/tablerepo/database"
	"github.com/tomoncle/tablerepo/types"
	"github.com/uptrace/bun/dialect"
)

// QuerySpec is an immutable snapshot of a repository's table, projection and
// key configuration. The With methods return modified copies.
type QuerySpec struct {
	table  string
	fields []string
	keys   []string
}

// NewQuerySpec returns a spec for table selecting fields.
func NewQuerySpec(table string, fields ...string) QuerySpec {
	return QuerySpec{table: table, fields: splitFields(fields)}
}

func (s QuerySpec) Table() string    { return s.table }
func (s QuerySpec) Fields() []string { return append([]string(nil), s.fields...) }
func (s QuerySpec) Keys() []string   { return append([]string(nil), s.keys...) }

func (s QuerySpec) WithTable(table string) QuerySpec {
	s.table = table
	return s
}

// WithFields replaces the projection. No fields selects every column.
func (s QuerySpec) WithFields(fields ...string) QuerySpec {
	s.fields = splitFields(fields)
	return s
}

func (s QuerySpec) WithKeys(keys ...string) QuerySpec {
	s.keys = splitFields(keys)
	return s
}

func (s QuerySpec) requireTable(op string) error {
	if strings.TrimSpace(s.table) == "" {
		return &database.ConfigurationError{Reason: op + " needs a table, call From first"}
	}
	return nil
}

// splitFields accepts both separate names and comma separated lists.
func splitFields(fields []string) []string {
	var out []string
	for _, f := range fields {
		for _, part := range strings.Split(f, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (s QuerySpec) selectList() string {
	if len(s.fields) == 0 {
		return "*"
	}
	return strings.Join(s.fields, ", ")
}

// SelectStatement renders SELECT <fields|*> FROM <table><clause>.
func (s QuerySpec) SelectStatement(d dialect.Name, opts *types.FilterOptions) (string, []interface{}) {
	query := "SELECT " + s.selectList() + " FROM " + database.QuoteIdent(d, s.table) + types.ToDialectClause(opts, d)
	return query, optionArgs(opts)
}

// CountStatement renders a COUNT(*) over the rows opts select, ignoring
// ordering and paging. Grouped selections count groups.
func (s QuerySpec) CountStatement(d dialect.Name, opts *types.FilterOptions) (string, []interface{}) {
	o := opts.Clone()
	o.OrderBy, o.Limit, o.Offset = "", 0, 0
	if strings.TrimSpace(o.GroupBy) != "" {
		inner, args := s.SelectStatement(d, o)
		return "SELECT COUNT(*) FROM (" + inner + ") grouped", args
	}
	return "SELECT COUNT(*) FROM " + database.QuoteIdent(d, s.table) + types.ToDialectClause(o, d), o.Args
}

// InsertStatement renders INSERT INTO <table> (cols) VALUES (?, ...).
func (s QuerySpec) InsertStatement(d dialect.Name, cols []ColumnValue) (string, []interface{}) {
	table := database.QuoteIdent(d, s.table)
	if len(cols) == 0 {
		if d == dialect.MySQL {
			return "INSERT INTO " + table + " () VALUES ()", nil
		}
		return "INSERT INTO " + table + " DEFAULT VALUES", nil
	}
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		names[i] = database.QuoteIdent(d, c.Column)
		marks[i] = "?"
		args[i] = c.Value
	}
	return "INSERT INTO " + table + " (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")", args
}

// UpdateStatement renders UPDATE <table> SET a = ?, ...<clause>. The SET
// values are bound before the options' own arguments.
//
// An UPDATE takes no GROUP BY and no offset. ORDER BY and a row limit are
// MySQL only and render as "LIMIT <n>". Options asking for anything else
// fail with a ConfigurationError.
func (s QuerySpec) UpdateStatement(d dialect.Name, cols []ColumnValue, opts *types.FilterOptions) (string, []interface{}, error) {
	clause, err := updateClause(d, opts)
	if err != nil {
		return "", nil, err
	}
	sets := make([]string, len(cols))
	args := make([]interface{}, 0, len(cols))
	for i, c := range cols {
		sets[i] = database.QuoteIdent(d, c.Column) + " = ?"
		args = append(args, c.Value)
	}
	query := "UPDATE " + database.QuoteIdent(d, s.table) + " SET " + strings.Join(sets, ", ") + clause
	return query, append(args, optionArgs(opts)...), nil
}

func updateClause(d dialect.Name, opts *types.FilterOptions) (string, error) {
	if opts == nil {
		return "", nil
	}
	switch {
	case strings.TrimSpace(opts.GroupBy) != "":
		return "", &database.ConfigurationError{Reason: "modify does not support GROUP BY"}
	case opts.Limit > 0 && opts.Offset > 0:
		return "", &database.ConfigurationError{Reason: "modify does not support an offset"}
	case d != dialect.MySQL && (opts.Limit > 0 || strings.TrimSpace(opts.OrderBy) != ""):
		return "", &database.ConfigurationError{Reason: fmt.Sprintf("modify supports ORDER BY and LIMIT on mysql only, not %s", d)}
	}
	bounded := opts.Clone()
	bounded.Limit, bounded.Offset = 0, 0
	clause := types.ToDialectClause(bounded, d)
	if opts.Limit > 0 {
		clause += " LIMIT " + strconv.Itoa(opts.Limit)
	}
	return clause, nil
}

// DeleteStatement renders DELETE FROM <table> WHERE <key predicate>.
func (s QuerySpec) DeleteStatement(d dialect.Name, keys []ColumnValue) (string, []interface{}) {
	predicate, args := KeyPredicate(d, keys)
	return "DELETE FROM " + database.QuoteIdent(d, s.table) + " WHERE " + predicate, args
}

// KeyPredicate renders "k1 = ? AND k2 = ?" with the key values as args.
func KeyPredicate(d dialect.Name, keys []ColumnValue) (string, []interface{}) {
	parts := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		parts[i] = database.QuoteIdent(d, k.Column) + " = ?"
		args[i] = k.Value
	}
	return strings.Join(parts, " AND "), args
}

func optionArgs(opts *types.FilterOptions) []interface{} {
	if opts == nil {
		return nil
	}
	return opts.Args
}
