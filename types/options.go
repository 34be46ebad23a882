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

package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/uptrace/bun/dialect"
)

// FilterOptions narrows find, count and modify calls. Every field is
// optional; an empty field omits its clause.
//
// Condition, GroupBy and OrderBy are raw SQL fragments copied into the
// statement as given. Only Args are bound as parameters, one per "?" in
// Condition.
type FilterOptions struct {
	Condition string
	GroupBy   string
	OrderBy   string
	Limit     int // <= 0 means no LIMIT clause
	Offset    int // only used together with Limit
	Args      []interface{}
}

// NewFilterOptions returns options holding only a condition.
func NewFilterOptions(condition string, args ...interface{}) *FilterOptions {
	return &FilterOptions{Condition: condition, Args: args}
}

// Clone returns a deep enough copy to be modified independently.
func (o *FilterOptions) Clone() *FilterOptions {
	if o == nil {
		return &FilterOptions{}
	}
	c := *o
	c.Args = append([]interface{}(nil), o.Args...)
	return &c
}

// And returns a copy whose condition is the current one, parenthesized,
// followed by AND predicate. The receiver is left untouched.
func (o *FilterOptions) And(predicate string, args ...interface{}) *FilterOptions {
	c := o.Clone()
	predicate = strings.TrimSpace(predicate)
	switch {
	case predicate == "":
	case strings.TrimSpace(c.Condition) == "":
		c.Condition = predicate
	default:
		c.Condition = "(" + c.Condition + ") AND " + predicate
	}
	c.Args = append(c.Args, args...)
	return c
}

// ToClause renders opts as " WHERE ... GROUP BY ... ORDER BY ... LIMIT
// <offset>,<limit>", in that fixed order. Each present clause carries a
// leading space; nil or empty options render as "".
func ToClause(opts *FilterOptions) string {
	return ToDialectClause(opts, dialect.MySQL)
}

// ToDialectClause is ToClause with the LIMIT syntax of d. Postgres gets
// "LIMIT <limit> OFFSET <offset>"; every other dialect the MySQL form.
func ToDialectClause(opts *FilterOptions, d dialect.Name) string {
	if opts == nil {
		return ""
	}
	var b strings.Builder
	if c := strings.TrimSpace(opts.Condition); c != "" {
		b.WriteString(" WHERE ")
		b.WriteString(c)
	}
	if g := strings.TrimSpace(opts.GroupBy); g != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(g)
	}
	if o := strings.TrimSpace(opts.OrderBy); o != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(o)
	}
	if opts.Limit > 0 {
		offset := opts.Offset
		if offset < 0 {
			offset = 0
		}
		if d == dialect.PG {
			fmt.Fprintf(&b, " LIMIT %d OFFSET %d", opts.Limit, offset)
		} else {
			fmt.Fprintf(&b, " LIMIT %d,%d", offset, opts.Limit)
		}
	}
	return b.String()
}

// FilterOptionsFromMap builds options from a loosely typed mapping such as a
// decoded request. Recognized keys are condition, groupBy, orderBy, limit,
// offset and args (snake_case spellings are accepted too); other keys are
// ignored. A nil or empty map yields nil.
func FilterOptionsFromMap(m map[string]interface{}) (*FilterOptions, error) {
	if len(m) == 0 {
		return nil, nil
	}
	opts := &FilterOptions{}
	for key, value := range m {
		var err error
		switch key {
		case "condition":
			opts.Condition, err = asString(key, value)
		case "groupBy", "group_by":
			opts.GroupBy, err = asString(key, value)
		case "orderBy", "order_by":
			opts.OrderBy, err = asString(key, value)
		case "limit":
			opts.Limit, err = asInt(key, value)
		case "offset":
			opts.Offset, err = asInt(key, value)
		case "args":
			args, ok := value.([]interface{})
			if !ok && value != nil {
				err = fmt.Errorf("filter option %s: expected a list, got %T", key, value)
			}
			opts.Args = args
		}
		if err != nil {
			return nil, err
		}
	}
	return opts, nil
}

func asString(key string, v interface{}) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return "", fmt.Errorf("filter option %s: expected a string, got %T", key, v)
	}
}

func asInt(key string, v interface{}) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("filter option %s: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("filter option %s: expected an integer, got %T", key, v)
	}
}
