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
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/uptrace/bun"
)

// EncodeOrder selects the column order Encode produces.
type EncodeOrder int

const (
	// InsertOrder keeps the entity's declared column order.
	InsertOrder EncodeOrder = iota
	// UpdateOrder keeps the order of the requested field list.
	UpdateOrder
)

// ColumnValue is one column of an encoded entity.
type ColumnValue struct {
	Column string
	Value  interface{}
}

// Row is the entity type of repositories that have no result type: a
// column name to value mapping. []byte values are handed out as strings.
type Row map[string]interface{}

// Codec maps between an entity and its columns.
type Codec[T any] interface {
	// TableName is the table the entity declares, "" when it declares none.
	TableName() string
	// Columns lists the known columns in declaration order.
	Columns() []string
	// PrimaryKeys lists the columns tagged as primary key.
	PrimaryKeys() []string
	// Encode extracts the entity's column values. A non-empty fields list
	// restricts the result to those columns; unknown names are dropped.
	Encode(entity *T, fields []string, order EncodeOrder) ([]ColumnValue, error)
	// Decode builds an entity from one result row. Columns the entity does
	// not know are ignored.
	Decode(columns []string, values []interface{}) (*T, error)
	Value(entity *T, column string) (interface{}, bool)
	SetValue(entity *T, column string, value interface{}) error
}

var baseModelType = reflect.TypeOf(bun.BaseModel{})

type fieldInfo struct {
	column        string
	index         []int
	pk            bool
	autoincrement bool
	nullzero      bool
	hasDefault    bool
}

// structCodec maps exported struct fields to columns using bun struct tags:
// `bun:"name,pk,autoincrement"`. Untagged fields use the snake_case field
// name, `bun:"-"` skips a field, and untagged embedded structs are flattened.
type structCodec[T any] struct {
	table    string
	fields   []*fieldInfo
	byColumn map[string]*fieldInfo
	pks      []string
}

func newStructCodec[T any]() (*structCodec[T], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity type %s is not a struct", t)
	}
	c := &structCodec[T]{byColumn: map[string]*fieldInfo{}}
	c.collect(t, nil)
	if len(c.fields) == 0 {
		return nil, fmt.Errorf("entity type %s has no exported fields", t)
	}
	for _, f := range c.fields {
		if f.pk {
			c.pks = append(c.pks, f.column)
		}
	}
	return c, nil
}

func (c *structCodec[T]) collect(t reflect.Type, parent []int) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(append([]int(nil), parent...), i)

		if f.Type == baseModelType {
			if table := tagOption(f.Tag.Get("bun"), "table:"); table != "" && c.table == "" {
				c.table = table
			}
			continue
		}
		tag := f.Tag.Get("bun")
		if tag == "-" || strings.Contains(tag, "rel:") || strings.Contains(tag, "m2m:") {
			continue
		}
		if f.Anonymous && tag == "" {
			ft := f.Type
			if ft.Kind() == reflect.Struct && !reflect.PointerTo(ft).Implements(scannerType) {
				c.collect(ft, index)
			}
			continue
		}
		if !f.IsExported() {
			continue
		}

		parts := strings.Split(tag, ",")
		name := strings.TrimSpace(parts[0])
		if name == "" {
			name = snakeCase(f.Name)
		}
		if _, dup := c.byColumn[name]; dup {
			continue
		}
		info := &fieldInfo{column: name, index: index}
		for _, p := range parts[1:] {
			p = strings.TrimSpace(p)
			switch {
			case p == "pk":
				info.pk = true
			case p == "autoincrement" || p == "identity":
				info.autoincrement = true
			case p == "nullzero":
				info.nullzero = true
			case strings.HasPrefix(p, "default:"):
				info.hasDefault = true
			}
		}
		c.fields = append(c.fields, info)
		c.byColumn[name] = info
	}
}

func (c *structCodec[T]) lookup(column string) (*fieldInfo, bool) {
	if f, ok := c.byColumn[column]; ok {
		return f, true
	}
	for name, f := range c.byColumn {
		if strings.EqualFold(name, column) {
			return f, true
		}
	}
	return nil, false
}

func (c *structCodec[T]) TableName() string { return c.table }

func (c *structCodec[T]) Columns() []string {
	cols := make([]string, len(c.fields))
	for i, f := range c.fields {
		cols[i] = f.column
	}
	return cols
}

func (c *structCodec[T]) PrimaryKeys() []string {
	return append([]string(nil), c.pks...)
}

func (c *structCodec[T]) Encode(entity *T, fields []string, order EncodeOrder) ([]ColumnValue, error) {
	if entity == nil {
		return nil, fmt.Errorf("cannot encode a nil entity")
	}
	v := reflect.ValueOf(entity).Elem()

	var selected []*fieldInfo
	switch {
	case len(fields) == 0:
		selected = c.fields
	case order == UpdateOrder:
		for _, name := range fields {
			if f, ok := c.lookup(name); ok {
				selected = append(selected, f)
			}
		}
	default:
		wanted := make(map[string]bool, len(fields))
		for _, name := range fields {
			if f, ok := c.lookup(name); ok {
				wanted[f.column] = true
			}
		}
		for _, f := range c.fields {
			if wanted[f.column] {
				selected = append(selected, f)
			}
		}
	}

	out := make([]ColumnValue, 0, len(selected))
	for _, f := range selected {
		fv := v.FieldByIndex(f.index)
		zero := fv.IsZero()
		if order == InsertOrder && zero && (f.autoincrement || f.hasDefault) {
			continue
		}
		if zero && f.nullzero {
			out = append(out, ColumnValue{Column: f.column})
			continue
		}
		value, err := bindValue(fv)
		if err != nil {
			return nil, fmt.Errorf("encode column %s: %w", f.column, err)
		}
		out = append(out, ColumnValue{Column: f.column, Value: value})
	}
	return out, nil
}

func (c *structCodec[T]) Decode(columns []string, values []interface{}) (*T, error) {
	entity := new(T)
	v := reflect.ValueOf(entity).Elem()
	for i, column := range columns {
		f, ok := c.lookup(column)
		if !ok {
			continue
		}
		if err := assignValue(v.FieldByIndex(f.index), values[i]); err != nil {
			return nil, fmt.Errorf("decode column %s: %w", column, err)
		}
	}
	return entity, nil
}

func (c *structCodec[T]) Value(entity *T, column string) (interface{}, bool) {
	f, ok := c.lookup(column)
	if !ok || entity == nil {
		return nil, false
	}
	value, err := bindValue(reflect.ValueOf(entity).Elem().FieldByIndex(f.index))
	if err != nil {
		return nil, false
	}
	return value, true
}

func (c *structCodec[T]) SetValue(entity *T, column string, value interface{}) error {
	f, ok := c.lookup(column)
	if !ok {
		return fmt.Errorf("unknown column %s", column)
	}
	return assignValue(reflect.ValueOf(entity).Elem().FieldByIndex(f.index), value)
}

// rowCodec is the Codec of Row.
type rowCodec struct{}

func (rowCodec) TableName() string     { return "" }
func (rowCodec) Columns() []string     { return nil }
func (rowCodec) PrimaryKeys() []string { return nil }

func (rowCodec) Encode(entity *Row, fields []string, order EncodeOrder) ([]ColumnValue, error) {
	if entity == nil {
		return nil, fmt.Errorf("cannot encode a nil row")
	}
	row := *entity
	var columns []string
	if len(fields) > 0 {
		for _, name := range fields {
			if _, ok := row[name]; ok {
				columns = append(columns, name)
			}
		}
		if order == InsertOrder {
			sort.Strings(columns)
		}
	} else {
		for name := range row {
			columns = append(columns, name)
		}
		sort.Strings(columns)
	}
	out := make([]ColumnValue, 0, len(columns))
	for _, name := range columns {
		value := row[name]
		if value != nil {
			bound, err := bindValue(reflect.ValueOf(value))
			if err != nil {
				return nil, fmt.Errorf("encode column %s: %w", name, err)
			}
			value = bound
		}
		out = append(out, ColumnValue{Column: name, Value: value})
	}
	return out, nil
}

func (rowCodec) Decode(columns []string, values []interface{}) (*Row, error) {
	row := make(Row, len(columns))
	for i, column := range columns {
		row[column] = plainValue(values[i])
	}
	return &row, nil
}

func (rowCodec) Value(entity *Row, column string) (interface{}, bool) {
	if entity == nil {
		return nil, false
	}
	v, ok := (*entity)[column]
	return v, ok
}

func (rowCodec) SetValue(entity *Row, column string, value interface{}) error {
	if *entity == nil {
		*entity = Row{}
	}
	(*entity)[column] = plainValue(value)
	return nil
}

func tagOption(tag, prefix string) string {
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, prefix) {
			return strings.TrimPrefix(part, prefix)
		}
	}
	return ""
}

// snakeCase converts a Go field name to its column name: "AuthorID" becomes
// "author_id".
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
