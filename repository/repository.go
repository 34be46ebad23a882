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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/tomoncle/tablerepo/database"
	"github.com/tomoncle/tablerepo/types"
	"github.com/uptrace/bun/dialect"
)

// Option configures a Repository at construction.
type Option func(*options)

type options struct {
	table     string
	fields    []string
	keys      []string
	backupDir string
}

// WithTable sets the table. Without it the entity's bun.BaseModel table tag
// is used.
func WithTable(table string) Option {
	return func(o *options) { o.table = table }
}

// WithFields sets the projected fields.
func WithFields(fields ...string) Option {
	return func(o *options) { o.fields = fields }
}

// WithPrimaryKeys sets the primary key columns, overriding pk tags and key
// discovery.
func WithPrimaryKeys(keys ...string) Option {
	return func(o *options) { o.keys = keys }
}

// WithBackupDir sets the directory Backup writes to.
func WithBackupDir(dir string) Option {
	return func(o *options) { o.backupDir = dir }
}

// Repository is the CRUD, transaction and backup façade over one table.
//
// Table, fields and keys set through From, Select and Keys are read by every
// later call, so reconfiguring a repository changes what subsequent calls do.
// Use Spec and FindWith to work from a fixed snapshot instead.
//
// A Repository is not safe for concurrent use.
type Repository[T any] struct {
	conn      *database.ConnectionManager
	codec     Codec[T]
	spec      QuerySpec
	backupDir string
	logger    database.Logger

	// keys discovered from the table, valid for discoveredFor only
	discovered    []string
	discoveredFor string
}

// New returns a repository for entities of type T on the connection managed
// by conn. The connection is established by the first operation.
func New[T any](conn *database.ConnectionManager, opts ...Option) (*Repository[T], error) {
	if conn == nil {
		return nil, &database.ConfigurationError{Reason: "repository needs a connection manager"}
	}
	codec, err := CodecFor[T]()
	if err != nil {
		return nil, &database.ConfigurationError{Reason: err.Error()}
	}
	o := &options{backupDir: database.DefaultBackupDir}
	for _, opt := range opts {
		opt(o)
	}
	if o.table == "" {
		o.table = codec.TableName()
	}
	return &Repository[T]{
		conn:      conn,
		codec:     codec,
		spec:      NewQuerySpec(o.table, o.fields...).WithKeys(o.keys...),
		backupDir: o.backupDir,
		logger:    conn.Logger(),
	}, nil
}

// To returns a repository producing entities of type U that shares r's
// connection, table and projection. pks replaces the key list; without it
// keys are resolved again for U.
func To[U any, T any](r *Repository[T], pks ...string) (*Repository[U], error) {
	codec, err := CodecFor[U]()
	if err != nil {
		return nil, &database.ConfigurationError{Reason: err.Error()}
	}
	spec := r.spec.WithKeys(pks...)
	if spec.table == "" {
		spec = spec.WithTable(codec.TableName())
	}
	return &Repository[U]{
		conn:      r.conn,
		codec:     codec,
		spec:      spec,
		backupDir: r.backupDir,
		logger:    r.logger,
	}, nil
}

// Select sets the projected fields; no fields selects every column.
func (r *Repository[T]) Select(fields ...string) *Repository[T] {
	r.spec = r.spec.WithFields(fields...)
	return r
}

// From sets the table.
func (r *Repository[T]) From(table string) *Repository[T] {
	r.spec = r.spec.WithTable(table)
	return r
}

// Keys sets the primary key columns.
func (r *Repository[T]) Keys(pks ...string) *Repository[T] {
	r.spec = r.spec.WithKeys(pks...)
	return r
}

// Spec returns a snapshot of the current configuration.
func (r *Repository[T]) Spec() QuerySpec { return r.spec }

func (r *Repository[T]) Connection() *database.ConnectionManager { return r.conn }

func (r *Repository[T]) Codec() Codec[T] { return r.codec }

func (r *Repository[T]) dialect() dialect.Name { return r.conn.Dialect() }

// Add inserts entity. With a single primary key whose value is still zero
// the generated identity is written back onto entity, which is returned.
// Entities with composite keys are inserted as they are.
func (r *Repository[T]) Add(ctx context.Context, entity *T) (*T, error) {
	spec := r.spec
	if err := spec.requireTable("add"); err != nil {
		return nil, err
	}
	cols, err := r.codec.Encode(entity, spec.fields, InsertOrder)
	if err != nil {
		return nil, &database.ConfigurationError{Reason: err.Error()}
	}
	keys, err := r.primaryKeys(ctx, spec)
	if err != nil {
		return nil, err
	}
	// a zero key is left to the table to generate
	writeBack := len(keys) == 1 && r.isZero(entity, keys[0])
	if writeBack {
		cols = withoutColumn(cols, keys[0])
	}

	d := r.dialect()
	query, args := spec.InsertStatement(d, cols)

	if writeBack && d == dialect.PG {
		query += " RETURNING " + database.QuoteIdent(d, keys[0])
		var id interface{}
		if err := r.queryRow(ctx, query, args...).Scan(&id); err != nil {
			return nil, database.NewQueryError(query, err)
		}
		if err := r.codec.SetValue(entity, keys[0], id); err != nil {
			return nil, err
		}
		return entity, nil
	}

	res, err := r.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if writeBack {
		id, err := res.LastInsertId()
		if err != nil {
			r.logger.Warn("Insert id unavailable", "table", spec.table, "error", err)
			return entity, nil
		}
		if err := r.codec.SetValue(entity, keys[0], id); err != nil {
			return nil, err
		}
	}
	return entity, nil
}

func withoutColumn(cols []ColumnValue, column string) []ColumnValue {
	kept := make([]ColumnValue, 0, len(cols))
	for _, c := range cols {
		if !strings.EqualFold(c.Column, column) {
			kept = append(kept, c)
		}
	}
	return kept
}

func (r *Repository[T]) isZero(entity *T, column string) bool {
	v, ok := r.codec.Value(entity, column)
	if !ok || v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}

// Find returns every row opts selects, decoded into entities.
func (r *Repository[T]) Find(ctx context.Context, opts *types.FilterOptions) ([]*T, error) {
	return r.FindWith(ctx, r.spec, opts)
}

// FindWith is Find against a fixed spec instead of the repository's current
// configuration.
func (r *Repository[T]) FindWith(ctx context.Context, spec QuerySpec, opts *types.FilterOptions) ([]*T, error) {
	if err := spec.requireTable("find"); err != nil {
		return nil, err
	}
	query, args := spec.SelectStatement(r.dialect(), opts)
	return r.FindBySQL(ctx, query, args...)
}

// FindBySQL runs a raw query and decodes every row into entities.
func (r *Repository[T]) FindBySQL(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities, err := r.decodeRows(rows)
	if err != nil {
		return nil, database.NewQueryError(query, err)
	}
	return entities, nil
}

func (r *Repository[T]) decodeRows(rows *sql.Rows) ([]*T, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	entities := make([]*T, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		entity, err := r.codec.Decode(columns, values)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// FindOne returns the first row opts selects. No row yields a QueryError
// wrapping sql.ErrNoRows.
func (r *Repository[T]) FindOne(ctx context.Context, opts *types.FilterOptions) (*T, error) {
	o := opts.Clone()
	o.Limit = 1
	entities, err := r.Find(ctx, o)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		query, _ := r.spec.SelectStatement(r.dialect(), o)
		return nil, database.NewQueryError(query, sql.ErrNoRows)
	}
	return entities[0], nil
}

// Count returns the number of rows opts selects.
func (r *Repository[T]) Count(ctx context.Context, opts *types.FilterOptions) (int64, error) {
	spec := r.spec
	if err := spec.requireTable("count"); err != nil {
		return 0, err
	}
	query, args := spec.CountStatement(r.dialect(), opts)
	var total int64
	if err := r.queryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, database.NewQueryError(query, err)
	}
	return total, nil
}

// Page returns one page of the rows the request's filter selects.
func (r *Repository[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := r.Count(ctx, pageRequest.CountOptions())
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return pagination, nil
	}
	items, err := r.Find(ctx, pageRequest.Options())
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = items
	return pagination, nil
}

// Modify updates the projected fields of entity, or all of them, and returns
// the number of rows affected. With filterByPK the caller's condition is
// ANDed with a predicate on the entity's current key values, caller
// predicate first.
func (r *Repository[T]) Modify(ctx context.Context, entity *T, opts *types.FilterOptions, filterByPK bool) (int64, error) {
	spec := r.spec
	if err := spec.requireTable("modify"); err != nil {
		return 0, err
	}
	cols, err := r.codec.Encode(entity, spec.fields, UpdateOrder)
	if err != nil {
		return 0, &database.ConfigurationError{Reason: err.Error()}
	}
	if len(cols) == 0 {
		return 0, &database.ConfigurationError{Reason: "modify has no columns to set"}
	}

	d := r.dialect()
	where := opts.Clone()
	if filterByPK {
		keyValues, err := r.keyValues(ctx, spec, entity)
		if err != nil {
			return 0, err
		}
		predicate, args := KeyPredicate(d, keyValues)
		where = where.And(predicate, args...)
	}

	query, args, err := spec.UpdateStatement(d, cols, where)
	if err != nil {
		return 0, err
	}
	res, err := r.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(query, res)
}

// Remove deletes the row matching entity's key values and returns the
// number of rows affected.
func (r *Repository[T]) Remove(ctx context.Context, entity *T) (int64, error) {
	spec := r.spec
	if err := spec.requireTable("remove"); err != nil {
		return 0, err
	}
	keyValues, err := r.keyValues(ctx, spec, entity)
	if err != nil {
		return 0, err
	}
	query, args := spec.DeleteStatement(r.dialect(), keyValues)
	res, err := r.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(query, res)
}

func rowsAffected(query string, res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, database.NewQueryError(query, err)
	}
	return n, nil
}

func (r *Repository[T]) keyValues(ctx context.Context, spec QuerySpec, entity *T) ([]ColumnValue, error) {
	if entity == nil {
		return nil, &database.ConfigurationError{Reason: "entity is nil"}
	}
	keys, err := r.primaryKeys(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, &database.ConfigurationError{Reason: fmt.Sprintf("table %s has no primary key, set one with Keys", spec.table)}
	}
	values := make([]ColumnValue, len(keys))
	for i, k := range keys {
		v, ok := r.codec.Value(entity, k)
		if !ok {
			return nil, &database.ConfigurationError{Reason: fmt.Sprintf("entity has no value for key column %s", k)}
		}
		values[i] = ColumnValue{Column: k, Value: v}
	}
	return values, nil
}

// primaryKeys resolves the key columns: the explicit list first, then the
// codec's pk tags, then the keys the table declares.
func (r *Repository[T]) primaryKeys(ctx context.Context, spec QuerySpec) ([]string, error) {
	if len(spec.keys) > 0 {
		return spec.keys, nil
	}
	if pks := r.codec.PrimaryKeys(); len(pks) > 0 {
		return pks, nil
	}
	if r.discoveredFor == spec.table && r.discovered != nil {
		return r.discovered, nil
	}
	h, err := r.conn.Handle(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	keys, err := database.PrimaryKeys(ctx, h, r.dialect(), spec.table)
	r.conn.AccessLog().Access("primary keys of "+spec.table, time.Since(start))
	if err != nil {
		return nil, database.NewQueryError("primary keys of "+spec.table, err)
	}
	if keys == nil {
		keys = []string{}
	}
	r.discovered, r.discoveredFor = keys, spec.table
	return keys, nil
}

// Query runs raw SQL with "?" placeholders bound to args by the driver and
// returns the rows. The caller closes them.
func (r *Repository[T]) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	exec, err := r.conn.Raw(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := exec.QueryContext(ctx, database.Rebind(r.dialect(), query), args...)
	r.conn.Observe(query, time.Since(start))
	if err != nil {
		return nil, database.NewQueryError(query, err)
	}
	return rows, nil
}

// Exec runs a raw statement with "?" placeholders bound to args by the
// driver.
func (r *Repository[T]) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	exec, err := r.conn.Raw(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := exec.ExecContext(ctx, database.Rebind(r.dialect(), query), args...)
	r.conn.Observe(query, time.Since(start))
	if err != nil {
		return nil, database.NewQueryError(query, err)
	}
	return res, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type errRow struct{ err error }

func (e errRow) Scan(...interface{}) error { return e.err }

func (r *Repository[T]) queryRow(ctx context.Context, query string, args ...interface{}) rowScanner {
	exec, err := r.conn.Raw(ctx)
	if err != nil {
		return errRow{err}
	}
	start := time.Now()
	row := exec.QueryRowContext(ctx, database.Rebind(r.dialect(), query), args...)
	r.conn.Observe(query, time.Since(start))
	return row
}

// BeginTransaction starts a transaction on the repository's connection.
// Transactions do not nest.
func (r *Repository[T]) BeginTransaction(ctx context.Context) error {
	return r.conn.Begin(ctx)
}

func (r *Repository[T]) Commit() error { return r.conn.Commit() }

func (r *Repository[T]) Rollback() error { return r.conn.Rollback() }

func (r *Repository[T]) InTransaction() bool { return r.conn.InTransaction() }

// RunInTransaction runs fn between BeginTransaction and Commit, rolling back
// when fn fails or panics.
func (r *Repository[T]) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := r.BeginTransaction(ctx); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = r.Rollback()
			panic(p)
		}
	}()
	if err := fn(ctx); err != nil {
		if rbErr := r.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return r.Commit()
}

// Close disconnects the repository's connection.
func (r *Repository[T]) Close() error {
	return r.conn.Disconnect()
}
