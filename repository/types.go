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

	"github.com/tomoncle/tablerepo/types"
)

// CrudRepository defines the identity based CRUD operations of one table.
type CrudRepository[T any] interface {
	Add(ctx context.Context, entity *T) (*T, error)

	Find(ctx context.Context, opts *types.FilterOptions) ([]*T, error)

	FindOne(ctx context.Context, opts *types.FilterOptions) (*T, error)

	Count(ctx context.Context, opts *types.FilterOptions) (int64, error)

	Modify(ctx context.Context, entity *T, opts *types.FilterOptions, filterByPK bool) (int64, error)

	Remove(ctx context.Context, entity *T) (int64, error)
}

// TransactionRepository brackets calls in a transaction on the repository's
// own connection.
type TransactionRepository interface {
	BeginTransaction(ctx context.Context) error
	Commit() error
	Rollback() error
	InTransaction() bool
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// BackupRepository dumps a table to a SQL script and replays such scripts.
type BackupRepository interface {
	Backup(ctx context.Context, fileName string) (string, error)
	Restore(ctx context.Context, path string) error
}

// TableRepository combines CRUD, pagination, transactions, backup and the raw
// SQL escape hatches.
type TableRepository[T any] interface {
	CrudRepository[T]
	PageQueryRepository[T]
	TransactionRepository
	BackupRepository
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	FindBySQL(ctx context.Context, query string, args ...interface{}) ([]*T, error)
}

var _ TableRepository[Row] = (*Repository[Row])(nil)
