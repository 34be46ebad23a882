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
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

var (
	sharedPoolsMu sync.Mutex
	sharedPools   = map[string]*bun.DB{}
)

// SharedPool returns the process wide pool for cfg, opening it on first use.
// Managers created with WithSharedPool draw their connections from it, so
// many repositories of one request share a single *sql.DB.
func SharedPool(cfg *ConnectionConfig, logger Logger) (*bun.DB, error) {
	key := poolKey(cfg)
	sharedPoolsMu.Lock()
	defer sharedPoolsMu.Unlock()
	if db, ok := sharedPools[key]; ok {
		return db, nil
	}
	db, err := OpenDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	sharedPools[key] = db
	return db, nil
}

// CloseSharedPools closes every pool opened through SharedPool.
func CloseSharedPools() error {
	sharedPoolsMu.Lock()
	defer sharedPoolsMu.Unlock()
	var errs []error
	for key, db := range sharedPools {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(sharedPools, key)
	}
	return errors.Join(errs...)
}

func poolKey(cfg *ConnectionConfig) string {
	return cfg.Target() + "|" + cfg.Password
}

// OpenDB opens a bun pool for cfg with the dialect, query hooks and pool
// limits it asks for. It does not ping.
func OpenDB(cfg *ConnectionConfig, logger Logger) (*bun.DB, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	var (
		sqlDB *sql.DB
		db    *bun.DB
		err   error
	)
	switch cfg.Type {
	case TypeMySQL:
		sqlDB, err = openMySQL(cfg)
		if err == nil {
			db = bun.NewDB(sqlDB, mysqldialect.New())
		}
	case TypePostgres, "postgresql":
		sqlDB, err = sql.Open("postgres", postgresDSN(cfg))
		if err == nil {
			db = bun.NewDB(sqlDB, pgdialect.New())
		}
	case TypeSQLite, "sqlite3":
		sqlDB, err = sql.Open(sqliteshim.ShimName, sqliteDSN(cfg))
		if err == nil {
			db = bun.NewDB(sqlDB, sqlitedialect.New())
		}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	configureConnectionPool(sqlDB, cfg)

	if cfg.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if cfg.SlowQueryTime > 0 {
		db.AddQueryHook(&slowQueryHook{
			slowTime: cfg.SlowQueryTime,
			logger:   logger,
		})
	}
	return db, nil
}

func openMySQL(cfg *ConnectionConfig) (*sql.DB, error) {
	port := cfg.Port
	if port == 0 {
		port = cfg.defaultPort()
	}
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.DBName = cfg.DBName
	mc.Timeout = cfg.ConnectTimeout
	mc.ReadTimeout = cfg.ReadTimeout
	mc.WriteTimeout = cfg.WriteTimeout
	mc.Params = map[string]string{"charset": cfg.charset()}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

func postgresDSN(cfg *ConnectionConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = cfg.defaultPort()
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func sqliteDSN(cfg *ConnectionConfig) string {
	name := cfg.DBName
	if name == ":memory:" || strings.HasPrefix(name, "file:") || strings.Contains(name, ".") {
		return name
	}
	return name + ".db"
}

func configureConnectionPool(sqlDB *sql.DB, cfg *ConnectionConfig) {
	if sqlDB == nil {
		return
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}

// DialectName maps the configured type onto bun's dialect name.
func (c *ConnectionConfig) DialectName() dialect.Name {
	switch c.Type {
	case TypeMySQL:
		return dialect.MySQL
	case TypePostgres, "postgresql":
		return dialect.PG
	case TypeSQLite, "sqlite3":
		return dialect.SQLite
	default:
		return dialect.Invalid
	}
}
