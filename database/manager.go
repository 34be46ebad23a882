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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// ConnectionState is the lifecycle of the connection held by a manager.
type ConnectionState int

const (
	StateUnconnected ConnectionState = iota
	StateConnected
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unconnected"
	}
}

// ManagerOption customizes a ConnectionManager.
type ManagerOption func(*ConnectionManager)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(logger Logger) ManagerOption {
	return func(m *ConnectionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAccessLogger sets the sink connects and queries are reported to.
func WithAccessLogger(access AccessLogger) ManagerOption {
	return func(m *ConnectionManager) {
		if access != nil {
			m.access = access
		}
	}
}

// WithPool makes the manager check its connection out of db instead of
// opening a pool of its own. The pool is left open on Disconnect.
func WithPool(db *bun.DB) ManagerOption {
	return func(m *ConnectionManager) {
		m.db = db
		m.ownsDB = false
	}
}

// WithSharedPool draws the connection from the process wide pool for the
// manager's configuration, see SharedPool.
func WithSharedPool() ManagerOption {
	return func(m *ConnectionManager) {
		m.shared = true
	}
}

// ConnectionManager owns exactly one lazily established connection and the
// transaction that may be open on it. Operations connect on first use.
//
// A ConnectionManager is not safe for concurrent use; give each request or
// goroutine its own and share a pool between them with WithPool or
// WithSharedPool.
type ConnectionManager struct {
	id     string
	config *ConnectionConfig
	db     *bun.DB
	ownsDB bool
	shared bool
	conn   *bun.Conn
	tx     *bun.Tx
	state  ConnectionState
	logger Logger
	access AccessLogger
	slow   *slowQueryHook

	lastError error
}

// NewConnectionManager returns an unconnected manager for cfg. cfg is copied
// and never changes afterwards.
func NewConnectionManager(cfg *ConnectionConfig, opts ...ManagerOption) *ConnectionManager {
	if cfg == nil {
		cfg = DefaultConnectionConfig()
	}
	c := *cfg
	m := &ConnectionManager{
		id:     uuid.NewString(),
		config: &c,
		ownsDB: true,
		state:  StateUnconnected,
		logger: GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.access == nil {
		m.access = NewAccessLogger(m.logger)
	}
	if c.SlowQueryTime > 0 {
		m.slow = &slowQueryHook{slowTime: c.SlowQueryTime, logger: m.logger}
	}
	return m
}

// Connect establishes the connection. It is a no-op while one is live.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	if m.state == StateConnected && m.conn != nil {
		return nil
	}
	start := time.Now()

	if m.db == nil {
		db, err := m.openPool()
		if err != nil {
			return m.fail("connect", err)
		}
		m.db = db
	}

	timeout := m.config.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.db.PingContext(ctxTimeout); err != nil {
		m.dropOwnedPool()
		return m.fail("connect", err)
	}
	conn, err := m.db.Conn(ctxTimeout)
	if err != nil {
		m.dropOwnedPool()
		return m.fail("connect", err)
	}
	if err := m.forceCharset(ctxTimeout, &conn); err != nil {
		_ = conn.Close()
		m.dropOwnedPool()
		return m.fail("connect", err)
	}

	m.conn = &conn
	m.state = StateConnected
	m.lastError = nil
	m.access.Access("connect "+m.config.Target(), time.Since(start))
	m.logger.Info("Database connected successfully:", "type", m.config.Type, "target", m.config.Target(), "conn_id", m.id)
	return nil
}

func (m *ConnectionManager) openPool() (*bun.DB, error) {
	if m.shared {
		m.ownsDB = false
		return SharedPool(m.config, m.logger)
	}
	m.ownsDB = true
	return OpenDB(m.config, m.logger)
}

func (m *ConnectionManager) dropOwnedPool() {
	if m.db != nil && m.ownsDB {
		_ = m.db.Close()
		m.db = nil
	}
}

func (m *ConnectionManager) forceCharset(ctx context.Context, conn *bun.Conn) error {
	var stmt string
	switch m.config.DialectName() {
	case dialect.MySQL:
		stmt = fmt.Sprintf("SET NAMES %s", m.config.charset())
	case dialect.PG:
		stmt = "SET client_encoding TO 'UTF8'"
	case dialect.SQLite:
		stmt = "PRAGMA encoding = 'UTF-8'"
	default:
		return nil
	}
	_, err := conn.ExecContext(ctx, stmt)
	return err
}

func (m *ConnectionManager) fail(op string, err error) error {
	m.lastError = err
	return &ConnectionError{Target: m.config.Target(), Op: op, Err: err}
}

// Disconnect rolls back an open transaction and releases the connection. The
// pool is closed too when the manager opened it itself.
func (m *ConnectionManager) Disconnect() error {
	if m.conn == nil {
		return nil
	}
	start := time.Now()

	var errs []error
	if m.tx != nil {
		m.logger.Warn("Disconnecting with an open transaction, rolling back", "conn_id", m.id)
		if err := m.tx.Rollback(); err != nil {
			errs = append(errs, err)
		}
		m.tx = nil
	}
	if err := m.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	m.conn = nil
	if m.ownsDB && m.db != nil {
		if err := m.db.Close(); err != nil {
			errs = append(errs, err)
		}
		m.db = nil
	}
	m.state = StateClosed
	m.access.Access("disconnect "+m.config.Target(), time.Since(start))

	if err := errors.Join(errs...); err != nil {
		m.logger.Error("Failed to close database connection", "error", err, "conn_id", m.id)
		return m.fail("disconnect", err)
	}
	m.logger.Info("Database connection closed", "conn_id", m.id)
	return nil
}

// Handle connects if needed and returns the connection, or the open
// transaction when there is one.
func (m *ConnectionManager) Handle(ctx context.Context) (bun.IConn, error) {
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	if m.tx != nil {
		return m.tx, nil
	}
	return m.conn, nil
}

// Raw connects if needed and returns the driver level connection, or the
// open transaction when there is one. Statements run on it skip bun's query
// formatting, so their "?" placeholders must go through Rebind first.
func (m *ConnectionManager) Raw(ctx context.Context) (Executor, error) {
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	if m.tx != nil {
		return m.tx.Tx, nil
	}
	return m.conn.Conn, nil
}

// Observe records a statement run through Raw in the access log. Statements
// slower than the configured slow query time are also warned about.
func (m *ConnectionManager) Observe(query string, elapsed time.Duration) {
	m.access.Access(query, elapsed)
	if m.config.EnableQueryLog {
		m.logger.Debug("Query executed", "query", query, "duration", elapsed, "conn_id", m.id)
	}
	if m.slow != nil {
		m.slow.observe(statementOperation(query), query, elapsed)
	}
}

// Begin starts a transaction on the managed connection. Transactions do not
// nest: calling Begin while one is open fails with a ConfigurationError.
func (m *ConnectionManager) Begin(ctx context.Context) error {
	if m.tx != nil {
		return &ConfigurationError{Reason: "transaction already active, nested transactions are not supported"}
	}
	if err := m.Connect(ctx); err != nil {
		return err
	}
	start := time.Now()
	tx, err := m.conn.BeginTx(ctx, nil)
	m.access.Access("START TRANSACTION", time.Since(start))
	if err != nil {
		return NewQueryError("START TRANSACTION", err)
	}
	m.tx = &tx
	return nil
}

// Commit commits the open transaction.
func (m *ConnectionManager) Commit() error {
	return m.finish("COMMIT", func(tx *bun.Tx) error { return tx.Commit() })
}

// Rollback aborts the open transaction.
func (m *ConnectionManager) Rollback() error {
	return m.finish("ROLLBACK", func(tx *bun.Tx) error { return tx.Rollback() })
}

func (m *ConnectionManager) finish(keyword string, end func(*bun.Tx) error) error {
	if m.tx == nil {
		return &ConfigurationError{Reason: keyword + " without an active transaction"}
	}
	start := time.Now()
	err := end(m.tx)
	m.tx = nil
	m.access.Access(keyword, time.Since(start))
	if err != nil {
		return NewQueryError(keyword, err)
	}
	return nil
}

// InTransaction reports whether a transaction is open.
func (m *ConnectionManager) InTransaction() bool { return m.tx != nil }

func (m *ConnectionManager) State() ConnectionState { return m.state }

func (m *ConnectionManager) ID() string { return m.id }

// Config returns a copy of the connection configuration.
func (m *ConnectionManager) Config() ConnectionConfig { return *m.config }

func (m *ConnectionManager) Dialect() dialect.Name { return m.config.DialectName() }

// DB returns the pool behind the connection, nil before the first connect.
func (m *ConnectionManager) DB() *bun.DB { return m.db }

func (m *ConnectionManager) AccessLog() AccessLogger { return m.access }

func (m *ConnectionManager) Logger() Logger { return m.logger }

func (m *ConnectionManager) Ping(ctx context.Context) error {
	if m.conn == nil {
		return fmt.Errorf("database not connected")
	}
	return m.conn.PingContext(ctx)
}

// HealthCheck pings the managed connection and reports pool usage.
func (m *ConnectionManager) HealthCheck(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		LastCheckTime: start,
		Connected:     m.state == StateConnected,
		State:         m.state.String(),
	}
	if m.conn == nil {
		status.LastError = "Database not connected"
		if m.lastError != nil {
			status.LastError = m.lastError.Error()
		}
		return status
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := m.conn.PingContext(ctxTimeout)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
		m.lastError = err
	} else {
		status.Healthy = true
	}

	if m.db != nil {
		stats := m.db.Stats()
		status.ActiveConns = stats.InUse
		status.IdleConns = stats.Idle
		status.MaxOpenConns = stats.MaxOpenConnections
	}
	return status
}

// Stats returns statistics of the pool behind the connection.
func (m *ConnectionManager) Stats() *DBStats {
	if m.db == nil {
		return &DBStats{}
	}
	stats := m.db.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}
