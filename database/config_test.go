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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
connection:
  type: postgres
  host: pg.internal
  port: 5433
  username: app
  password: secret
  dbname: reports
  max_open_conns: 20
  slow_query_time: 500ms
backup:
  dir: /var/backups/tables
log:
  level: debug
  format: json
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, TypePostgres, cfg.Connection.Type)
	assert.Equal(t, "pg.internal", cfg.Connection.Host)
	assert.Equal(t, 5433, cfg.Connection.Port)
	assert.Equal(t, "reports", cfg.Connection.DBName)
	assert.Equal(t, 20, cfg.Connection.MaxOpenConns)
	assert.Equal(t, 10, cfg.Connection.MaxIdleConns, "unset values keep defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.Connection.SlowQueryTime)
	assert.Equal(t, "/var/backups/tables", cfg.Backup.Dir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestParseConfigDefaultsBackupDir(t *testing.T) {
	cfg, err := ParseConfig([]byte("connection:\n  type: sqlite\n  dbname: app.db\nbackup:\n  dir: \"\"\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBackupDir, cfg.Backup.Dir)
}

func TestParseConfigEnvOverride(t *testing.T) {
	t.Setenv("DB_HOST", "override.local")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_PASSWORD", "from-env")
	t.Setenv("DB_CONNECT_TIMEOUT", "3")
	t.Setenv("DB_ENABLE_QUERY_LOG", "true")
	t.Setenv("DB_SLOW_QUERY_TIME", "1s")

	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "override.local", cfg.Connection.Host)
	assert.Equal(t, 6543, cfg.Connection.Port)
	assert.Equal(t, "from-env", cfg.Connection.Password)
	assert.Equal(t, 3*time.Second, cfg.Connection.ConnectTimeout)
	assert.True(t, cfg.Connection.EnableQueryLog)
	assert.Equal(t, time.Second, cfg.Connection.SlowQueryTime)
}

func TestParseConfigValidation(t *testing.T) {
	_, err := ParseConfig([]byte("connection:\n  type: oracle\n"))
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "Config.Connection.Type failed on oneof")

	_, err = ParseConfig([]byte("connection:\n  type: sqlite\n"))
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "DBName")

	_, err = ParseConfig([]byte("connection: [\n"))
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "app", cfg.Connection.Username)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
