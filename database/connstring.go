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
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseConnectionString parses "<dsn>,<user>,<password>[,<database>]".
//
// The dsn is either a PDO style source name ("mysql:host=h;port=p;dbname=d",
// "pgsql:host=h;dbname=d", "sqlite:/path/app.db") or a bare legacy driver
// target ("host" or "host:port"), which always means MySQL. Fields are split
// on commas with no escaping, so none of them may contain one.
func ParseConnectionString(s string) (*ConnectionConfig, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("connection string must have 3 or 4 comma separated fields, got %d", len(parts))}
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	cfg := DefaultConnectionConfig()
	cfg.Username = parts[1]
	cfg.Password = parts[2]
	if err := parseDSN(cfg, parts[0]); err != nil {
		return nil, err
	}
	if len(parts) == 4 && parts[3] != "" {
		cfg.DBName = parts[3]
	}
	return cfg, nil
}

func parseDSN(cfg *ConnectionConfig, dsn string) error {
	if dsn == "" {
		return &ConfigurationError{Reason: "connection string has an empty driver target"}
	}
	prefix, rest, found := strings.Cut(dsn, ":")
	switch strings.ToLower(prefix) {
	case "mysql":
		cfg.Type = TypeMySQL
	case "pgsql", "postgres", "postgresql":
		cfg.Type = TypePostgres
	case "sqlite", "sqlite3":
		cfg.Type = TypeSQLite
		cfg.Host = ""
		cfg.Port = 0
		cfg.Charset = ""
		cfg.DBName = rest
		if cfg.DBName == "" {
			return &ConfigurationError{Reason: "sqlite source name needs a database path"}
		}
		return nil
	default:
		// legacy driver target: host or host:port
		cfg.Type = TypeMySQL
		return parseHostPort(cfg, dsn)
	}
	if !found {
		return &ConfigurationError{Reason: fmt.Sprintf("malformed source name %q", dsn)}
	}

	cfg.Port = cfg.defaultPort()
	for _, pair := range strings.Split(rest, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return &ConfigurationError{Reason: fmt.Sprintf("malformed source name attribute %q", pair)}
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "host":
			cfg.Host = strings.TrimSpace(value)
		case "port":
			port, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return &ConfigurationError{Reason: fmt.Sprintf("invalid port %q", value)}
			}
			cfg.Port = port
		case "dbname":
			cfg.DBName = strings.TrimSpace(value)
		case "charset":
			cfg.Charset = strings.TrimSpace(value)
		case "sslmode":
			cfg.SSLMode = strings.TrimSpace(value)
		}
	}
	if cfg.Type == TypePostgres && cfg.Charset == "utf8mb4" {
		cfg.Charset = ""
	}
	return nil
}

func parseHostPort(cfg *ConnectionConfig, target string) error {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		cfg.Host = target
		cfg.Port = cfg.defaultPort()
		return nil
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("invalid port %q", port)}
	}
	cfg.Host = host
	cfg.Port = p
	return nil
}

// Target renders the connection target without the password, suitable for
// logs and error messages.
func (c *ConnectionConfig) Target() string {
	if c.Type == TypeSQLite {
		return "sqlite://" + c.DBName
	}
	user := ""
	if c.Username != "" {
		user = c.Username + "@"
	}
	hostPort := c.Host
	if c.Port > 0 {
		hostPort = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	return fmt.Sprintf("%s://%s%s/%s", c.Type, user, hostPort, c.DBName)
}
