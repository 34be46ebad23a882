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

// Package tablerepo wires a connection manager and a table repository from a
// connection string or a config file.
package tablerepo

import (
	"github.com/tomoncle/tablerepo/database"
	"github.com/tomoncle/tablerepo/repository"
	"github.com/tomoncle/tablerepo/utils"
)

// Options tune the connection manager behind a repository built by Open,
// OpenConfig or OpenFile.
type Options struct {
	Manager    []database.ManagerOption
	Repository []repository.Option
}

// Open parses connString ("<dsn>,<user>,<password>[,<database>]") and
// returns a repository of T on a fresh, not yet connected manager.
func Open[T any](connString string, opts ...repository.Option) (*repository.Repository[T], error) {
	cfg, err := database.ParseConnectionString(connString)
	if err != nil {
		return nil, err
	}
	return repository.New[T](database.NewConnectionManager(cfg), opts...)
}

// OpenConfig returns a repository of T for cfg. The config's log settings
// are applied to the package loggers and its backup directory becomes the
// repository default.
func OpenConfig[T any](cfg *database.Config, options Options) (*repository.Repository[T], error) {
	if cfg == nil {
		return nil, &database.ConfigurationError{Reason: "database configuration cannot be empty"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ConfigureLogging(cfg.Log)

	repoOpts := make([]repository.Option, 0, len(options.Repository)+1)
	if cfg.Backup.Dir != "" {
		repoOpts = append(repoOpts, repository.WithBackupDir(cfg.Backup.Dir))
	}
	repoOpts = append(repoOpts, options.Repository...)

	conn := database.NewConnectionManager(&cfg.Connection, options.Manager...)
	return repository.New[T](conn, repoOpts...)
}

// OpenFile loads a YAML config file and calls OpenConfig.
func OpenFile[T any](path string, options Options) (*repository.Repository[T], error) {
	cfg, err := database.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return OpenConfig[T](cfg, options)
}

// ConfigureLogging applies level and format settings to the loggers.
func ConfigureLogging(cfg database.LogConfig) {
	if cfg.Format != "" {
		utils.ConfigureLogFormat(cfg.Format)
	}
	if cfg.Level != "" {
		utils.ConfigureLogLevel(cfg.Level)
	}
}
