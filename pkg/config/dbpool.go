// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBPool shares *sql.DB handles between the graph store and the
// conversation store. SQLite gets a single connection so concurrent writers
// never see "database is locked".
type DBPool struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

func NewDBPool() *DBPool {
	return &DBPool{pools: make(map[string]*sql.DB)}
}

// Get returns the pool for cfg, opening it on first use.
func (p *DBPool) Get(ctx context.Context, cfg *DatabaseConfig) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.DriverName() + ":" + cfg.DSN()
	if db, ok := p.pools[key]; ok {
		return db, nil
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.pools[key] = db
	return db, nil
}

func openDB(ctx context.Context, cfg *DatabaseConfig) (*sql.DB, error) {
	driverName := cfg.DriverName()
	dsn := cfg.DSN()

	if driverName == "sqlite3" && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.MaxIdle)
		}
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driverName == "sqlite3" {
		if _, err := db.ExecContext(pingCtx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("Failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(pingCtx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("Failed to set busy timeout", "error", err)
		}
	}

	slog.Debug("Opened database", "driver", driverName)
	return db, nil
}

// Close closes every pool.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, db := range p.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.pools = make(map[string]*sql.DB)
	return errors.Join(errs...)
}
