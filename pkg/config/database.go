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

import "fmt"

// DatabaseConfig holds the SQL connection used by the knowledge graph and
// the conversation store. Supports PostgreSQL, MySQL and SQLite.
type DatabaseConfig struct {
	// Driver is "sqlite" (default), "sqlite3", "postgres" or "mysql".
	Driver string `yaml:"driver,omitempty"`

	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// Database is the database name, or the file path for SQLite.
	Database string `yaml:"database,omitempty"`

	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`

	MaxConns int `yaml:"max_conns,omitempty"`
	MaxIdle  int `yaml:"max_idle,omitempty"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Database == "" && c.isSQLite() {
		c.Database = ".finrag/finrag.db"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}
	if c.Driver == "postgres" && c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "postgres", "mysql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("invalid driver %q (valid: postgres, mysql, sqlite)", c.Driver)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if !c.isSQLite() && c.Host == "" {
		return fmt.Errorf("host is required for %s", c.Driver)
	}
	if c.MaxConns < 0 || c.MaxIdle < 0 {
		return fmt.Errorf("max_conns and max_idle must be non-negative")
	}
	return nil
}

func (c *DatabaseConfig) isSQLite() bool {
	return c.Driver == "sqlite" || c.Driver == "sqlite3"
}

// DSN returns the connection string for sql.Open.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s", c.Host, c.Port, c.Database)
		if c.Username != "" {
			dsn += fmt.Sprintf(" user=%s", c.Username)
		}
		if c.Password != "" {
			dsn += fmt.Sprintf(" password=%s", c.Password)
		}
		if c.SSLMode != "" {
			dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
		}
		return dsn
	case "mysql":
		// parseTime lets DATETIME columns scan into time.Time.
		if c.Username != "" {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
				c.Username, c.Password, c.Host, c.Port, c.Database)
		}
		return fmt.Sprintf("tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4", c.Host, c.Port, c.Database)
	case "sqlite", "sqlite3":
		return c.Database
	default:
		return ""
	}
}

// DriverName returns the name registered with database/sql.
func (c *DatabaseConfig) DriverName() string {
	if c.Driver == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect returns the SQL dialect used for query building: sqlite, postgres or mysql.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return "sqlite"
	}
	return c.Driver
}
