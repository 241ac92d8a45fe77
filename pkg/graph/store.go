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

// Package graph is the knowledge graph behind keyword retrieval and the
// structured indicator lookups. Entities and relations live in two SQL
// tables so the same schema runs on SQLite, PostgreSQL and MySQL.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well known entity types.
const (
	TypeCompany   = "Company"
	TypeIndicator = "Indicator"
	TypeDocument  = "Document"
)

// Entity is a node. Name and Description are lifted out of Properties on write.
type Entity struct {
	ID          string
	Type        string
	Name        string
	Description string
	Properties  map[string]any
}

// Content is the text retrieval shows for this entity.
func (e Entity) Content() string {
	if e.Description != "" {
		return e.Description
	}
	keys := make([]string, 0, len(e.Properties))
	for k := range e.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Properties[k]))
	}
	return strings.Join(parts, ", ")
}

// Relation is a typed, directed edge.
type Relation struct {
	From       string
	To         string
	Type       string
	Properties map[string]any
}

// Store is the knowledge graph.
type Store interface {
	AddEntity(ctx context.Context, entityType, id string, properties map[string]any) error
	AddRelation(ctx context.Context, from, to, relType string, properties map[string]any) error
	Search(ctx context.Context, query string, topK int, filters map[string]any) ([]Entity, error)
	Neighbors(ctx context.Context, id, relType string) ([]Entity, error)
	Entities(ctx context.Context, entityType string, filters map[string]any) ([]Entity, error)
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates the tables when missing. dialect is sqlite, postgres or mysql.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	text := "TEXT"
	if s.dialect == "mysql" {
		text = "LONGTEXT"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graph_entities (
			id VARCHAR(255) PRIMARY KEY,
			type VARCHAR(64) NOT NULL,
			name VARCHAR(512) NOT NULL DEFAULT '',
			description ` + text + `,
			properties ` + text + `,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS graph_relations (
			from_id VARCHAR(255) NOT NULL,
			to_id VARCHAR(255) NOT NULL,
			type VARCHAR(64) NOT NULL,
			properties ` + text + `,
			PRIMARY KEY (from_id, to_id, type)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate graph schema: %w", err)
		}
	}
	// MySQL has no CREATE INDEX IF NOT EXISTS; a duplicate index error is harmless.
	if _, err := s.db.ExecContext(ctx, s.createIndex("idx_graph_entities_type", "graph_entities", "type")); err != nil && s.dialect != "mysql" {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (s *SQLStore) createIndex(name, table, column string) string {
	if s.dialect == "mysql" {
		return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, table, column)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, column)
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) upsert(table string, keys []string, cols []string) string {
	all := append(append([]string{}, keys...), cols...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(all, ", "), placeholders)

	sets := make([]string, 0, len(cols))
	if s.dialect == "mysql" {
		for _, c := range cols {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
		return q + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return q + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET ", strings.Join(keys, ", ")) + strings.Join(sets, ", ")
}

// AddEntity upserts a node. Properties merge over the stored ones.
func (s *SQLStore) AddEntity(ctx context.Context, entityType, id string, properties map[string]any) error {
	if id == "" {
		return errors.New("entity id is required")
	}

	merged := map[string]any{}
	if existing, err := s.entity(ctx, id); err == nil {
		for k, v := range existing.Properties {
			merged[k] = v
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	for k, v := range properties {
		merged[k] = v
	}

	name, _ := merged["name"].(string)
	desc, _ := merged["description"].(string)
	props, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}

	q := s.rebind(s.upsert("graph_entities", []string{"id"}, []string{"type", "name", "description", "properties", "updated_at"}))
	if _, err := s.db.ExecContext(ctx, q, id, entityType, name, desc, string(props), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to add entity %s: %w", id, err)
	}
	return nil
}

// AddRelation upserts an edge keyed by (from, to, type).
func (s *SQLStore) AddRelation(ctx context.Context, from, to, relType string, properties map[string]any) error {
	if properties == nil {
		properties = map[string]any{}
	}
	props, err := json.Marshal(properties)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}

	q := s.rebind(s.upsert("graph_relations", []string{"from_id", "to_id", "type"}, []string{"properties"}))
	if _, err := s.db.ExecContext(ctx, q, from, to, relType, string(props)); err != nil {
		return fmt.Errorf("failed to add relation %s-[%s]->%s: %w", from, relType, to, err)
	}
	return nil
}

func (s *SQLStore) entity(ctx context.Context, id string) (Entity, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, type, name, description, properties FROM graph_entities WHERE id = ?`), id)
	return scanEntity(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (Entity, error) {
	var (
		e           Entity
		desc, props sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Type, &e.Name, &desc, &props); err != nil {
		return Entity{}, err
	}
	e.Description = desc.String
	e.Properties = map[string]any{}
	if props.String != "" {
		if err := json.Unmarshal([]byte(props.String), &e.Properties); err != nil {
			return Entity{}, fmt.Errorf("failed to decode properties of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// searchScan bounds how many candidate rows are filtered in process.
const searchScan = 200

// Search matches entities whose name or description contains the query, or
// whose name occurs inside the query. Results are filtered on properties
// and capped at topK.
func (s *SQLStore) Search(ctx context.Context, query string, topK int, filters map[string]any) ([]Entity, error) {
	query = strings.TrimSpace(query)
	if query == "" || topK <= 0 {
		return nil, nil
	}

	pattern := "%" + escapeLike(query) + "%"
	nameInQuery := "? LIKE '%' || name || '%'"
	switch s.dialect {
	case "mysql":
		nameInQuery = "? LIKE CONCAT('%', name, '%')"
	case "postgres":
		nameInQuery = "CAST(? AS TEXT) LIKE '%' || name || '%'"
	}

	q := `SELECT id, type, name, description, properties FROM graph_entities
		WHERE name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\' OR (name <> '' AND ` + nameInQuery + `)
		ORDER BY updated_at DESC LIMIT ` + fmt.Sprint(searchScan)
	if s.dialect == "mysql" {
		q = strings.ReplaceAll(q, `ESCAPE '\'`, `ESCAPE '\\'`)
	}

	candidates, err := s.query(ctx, q, pattern, pattern, query)
	if err != nil {
		return nil, fmt.Errorf("graph search failed: %w", err)
	}

	out := make([]Entity, 0, min(topK, len(candidates)))
	for _, e := range candidates {
		if !e.matches(filters) {
			continue
		}
		out = append(out, e)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// Neighbors returns the targets of outgoing edges of relType (any type when empty).
func (s *SQLStore) Neighbors(ctx context.Context, id, relType string) ([]Entity, error) {
	q := `SELECT e.id, e.type, e.name, e.description, e.properties
		FROM graph_relations r JOIN graph_entities e ON e.id = r.to_id
		WHERE r.from_id = ?`
	args := []any{id}
	if relType != "" {
		q += " AND r.type = ?"
		args = append(args, relType)
	}
	q += " ORDER BY e.id"

	out, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load neighbors of %s: %w", id, err)
	}
	return out, nil
}

// Entities returns every entity of entityType whose properties match filters.
func (s *SQLStore) Entities(ctx context.Context, entityType string, filters map[string]any) ([]Entity, error) {
	all, err := s.query(ctx, `SELECT id, type, name, description, properties FROM graph_entities WHERE type = ? ORDER BY id`, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s entities: %w", entityType, err)
	}

	out := all[:0]
	for _, e := range all {
		if e.matches(filters) {
			out = append(out, e)
		}
	}
	return out, nil
}

// matches compares filters against properties by their string form, so
// 2023 and "2023" are equal. The "type" key matches the entity type.
func (e Entity) matches(filters map[string]any) bool {
	for k, want := range filters {
		if want == nil {
			continue
		}
		var got any
		if k == "type" {
			got = e.Type
		} else {
			v, ok := e.Properties[k]
			if !ok {
				return false
			}
			got = v
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
