// Package sqlite persists an authority's persistent-resource entities in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/plus3/remoteworld/ecs"
)

//go:embed schema.sql
var schema string

// Store keeps one row per (entity, component).
type Store struct {
	sqlDB *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// LoadEntities returns every stored entity.
func (s *Store) LoadEntities(ctx context.Context) (map[ecs.EntityId]map[string][]byte, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT entity, component, value FROM persistent_components ORDER BY entity, component`)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()

	out := make(map[ecs.EntityId]map[string][]byte)
	for rows.Next() {
		var (
			entity    int64
			component string
			value     []byte
		)
		if err := rows.Scan(&entity, &component, &value); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		id := ecs.EntityId(entity)
		if out[id] == nil {
			out[id] = make(map[string][]byte)
		}
		out[id][component] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	return out, nil
}

// SaveEntity replaces every stored component of an entity.
func (s *Store) SaveEntity(ctx context.Context, id ecs.EntityId, components map[string][]byte) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM persistent_components WHERE entity = ?`, int64(id)); err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	for name, value := range components {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO persistent_components (entity, component, value) VALUES (?, ?, ?)`,
			int64(id), name, value,
		); err != nil {
			return fmt.Errorf("save %s/%s: %w", id, name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// DeleteEntity removes every stored component of an entity.
func (s *Store) DeleteEntity(ctx context.Context, id ecs.EntityId) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM persistent_components WHERE entity = ?`, int64(id)); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}
