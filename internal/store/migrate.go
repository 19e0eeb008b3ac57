package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate brings the schema up to date. Databases written before the name
// column was dropped are rebuilt first, then the versioned migrations run;
// they use CREATE TABLE IF NOT EXISTS so an already-shaped database adopts
// version 1 without changes.
func (s *Store) migrate(ctx context.Context) error {
	if err := s.rebuildLegacySchema(ctx); err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(s.db.DB, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("prepare migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// tasksDDL mirrors migrations/000001_create_tasks.up.sql; the rebuild needs
// the same shape for its replacement table.
const tasksDDL = `(
	id TEXT PRIMARY KEY,
	trigger_type TEXT NOT NULL,
	trigger_config TEXT NOT NULL,
	mcp_server TEXT,
	mcp_tool TEXT,
	mcp_arguments TEXT,
	agent_prompt TEXT,
	enabled INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL DEFAULT 'scheduled',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	last_run TEXT,
	last_status TEXT,
	last_message TEXT,
	next_run TEXT
)`

var currentTaskColumns = map[string]bool{
	"id": true, "trigger_type": true, "trigger_config": true,
	"mcp_server": true, "mcp_tool": true, "mcp_arguments": true,
	"agent_prompt": true, "enabled": true, "status": true,
	"created_at": true, "updated_at": true,
	"last_run": true, "last_status": true, "last_message": true, "next_run": true,
}

// rebuildLegacySchema drops the abandoned name column by rebuilding the
// tasks table. Task names now live only in process memory; persisted rows
// carry the id alone. Foreign keys are switched off around the rebuild so
// dropping the old table does not cascade into task_history.
func (s *Store) rebuildLegacySchema(ctx context.Context) error {
	cols, err := s.tableColumns(ctx, "tasks")
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil // fresh database
	}
	hasName := false
	for _, c := range cols {
		if c == "name" {
			hasName = true
			break
		}
	}
	if !hasName {
		return nil
	}

	s.log.Info("rebuilding tasks table without the name column")

	keep := make([]string, 0, len(cols))
	for _, c := range cols {
		if c != "name" && currentTaskColumns[c] {
			keep = append(keep, c)
		}
	}
	colList := strings.Join(keep, ", ")

	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	defer s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE tasks_rebuilt ` + tasksDDL,
		`INSERT INTO tasks_rebuilt (` + colList + `) SELECT ` + colList + ` FROM tasks`,
		`DROP TABLE tasks`,
		`ALTER TABLE tasks_rebuilt RENAME TO tasks`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild tasks table: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	return nil
}

func (s *Store) tableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("inspect table %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}
