// Package postgres adapts a PostgreSQL database to the Warehouse interface
// through pgx's database/sql driver.
package postgres

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/mcpgate/mcpgate/internal/backend"
)

type Postgres struct {
	db  *sqlx.DB
	cfg backend.Config
}

func New() *Postgres {
	return &Postgres{}
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Connect(ctx context.Context, cfg backend.Config) error {
	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	p.db = db
	p.cfg = cfg
	return nil
}

func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) ListDatabases(ctx context.Context) ([]string, error) {
	return p.selectStrings(ctx,
		`SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname`)
}

// ListSchemas ignores the database argument: a postgres connection is bound
// to one database and cannot introspect another.
func (p *Postgres) ListSchemas(ctx context.Context, _ string) ([]string, error) {
	return p.selectStrings(ctx,
		`SELECT schema_name FROM information_schema.schemata
		 WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
		 ORDER BY schema_name`)
}

func (p *Postgres) ListTables(ctx context.Context, _ string, schema string) ([]string, error) {
	if schema == "" {
		schema = "public"
	}
	return p.selectStrings(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		 ORDER BY table_name`, schema)
}

func (p *Postgres) DescribeTable(ctx context.Context, table string) ([]backend.Column, error) {
	schema := p.cfg.Schema
	if schema == "" {
		schema = "public"
	}

	rows, err := p.db.QueryxContext(ctx,
		`SELECT column_name, data_type, is_nullable, COALESCE(column_default, '')
		 FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("describe table: %w", err)
	}
	defer rows.Close()

	var columns []backend.Column
	for rows.Next() {
		var c backend.Column
		var nullable string
		if err := rows.Scan(&c.Name, &c.Type, &nullable, &c.Default); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.Nullable = nullable == "YES"
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func (p *Postgres) Query(ctx context.Context, query string) (*backend.QueryResult, error) {
	if p.cfg.ReadOnly {
		if err := backend.GuardReadOnly(query); err != nil {
			return nil, err
		}
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres query: %w", err)
	}
	defer rows.Close()
	return backend.Collect(rows, p.cfg.MaxRows)
}

func (p *Postgres) Info(ctx context.Context) (map[string]any, error) {
	var database, user, version string
	row := p.db.QueryRowContext(ctx, `SELECT current_database(), current_user, version()`)
	if err := row.Scan(&database, &user, &version); err != nil {
		return nil, fmt.Errorf("postgres info: %w", err)
	}
	return map[string]any{
		"warehouse_type": p.Name(),
		"database":       database,
		"user":           user,
		"version":        version,
		"read_only":      p.cfg.ReadOnly,
	}, nil
}

func (p *Postgres) selectStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	var out []string
	if err := p.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("postgres query: %w", err)
	}
	return out, nil
}
