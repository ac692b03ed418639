// Package snowflake adapts a Snowflake account to the Warehouse interface
// using the gosnowflake driver. Key-pair (JWT) authentication is used when a
// private key path is configured; otherwise the DSN's password applies.
package snowflake

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/snowflakedb/gosnowflake"

	"github.com/mcpgate/mcpgate/internal/backend"
)

type Snowflake struct {
	db  *sqlx.DB
	cfg backend.Config
}

func New() *Snowflake {
	return &Snowflake{}
}

func (s *Snowflake) Name() string { return "snowflake" }

func (s *Snowflake) Connect(ctx context.Context, cfg backend.Config) error {
	dsn := cfg.DSN
	if cfg.PrivateKeyPath != "" {
		var err error
		dsn, err = buildJWTDSN(cfg.DSN, cfg.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("snowflake jwt auth: %w", err)
		}
	}

	db, err := sqlx.ConnectContext(ctx, "snowflake", dsn)
	if err != nil {
		return fmt.Errorf("snowflake connect: %w", err)
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

	s.db = db
	s.cfg = cfg
	return nil
}

func (s *Snowflake) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Snowflake) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Snowflake) ListDatabases(ctx context.Context) ([]string, error) {
	return s.showNames(ctx, "SHOW DATABASES")
}

func (s *Snowflake) ListSchemas(ctx context.Context, database string) ([]string, error) {
	q := "SHOW SCHEMAS"
	if database != "" {
		q += " IN DATABASE " + backend.QuoteIdent(database)
	}
	return s.showNames(ctx, q)
}

func (s *Snowflake) ListTables(ctx context.Context, database, schema string) ([]string, error) {
	q := "SHOW TABLES"
	switch {
	case database != "" && schema != "":
		q += " IN SCHEMA " + backend.QuoteIdent(database) + "." + backend.QuoteIdent(schema)
	case schema != "":
		q += " IN SCHEMA " + backend.QuoteIdent(schema)
	case database != "":
		q += " IN DATABASE " + backend.QuoteIdent(database)
	}
	return s.showNames(ctx, q)
}

// showNames runs a SHOW command and extracts the "name" column.
func (s *Snowflake) showNames(ctx context.Context, query string) ([]string, error) {
	result, err := s.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, col := range result.Columns {
		if strings.EqualFold(col, "name") {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("no name column in %q output", query)
	}
	names := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if v, ok := row[idx].(string); ok {
			names = append(names, v)
		}
	}
	return names, nil
}

func (s *Snowflake) DescribeTable(ctx context.Context, table string) ([]backend.Column, error) {
	result, err := s.Query(ctx, "DESCRIBE TABLE "+backend.QuoteIdent(table))
	if err != nil {
		return nil, err
	}

	col := func(name string) int {
		for i, c := range result.Columns {
			if strings.EqualFold(c, name) {
				return i
			}
		}
		return -1
	}
	nameIdx, typeIdx, nullIdx, defIdx := col("name"), col("type"), col("null?"), col("default")

	columns := make([]backend.Column, 0, len(result.Rows))
	for _, row := range result.Rows {
		c := backend.Column{}
		if nameIdx >= 0 {
			c.Name, _ = row[nameIdx].(string)
		}
		if typeIdx >= 0 {
			c.Type, _ = row[typeIdx].(string)
		}
		if nullIdx >= 0 {
			v, _ := row[nullIdx].(string)
			c.Nullable = strings.EqualFold(v, "Y")
		}
		if defIdx >= 0 {
			c.Default, _ = row[defIdx].(string)
		}
		columns = append(columns, c)
	}
	return columns, nil
}

func (s *Snowflake) Query(ctx context.Context, query string) (*backend.QueryResult, error) {
	if s.cfg.ReadOnly {
		if err := backend.GuardReadOnly(query); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("snowflake query: %w", err)
	}
	defer rows.Close()
	return backend.Collect(rows, s.cfg.MaxRows)
}

func (s *Snowflake) Info(ctx context.Context) (map[string]any, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT CURRENT_ACCOUNT(), CURRENT_USER(), CURRENT_ROLE(), CURRENT_DATABASE(), CURRENT_SCHEMA(), CURRENT_WAREHOUSE()")

	var account, user, role, database, schema, warehouse *string
	if err := row.Scan(&account, &user, &role, &database, &schema, &warehouse); err != nil {
		return nil, fmt.Errorf("snowflake info: %w", err)
	}

	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	return map[string]any{
		"warehouse_type": s.Name(),
		"account":        deref(account),
		"user":           deref(user),
		"role":           deref(role),
		"database":       deref(database),
		"schema":         deref(schema),
		"warehouse":      deref(warehouse),
		"read_only":      s.cfg.ReadOnly,
	}, nil
}
