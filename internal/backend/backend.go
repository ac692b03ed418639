package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrReadOnly is returned when a statement is rejected by read-only mode.
var ErrReadOnly = errors.New("statement not allowed in read-only mode")

// Config holds warehouse connection parameters for an adapter.
type Config struct {
	// DSN-based adapters (snowflake, postgres).
	DSN            string
	PrivateKeyPath string // Snowflake key-pair auth

	// REST-based adapters (databricks).
	Host        string
	Token       string
	WarehouseID string

	Database string
	Schema   string

	ReadOnly bool
	MaxRows  int

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Column describes one column of a table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Default  string `json:"default,omitempty"`
}

// QueryResult is the uniform shape for query output across warehouses.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Warehouse is implemented by each data-warehouse adapter. Connect must be
// called before any other method; Close releases the connection pool.
type Warehouse interface {
	Connect(ctx context.Context, cfg Config) error
	Ping(ctx context.Context) error

	ListDatabases(ctx context.Context) ([]string, error)
	ListSchemas(ctx context.Context, database string) ([]string, error)
	ListTables(ctx context.Context, database, schema string) ([]string, error)
	DescribeTable(ctx context.Context, table string) ([]Column, error)
	Query(ctx context.Context, query string) (*QueryResult, error)

	// Info reports connection metadata (account, user, role, warehouse).
	Info(ctx context.Context) (map[string]any, error)

	Name() string
	Close() error
}

// prohibitedKeywords are the statement-leading keywords rejected in read-only
// mode. The list covers DML, DDL, grants, data movement, and procedure calls.
var prohibitedKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "MERGE", "TRUNCATE",
	"CREATE", "ALTER", "DROP", "RENAME",
	"GRANT", "REVOKE",
	"COPY", "PUT", "GET",
	"CALL", "EXECUTE",
}

// GuardReadOnly rejects statements that begin with a mutating keyword. It is
// a first line of defense for adapters in read-only mode, not a SQL parser;
// deployments that need hard guarantees should also use read-only warehouse
// credentials.
func GuardReadOnly(query string) error {
	normalized := strings.ToUpper(strings.TrimSpace(query))
	for _, keyword := range prohibitedKeywords {
		if !strings.HasPrefix(normalized, keyword) {
			continue
		}
		rest := normalized[len(keyword):]
		if rest == "" || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n' || rest[0] == '(' {
			return fmt.Errorf("%w: %s operations are prohibited", ErrReadOnly, keyword)
		}
	}
	return nil
}

// Collect drains sql rows into a QueryResult, stopping at maxRows when the
// limit is positive. Values are scanned as any; drivers return their native
// Go types.
func Collect(rows *sql.Rows, maxRows int) (*QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if maxRows > 0 && result.RowCount >= maxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// QuoteIdent wraps a SQL identifier in double quotes, escaping embedded
// quotes. Suitable for the warehouses served here; identifiers with dots are
// quoted per path segment.
func QuoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}
