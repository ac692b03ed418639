package databricks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mcpgate/mcpgate/internal/backend"
)

// fakeWarehouse is a minimal Statement Execution API: every submitted
// statement answers from its canned responses, keyed by statement prefix.
type fakeWarehouse struct {
	t       *testing.T
	results map[string]any // statement prefix -> result payload
	pending int            // initial polls answering PENDING per statement
	polls   int
	last    string // most recently submitted statement
}

func (f *fakeWarehouse) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer dapi-test-token" {
			http.Error(w, `{"message":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/2.0/sql/statements":
			var req statementRequest
			json.NewDecoder(r.Body).Decode(&req)
			f.last = req.Statement
			if f.pending > 0 {
				json.NewEncoder(w).Encode(map[string]any{
					"statement_id": "stmt-1",
					"status":       map[string]any{"state": "PENDING"},
				})
				return
			}
			f.respond(w, req.Statement)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/2.0/sql/statements/"):
			f.polls++
			if f.polls < f.pending {
				json.NewEncoder(w).Encode(map[string]any{
					"statement_id": "stmt-1",
					"status":       map[string]any{"state": "RUNNING"},
				})
				return
			}
			f.respond(w, f.last)
		default:
			http.NotFound(w, r)
		}
	}
}

func (f *fakeWarehouse) respond(w http.ResponseWriter, statement string) {
	for prefix, result := range f.results {
		if strings.HasPrefix(statement, prefix) {
			json.NewEncoder(w).Encode(result)
			return
		}
	}
	// Default: empty success (covers the SELECT 1 ping).
	json.NewEncoder(w).Encode(map[string]any{
		"statement_id": "s1",
		"status":       map[string]any{"state": "SUCCEEDED"},
	})
}

func succeeded(columns []string, rows [][]any) map[string]any {
	cols := make([]map[string]any, len(columns))
	for i, c := range columns {
		cols[i] = map[string]any{"name": c, "type_text": "STRING"}
	}
	return map[string]any{
		"statement_id": "s1",
		"status":       map[string]any{"state": "SUCCEEDED"},
		"manifest":     map[string]any{"schema": map[string]any{"columns": cols}},
		"result":       map[string]any{"data_array": rows},
	}
}

func newConnected(t *testing.T, f *fakeWarehouse, mutate func(*backend.Config)) *Databricks {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	cfg := backend.Config{
		Host:        srv.URL,
		Token:       "dapi-test-token",
		WarehouseID: "wh-123",
		Database:    "main",
		Schema:      "analytics",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d := New()
	if err := d.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return d
}

func TestConnectValidation(t *testing.T) {
	d := New()
	ctx := context.Background()
	for _, cfg := range []backend.Config{
		{Token: "t", WarehouseID: "w"},
		{Host: "h", WarehouseID: "w"},
		{Host: "h", Token: "t"},
	} {
		if err := d.Connect(ctx, cfg); err == nil {
			t.Errorf("Connect(%+v) succeeded, want error", cfg)
		}
	}
}

func TestQuery(t *testing.T) {
	f := &fakeWarehouse{t: t, results: map[string]any{
		"SELECT name": succeeded([]string{"name", "amount"}, [][]any{{"a", 1.0}, {"b", 2.0}}),
	}}
	d := newConnected(t, f, nil)

	result, err := d.Query(context.Background(), "SELECT name, amount FROM orders")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "name" {
		t.Errorf("columns = %v", result.Columns)
	}
	if result.RowCount != 2 || result.Rows[1][0] != "b" {
		t.Errorf("rows = %v", result.Rows)
	}
}

func TestQueryPollsUntilDone(t *testing.T) {
	f := &fakeWarehouse{t: t, pending: 3, results: map[string]any{
		"SELECT": succeeded([]string{"x"}, [][]any{{"done"}}),
	}}
	// Bypass Connect's ping so the poll counter belongs to one statement.
	srv := httptest.NewServer(f.handler())
	defer srv.Close()
	d := &Databricks{
		client: srv.Client(),
		host:   srv.URL,
		cfg:    backend.Config{Token: "dapi-test-token", WarehouseID: "wh-123"},
	}

	result, err := d.Query(context.Background(), "SELECT pg_sleep(1)")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.RowCount != 1 {
		t.Errorf("rows = %v", result.Rows)
	}
	if f.polls < 2 {
		t.Errorf("expected at least 2 polls, got %d", f.polls)
	}
}

func TestQueryFailedStatement(t *testing.T) {
	f := &fakeWarehouse{t: t, results: map[string]any{
		"SELECT broken": map[string]any{
			"statement_id": "s1",
			"status": map[string]any{
				"state": "FAILED",
				"error": map[string]any{"message": "TABLE_OR_VIEW_NOT_FOUND"},
			},
		},
	}}
	d := newConnected(t, f, nil)

	_, err := d.Query(context.Background(), "SELECT broken FROM nowhere")
	if err == nil || !strings.Contains(err.Error(), "TABLE_OR_VIEW_NOT_FOUND") {
		t.Errorf("expected statement failure, got %v", err)
	}
}

func TestQueryReadOnlyGuard(t *testing.T) {
	f := &fakeWarehouse{t: t}
	d := newConnected(t, f, func(cfg *backend.Config) { cfg.ReadOnly = true })

	_, err := d.Query(context.Background(), "DROP TABLE orders")
	if !errors.Is(err, backend.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestListTables(t *testing.T) {
	f := &fakeWarehouse{t: t, results: map[string]any{
		"SHOW TABLES": succeeded(
			[]string{"database", "tableName", "isTemporary"},
			[][]any{{"analytics", "orders", false}, {"analytics", "users", false}},
		),
	}}
	d := newConnected(t, f, nil)

	tables, err := d.ListTables(context.Background(), "main", "analytics")
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 2 || tables[0] != "orders" || tables[1] != "users" {
		t.Errorf("tables = %v", tables)
	}
}

func TestDescribeTableStopsAtMetadata(t *testing.T) {
	f := &fakeWarehouse{t: t, results: map[string]any{
		"DESCRIBE TABLE": succeeded(
			[]string{"col_name", "data_type", "comment"},
			[][]any{
				{"id", "bigint", nil},
				{"name", "string", nil},
				{"", "", nil},
				{"# Partition Information", "", nil},
			},
		),
	}}
	d := newConnected(t, f, nil)

	cols, err := d.DescribeTable(context.Background(), "orders")
	if err != nil {
		t.Fatalf("DescribeTable: %v", err)
	}
	if len(cols) != 2 || cols[0].Name != "id" || cols[1].Type != "string" {
		t.Errorf("columns = %+v", cols)
	}
}

func TestBadToken(t *testing.T) {
	f := &fakeWarehouse{t: t}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	d := New()
	err := d.Connect(context.Background(), backend.Config{
		Host: srv.URL, Token: "wrong", WarehouseID: "wh-123",
	})
	if err == nil || !strings.Contains(err.Error(), "invalid token") {
		t.Errorf("expected auth failure, got %v", err)
	}
}
