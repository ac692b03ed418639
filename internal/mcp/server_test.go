package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpgate/mcpgate/internal/backend"
)

// fakeWarehouse serves canned answers for handler tests.
type fakeWarehouse struct {
	queries []string
	failing bool
}

func (f *fakeWarehouse) Name() string                                       { return "fake" }
func (f *fakeWarehouse) Connect(context.Context, backend.Config) error      { return nil }
func (f *fakeWarehouse) Ping(context.Context) error                         { return nil }
func (f *fakeWarehouse) Close() error                                       { return nil }

func (f *fakeWarehouse) ListDatabases(context.Context) ([]string, error) {
	if f.failing {
		return nil, errors.New("connection lost")
	}
	return []string{"analytics", "raw"}, nil
}

func (f *fakeWarehouse) ListSchemas(_ context.Context, database string) ([]string, error) {
	return []string{"public"}, nil
}

func (f *fakeWarehouse) ListTables(_ context.Context, database, schema string) ([]string, error) {
	return []string{"orders", "users"}, nil
}

func (f *fakeWarehouse) DescribeTable(_ context.Context, table string) ([]backend.Column, error) {
	return []backend.Column{{Name: "id", Type: "BIGINT"}}, nil
}

func (f *fakeWarehouse) Query(_ context.Context, query string) (*backend.QueryResult, error) {
	f.queries = append(f.queries, query)
	if err := backend.GuardReadOnly(query); err != nil {
		return nil, err
	}
	return &backend.QueryResult{Columns: []string{"one"}, Rows: [][]any{{int64(1)}}, RowCount: 1}, nil
}

func (f *fakeWarehouse) Info(context.Context) (map[string]any, error) {
	return map[string]any{"warehouse_type": "fake", "read_only": true}, nil
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

// textOf extracts the text payload of a tool result.
func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", result.Content[0])
	}
	return text.Text
}

func TestHandleListDatabases(t *testing.T) {
	s := NewAdapterServer(&fakeWarehouse{}, nil)

	result, err := s.handleListDatabases(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, result))
	}

	var payload struct {
		Databases []string `json:"databases"`
		Count     int      `json:"count"`
	}
	if err := json.Unmarshal([]byte(textOf(t, result)), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Count != 2 || payload.Databases[0] != "analytics" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestHandlerErrorsAreToolErrors(t *testing.T) {
	s := NewAdapterServer(&fakeWarehouse{failing: true}, nil)

	result, err := s.handleListDatabases(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("warehouse failures must not be protocol errors: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a tool error result")
	}
	if !strings.Contains(textOf(t, result), "connection lost") {
		t.Errorf("error text missing cause: %s", textOf(t, result))
	}
}

func TestHandleExecuteQuery(t *testing.T) {
	w := &fakeWarehouse{}
	s := NewAdapterServer(w, nil)

	result, err := s.handleExecuteQuery(context.Background(),
		callRequest(map[string]any{"query": "SELECT 1 AS one"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, result))
	}
	if len(w.queries) != 1 || w.queries[0] != "SELECT 1 AS one" {
		t.Errorf("warehouse saw queries %v", w.queries)
	}

	// Missing required parameter.
	result, err = s.handleExecuteQuery(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !result.IsError {
		t.Error("expected a tool error for missing query")
	}

	// Read-only rejection surfaces as a tool error, not a protocol error.
	result, err = s.handleExecuteQuery(context.Background(),
		callRequest(map[string]any{"query": "DROP TABLE orders"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !result.IsError || !strings.Contains(textOf(t, result), "read-only") {
		t.Errorf("expected read-only tool error, got: %s", textOf(t, result))
	}
}

func TestHandleDescribeTable(t *testing.T) {
	s := NewAdapterServer(&fakeWarehouse{}, nil)

	result, err := s.handleDescribeTable(context.Background(),
		callRequest(map[string]any{"table": "orders"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var payload struct {
		Table   string           `json:"table"`
		Columns []backend.Column `json:"columns"`
	}
	if err := json.Unmarshal([]byte(textOf(t, result)), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Table != "orders" || len(payload.Columns) != 1 || payload.Columns[0].Name != "id" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestToolRegistration(t *testing.T) {
	s := NewAdapterServer(&fakeWarehouse{}, nil)
	if s.Server() == nil {
		t.Fatal("no underlying server")
	}
}
