// Package databricks adapts a Databricks SQL warehouse to the Warehouse
// interface through the Statement Execution REST API. There is no SQL driver
// involved; statements are submitted over HTTPS and polled to completion.
package databricks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mcpgate/mcpgate/internal/backend"
)

const (
	statementsPath = "/api/2.0/sql/statements"
	pollInterval   = 500 * time.Millisecond
)

type Databricks struct {
	client *http.Client
	cfg    backend.Config
	host   string
}

func New() *Databricks {
	return &Databricks{}
}

func (d *Databricks) Name() string { return "databricks" }

func (d *Databricks) Connect(ctx context.Context, cfg backend.Config) error {
	if cfg.Host == "" {
		return errors.New("databricks: host is required")
	}
	if cfg.Token == "" {
		return errors.New("databricks: access token is required")
	}
	if cfg.WarehouseID == "" {
		return errors.New("databricks: warehouse_id is required")
	}

	host := cfg.Host
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	d.host = strings.TrimRight(host, "/")
	d.cfg = cfg
	d.client = &http.Client{Timeout: 30 * time.Second}

	return d.Ping(ctx)
}

func (d *Databricks) Close() error { return nil }

func (d *Databricks) Ping(ctx context.Context) error {
	_, err := d.execute(ctx, "SELECT 1")
	return err
}

// statementRequest is the Statement Execution API submit body.
type statementRequest struct {
	Statement   string `json:"statement"`
	WarehouseID string `json:"warehouse_id"`
	Catalog     string `json:"catalog,omitempty"`
	Schema      string `json:"schema,omitempty"`
	WaitTimeout string `json:"wait_timeout"`
}

type statementResponse struct {
	StatementID string `json:"statement_id"`
	Status      struct {
		State string `json:"state"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"status"`
	Manifest struct {
		Schema struct {
			Columns []struct {
				Name     string `json:"name"`
				TypeText string `json:"type_text"`
			} `json:"columns"`
		} `json:"schema"`
	} `json:"manifest"`
	Result struct {
		DataArray [][]any `json:"data_array"`
	} `json:"result"`
}

// execute submits a statement and polls until it reaches a terminal state.
func (d *Databricks) execute(ctx context.Context, statement string) (*statementResponse, error) {
	body, err := json.Marshal(statementRequest{
		Statement:   statement,
		WarehouseID: d.cfg.WarehouseID,
		Catalog:     d.cfg.Database,
		Schema:      d.cfg.Schema,
		WaitTimeout: "30s",
	})
	if err != nil {
		return nil, err
	}

	resp, err := d.do(ctx, http.MethodPost, statementsPath, body)
	if err != nil {
		return nil, err
	}

	for {
		switch resp.Status.State {
		case "SUCCEEDED":
			return resp, nil
		case "FAILED", "CANCELED", "CLOSED":
			msg := resp.Status.Error.Message
			if msg == "" {
				msg = "statement " + strings.ToLower(resp.Status.State)
			}
			return nil, fmt.Errorf("databricks statement: %s", msg)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
		resp, err = d.do(ctx, http.MethodGet, statementsPath+"/"+resp.StatementID, nil)
		if err != nil {
			return nil, err
		}
	}
}

func (d *Databricks) do(ctx context.Context, method, path string, body []byte) (*statementResponse, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.host+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("databricks request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message != "" {
			return nil, fmt.Errorf("databricks api: %s (status %d)", apiErr.Message, resp.StatusCode)
		}
		return nil, fmt.Errorf("databricks api: status %d", resp.StatusCode)
	}

	var out statementResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func (d *Databricks) Query(ctx context.Context, query string) (*backend.QueryResult, error) {
	if d.cfg.ReadOnly {
		if err := backend.GuardReadOnly(query); err != nil {
			return nil, err
		}
	}

	resp, err := d.execute(ctx, query)
	if err != nil {
		return nil, err
	}

	result := &backend.QueryResult{Rows: [][]any{}}
	for _, col := range resp.Manifest.Schema.Columns {
		result.Columns = append(result.Columns, col.Name)
	}
	for _, row := range resp.Result.DataArray {
		if d.cfg.MaxRows > 0 && result.RowCount >= d.cfg.MaxRows {
			result.Truncated = true
			break
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	return result, nil
}

func (d *Databricks) ListDatabases(ctx context.Context) ([]string, error) {
	result, err := d.Query(ctx, "SHOW CATALOGS")
	if err != nil {
		return nil, err
	}
	return namesFrom(result, "catalog"), nil
}

func (d *Databricks) ListSchemas(ctx context.Context, database string) ([]string, error) {
	q := "SHOW SCHEMAS"
	if database != "" {
		q += " IN " + backend.QuoteIdent(database)
	}
	result, err := d.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return namesFrom(result, "databaseName", "namespace"), nil
}

func (d *Databricks) ListTables(ctx context.Context, database, schema string) ([]string, error) {
	q := "SHOW TABLES"
	switch {
	case database != "" && schema != "":
		q += " IN " + backend.QuoteIdent(database) + "." + backend.QuoteIdent(schema)
	case schema != "":
		q += " IN " + backend.QuoteIdent(schema)
	}
	result, err := d.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return namesFrom(result, "tableName"), nil
}

func (d *Databricks) DescribeTable(ctx context.Context, table string) ([]backend.Column, error) {
	result, err := d.Query(ctx, "DESCRIBE TABLE "+backend.QuoteIdent(table))
	if err != nil {
		return nil, err
	}

	columns := make([]backend.Column, 0, len(result.Rows))
	for _, row := range result.Rows {
		// DESCRIBE output: col_name, data_type, comment. A blank col_name
		// separates the partition/metadata sections; stop there.
		name := stringAt(row, 0)
		if name == "" || strings.HasPrefix(name, "#") {
			break
		}
		columns = append(columns, backend.Column{
			Name:     name,
			Type:     stringAt(row, 1),
			Nullable: true,
		})
	}
	return columns, nil
}

func (d *Databricks) Info(ctx context.Context) (map[string]any, error) {
	return map[string]any{
		"warehouse_type": d.Name(),
		"host":           d.host,
		"warehouse_id":   d.cfg.WarehouseID,
		"catalog":        d.cfg.Database,
		"schema":         d.cfg.Schema,
		"read_only":      d.cfg.ReadOnly,
	}, nil
}

// namesFrom extracts the preferred column, falling back to the first.
func namesFrom(result *backend.QueryResult, preferred ...string) []string {
	idx := -1
	for _, want := range preferred {
		for i, col := range result.Columns {
			if strings.EqualFold(col, want) {
				idx = i
				break
			}
		}
		if idx >= 0 {
			break
		}
	}
	if idx < 0 {
		idx = 0
	}

	names := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if v := stringAt(row, idx); v != "" {
			names = append(names, v)
		}
	}
	return names
}

func stringAt(row []any, i int) string {
	if i >= len(row) {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
