package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerTools registers the warehouse tool set on the given server.
func (s *AdapterServer) registerTools(srv *server.MCPServer) {

	srv.AddTool(
		mcp.NewTool("list_databases",
			mcp.WithDescription(
				"List all databases (catalogs) accessible through this connection. "+
					"Use this first to discover what data is available.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListDatabases,
	)

	srv.AddTool(
		mcp.NewTool("list_schemas",
			mcp.WithDescription(
				"List schemas in a database. Omit database to use the connection's "+
					"current database.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("database",
				mcp.Description("Database to list schemas from"),
			),
		),
		s.handleListSchemas,
	)

	srv.AddTool(
		mcp.NewTool("list_tables",
			mcp.WithDescription(
				"List tables in a schema. Omit database/schema to use the "+
					"connection defaults.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("database",
				mcp.Description("Database containing the schema"),
			),
			mcp.WithString("schema",
				mcp.Description("Schema to list tables from"),
			),
		),
		s.handleListTables,
	)

	srv.AddTool(
		mcp.NewTool("describe_table",
			mcp.WithDescription(
				"Get the column definitions of a table: names, types, nullability, "+
					"and defaults. Use this to understand table structure before "+
					"writing queries.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Table name, optionally qualified (db.schema.table)"),
			),
		),
		s.handleDescribeTable,
	)

	srv.AddTool(
		mcp.NewTool("execute_query",
			mcp.WithDescription(
				"Execute a SQL query and return columns and rows as JSON. In "+
					"read-only mode, mutating statements (INSERT, UPDATE, DELETE, "+
					"DDL) are rejected.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("SQL statement to execute"),
			),
		),
		s.handleExecuteQuery,
	)

	srv.AddTool(
		mcp.NewTool("connection_info",
			mcp.WithDescription(
				"Report connection metadata: warehouse type, account, current "+
					"database/schema, and whether read-only mode is active.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleConnectionInfo,
	)
}

func (s *AdapterServer) handleListDatabases(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	databases, err := s.warehouse.ListDatabases(ctx)
	if err != nil {
		return toolError("list databases: %v", err)
	}
	return successJSON(map[string]any{
		"databases": databases,
		"count":     len(databases),
	})
}

func (s *AdapterServer) handleListSchemas(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	database := request.GetString("database", "")
	schemas, err := s.warehouse.ListSchemas(ctx, database)
	if err != nil {
		return toolError("list schemas: %v", err)
	}
	return successJSON(map[string]any{
		"database": database,
		"schemas":  schemas,
		"count":    len(schemas),
	})
}

func (s *AdapterServer) handleListTables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	database := request.GetString("database", "")
	schema := request.GetString("schema", "")
	tables, err := s.warehouse.ListTables(ctx, database, schema)
	if err != nil {
		return toolError("list tables: %v", err)
	}
	return successJSON(map[string]any{
		"database": database,
		"schema":   schema,
		"tables":   tables,
		"count":    len(tables),
	})
}

func (s *AdapterServer) handleDescribeTable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := request.RequireString("table")
	if err != nil {
		return toolError("missing required parameter %q", "table")
	}
	columns, err := s.warehouse.DescribeTable(ctx, table)
	if err != nil {
		return toolError("describe table %s: %v", table, err)
	}
	return successJSON(map[string]any{
		"table":   table,
		"columns": columns,
		"count":   len(columns),
	})
}

func (s *AdapterServer) handleExecuteQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return toolError("missing required parameter %q", "query")
	}
	result, err := s.warehouse.Query(ctx, query)
	if err != nil {
		return toolError("execute query: %v", err)
	}
	return successJSON(result)
}

func (s *AdapterServer) handleConnectionInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.warehouse.Info(ctx)
	if err != nil {
		return toolError("connection info: %v", err)
	}
	return successJSON(info)
}
