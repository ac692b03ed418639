package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpgate/mcpgate/internal/gateway"
	"github.com/mcpgate/mcpgate/internal/model"
)

func newBackendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Manage registered MCP backends",
		Long:  "Register, list, and remove the warehouse MCP servers the gateway proxies to.",
	}

	cmd.AddCommand(newBackendRegisterCmd())
	cmd.AddCommand(newBackendListCmd())
	cmd.AddCommand(newBackendDeregisterCmd())
	cmd.AddCommand(newBackendCleanupCmd())

	return cmd
}

// openRegistry opens the store and hydrates a registry from it.
func openRegistry(ctx context.Context) (*gateway.Registry, func(), error) {
	s, err := openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry := gateway.NewRegistry(s, logger)
	if err := registry.Load(ctx); err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("load backends: %w", err)
	}
	return registry, func() { s.Close() }, nil
}

// ---------- backend register ----------

func newBackendRegisterCmd() *cobra.Command {
	var (
		id        string
		template  string
		transport string
		endpoint  string
		command   []string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a backend MCP server",
		Example: `  mcpgate backend register --template snowflake --endpoint http://127.0.0.1:9101/mcp
  mcpgate backend register --template databricks --transport stdio --command mcpgate --command adapter --command databricks`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			registry, closeFn, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			inst, err := registry.Register(ctx, model.BackendInstance{
				ID:        id,
				Template:  template,
				Transport: transport,
				Endpoint:  endpoint,
				Command:   command,
			})
			if err != nil {
				return fmt.Errorf("register backend: %w", err)
			}

			fmt.Printf("Registered %s instance %s (%s)\n", inst.Template, inst.ID, inst.Transport)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Instance ID (generated if omitted)")
	cmd.Flags().StringVar(&template, "template", "", "Template name, e.g. snowflake (required)")
	cmd.Flags().StringVar(&transport, "transport", model.TransportHTTP, "Transport: http or stdio")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "HTTP endpoint URL (http transport)")
	cmd.Flags().StringArrayVar(&command, "command", nil, "Command argv element (stdio transport, repeatable)")
	cmd.MarkFlagRequired("template")

	return cmd
}

// ---------- backend list ----------

func newBackendListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			registry, closeFn, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			templates := registry.Templates()

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(templates)
			}

			if len(templates) == 0 {
				fmt.Println("No backends registered. Use 'mcpgate backend register' to add one.")
				return nil
			}

			fmt.Printf("%-14s %-38s %-8s %-10s %s\n", "TEMPLATE", "ID", "HEALTHY", "TRANSPORT", "TARGET")
			for _, tmpl := range templates {
				for _, inst := range tmpl.Instances {
					healthy := "yes"
					if !inst.Healthy {
						healthy = "no"
					}
					target := inst.Endpoint
					if inst.Transport == model.TransportStdio {
						target = strings.Join(inst.Command, " ")
					}
					fmt.Printf("%-14s %-38s %-8s %-10s %s\n", tmpl.Name, inst.ID, healthy, inst.Transport, target)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- backend deregister ----------

func newBackendDeregisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deregister <template> <id>",
		Short: "Remove a registered backend instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			registry, closeFn, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := registry.Deregister(ctx, args[0], args[1]); err != nil {
				return fmt.Errorf("deregister backend: %w", err)
			}
			fmt.Printf("Deregistered %s instance %s\n", args[0], args[1])
			return nil
		},
	}

	return cmd
}

// ---------- backend cleanup ----------

func newBackendCleanupCmd() *cobra.Command {
	var maxFailures int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Evict unhealthy backend instances",
		Long:  "Remove instances whose consecutive health-check failures reached the threshold.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			registry, closeFn, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			evicted := registry.ClearUnhealthy(ctx, maxFailures)
			fmt.Printf("Evicted %d instance(s)\n", evicted)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxFailures, "max-failures", 5, "Failure count at which an instance is evicted")

	return cmd
}
