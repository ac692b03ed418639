package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpgate/mcpgate/internal/auth"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke API keys used to authenticate against the gateway.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name        string
		description string
		user        string
		scopes      []string
		expiresDays int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key owned by a user. The raw token is shown once and cannot be retrieved again.",
		Example: `  mcpgate key create --user admin --name "CI pipeline" --scope tools:call
  mcpgate key create --user admin --name deploy --scope gateway:read --scope gateway:write`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(user, name, description, scopes, expiresDays)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Username owning the key (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringVar(&description, "description", "", "Description of what the key is for")
	cmd.Flags().StringArrayVar(&scopes, "scope", nil, "Scope to grant (repeatable)")
	cmd.Flags().IntVar(&expiresDays, "expires-days", 0, "Days until expiry (default from config)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(username, name, description string, scopes []string, expiresDays int) error {
	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer s.Close()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	manager, err := newManager(s, cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()

	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user %q not found", username)
	}

	key, token, err := manager.CreateAPIKey(ctx, auth.CreateAPIKeyParams{
		UserID:      user.ID,
		Name:        name,
		Description: description,
		Scopes:      scopes,
		ExpiresDays: expiresDays,
	})
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Token:  %s\n", token)
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  Owner:  %s\n", username)
	if len(key.Scopes) > 0 {
		fmt.Printf("  Scopes: %s\n", strings.Join(key.Scopes, ", "))
	}
	if key.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this token now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer s.Close()

	keys, err := s.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys configured. Use 'mcpgate key create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-24s %-32s %-8s\n", "ID", "NAME", "SCOPES", "ACTIVE")
	fmt.Printf("%-6s %-24s %-32s %-8s\n", "--", "----", "------", "------")
	for _, k := range keys {
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-24s %-32s %-8s\n", k.ID, k.Name, strings.Join(k.Scopes, ","), active)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key by ID",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(idArg string) error {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid key id %q", idArg)
	}

	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer s.Close()

	if err := s.RevokeAPIKey(context.Background(), id); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key %d\n", id)
	return nil
}
