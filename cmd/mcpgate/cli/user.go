package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  "Create and list user accounts that can log in and manage the gateway.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		username  string
		password  string
		email     string
		superuser bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user account",
		Example: `  mcpgate user create --username admin --superuser
  mcpgate user create --username analyst --email analyst@example.com  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(username, password, email, superuser)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().BoolVar(&superuser, "superuser", false, "Grant superuser privileges")
	cmd.MarkFlagRequired("username")

	return cmd
}

func runUserCreate(username, password, email string, superuser bool) error {
	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

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

	user, err := manager.CreateUser(context.Background(), username, password, email, superuser)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created user %q (id %d)\n", user.Username, user.ID)
	if superuser {
		fmt.Println("  superuser: yes")
	}
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer s.Close()

	users, err := s.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No user accounts. Use 'mcpgate user create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-20s %-28s %-10s %-8s\n", "ID", "USERNAME", "EMAIL", "SUPERUSER", "ACTIVE")
	fmt.Printf("%-6s %-20s %-28s %-10s %-8s\n", "--", "--------", "-----", "---------", "------")
	for _, u := range users {
		super, active := "no", "yes"
		if u.IsSuperuser {
			super = "yes"
		}
		if !u.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-20s %-28s %-10s %-8s\n", u.ID, u.Username, u.Email, super, active)
	}

	return nil
}
