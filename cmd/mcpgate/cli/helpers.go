package cli

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/mcpgate/mcpgate/internal/auth"
	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// MCPGATE_DATA_DIR env var, or ~/.mcpgate as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("MCPGATE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.mcpgate"
}

// openStore opens the SQLite state store under the resolved data dir.
func openStore() (*store.Store, error) {
	return store.NewStore(resolveDataDir())
}

// loadConfig reads the YAML config file when one is set or discoverable,
// falling back to defaults. The auth secret key may also come from
// MCPGATE_SECRET_KEY.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if used := viper.ConfigFileUsed(); used != "" {
			path = used
		}
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = viper.GetString("secret_key")
	}
	return cfg, nil
}

// newManager builds an auth manager from the loaded config over the given
// store. CLI credential commands need one for hashing and token minting.
func newManager(s *store.Store, cfg *config.Config) (*auth.Manager, error) {
	if cfg.Auth.SecretKey == "" {
		return nil, fmt.Errorf("auth secret key is not configured (set auth.secret_key or MCPGATE_SECRET_KEY)")
	}
	return auth.NewManager(s, cfg.Auth, nil)
}
