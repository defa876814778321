package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/storyround/storyround/internal/config"
)

var (
	configurePort     int
	configureHost     string
	configureSecret   string
	configureIdentity string
	configureDataDir  string
	configureSeeds    string
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the daemon configuration file",
	Long: `Write the storyround configuration file, starting from the current
configuration (or defaults) and applying any overrides given as flags.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().IntVar(&configurePort, "port", 0, "gateway listen port")
	configureCmd.Flags().StringVar(&configureHost, "host", "", "gateway listen host")
	configureCmd.Flags().StringVar(&configureSecret, "shared-secret", "", "gateway shared secret")
	configureCmd.Flags().StringVar(&configureIdentity, "identity-provider", "", "identity provider (static, anonymous)")
	configureCmd.Flags().StringVar(&configureDataDir, "data-dir", "", "data directory")
	configureCmd.Flags().StringVar(&configureSeeds, "seeds-dir", "", "enable the seed watcher on this directory")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load existing configuration: %w", err)
	}

	if configurePort > 0 {
		cfg.Gateway.Port = configurePort
	}
	if configureHost != "" {
		cfg.Gateway.Host = configureHost
	}
	if configureSecret != "" {
		cfg.Gateway.SharedSecret = configureSecret
	}
	if configureIdentity != "" {
		cfg.Identity.Provider = configureIdentity
	}
	if configureDataDir != "" {
		cfg.DataDir = configureDataDir
	}
	if configureSeeds != "" {
		cfg.Seeds.Enabled = true
		cfg.Seeds.Dir = configureSeeds
	}
	if cfg.Identity.Provider == "static" && cfg.Identity.TokensPath == "" {
		cfg.Identity.TokensPath = filepath.Join(cfg.DataDir, "tokens.json")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Configuration saved to: %s\n", loader.GetConfigPath())
	fmt.Println("You can now start the daemon with: storyround start")

	return nil
}
