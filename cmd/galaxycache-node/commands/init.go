package commands

import (
	"fmt"
	"os"

	"github.com/marmos91/galaxycache/internal/cli/prompt"
	"github.com/marmos91/galaxycache/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample galaxycache-node configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/galaxycache/config.yaml. Use --config to specify a
custom path.

Examples:
  # Initialize with default location
  galaxycache-node init

  # Initialize with custom path
  galaxycache-node init --config /etc/galaxycache/config.yaml

  # Skip the overwrite confirmation
  galaxycache-node init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file without prompting")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	path := configFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	force := initForce
	if _, err := os.Stat(path); err == nil && !force {
		confirmed, err := prompt.Confirm(fmt.Sprintf("Overwrite existing config at %s?", path), false)
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Aborted.")
			return nil
		}
		force = true
	}

	configPath, err := config.InitConfigToPath(path, force)
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file for this node's listen address and peers")
	fmt.Println("  2. Start the node with: galaxycache-node start")
	fmt.Printf("  3. Or specify a custom config: galaxycache-node start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  No admin API JWT secret is written; the admin API is disabled by default.")
	fmt.Println("  To enable it, set admin_api.enabled and an admin_api.jwt.secret of at least")
	fmt.Println("  32 characters, for example one generated with: openssl rand -hex 32")

	return nil
}
