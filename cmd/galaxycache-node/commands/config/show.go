package config

import (
	"os"

	"github.com/marmos91/galaxycache/internal/cli/output"
	"github.com/marmos91/galaxycache/pkg/config"
	"github.com/spf13/cobra"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration galaxycache-node would run with, after
merging the config file, environment variables, and defaults.

Examples:
  # Show default config as YAML
  galaxycache-node config show

  # Show as JSON
  galaxycache-node config show --output json

  # Show a specific config file
  galaxycache-node config show --config /etc/galaxycache/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}
