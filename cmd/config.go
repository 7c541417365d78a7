package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"brld/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the daemon configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the config file without starting the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("config invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("config OK: transport=%s listen=%s:%s display=%dx%d\n",
			cfg.Transport.Identifier, cfg.Listen.Network, cfg.Listen.Address,
			cfg.Display.Rows, cfg.Display.Cols)
	},
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the loaded config as rendered YAML",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("config invalid: %v\n", err)
			os.Exit(1)
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Printf("failed to render config: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configPrintCmd)
}
