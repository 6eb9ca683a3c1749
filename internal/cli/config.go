package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lsp-framework/internal/config"
)

var (
	configOutputPath string
	configOverwrite  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage lsp-server configuration files.

Available subcommands:
  generate - Write a default configuration file
  validate - Validate an existing configuration
  show     - Display the effective configuration`,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a default configuration file",
	RunE:  runConfigGenerate,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	configGenerateCmd.Flags().StringVarP(&configOutputPath, "output", "o", "lsp-server.yaml", "Output file path")
	configGenerateCmd.Flags().BoolVar(&configOverwrite, "overwrite", false, "Overwrite an existing file")
	configValidateCmd.Flags().StringVarP(&configPath, "config", "c", "lsp-server.yaml", "Configuration file path")
	configShowCmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")

	configCmd.AddCommand(configGenerateCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigGenerate(cmd *cobra.Command, args []string) error {
	if !configOverwrite {
		if _, err := os.Stat(configOutputPath); err == nil {
			return fmt.Errorf("file %s already exists, use --overwrite to replace it", configOutputPath)
		}
	}
	if err := config.GenerateDefaultConfig(configOutputPath); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", configOutputPath)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration %s is valid (%d languages)\n", configPath, len(cfg.Languages))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
