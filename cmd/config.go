package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nullstream/agentcore/internal/config"
)

var supportedProviders = []string{"cursor", "codex", "qwen", "gemini"}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the orchestration core's provider overrides and environment passthrough list.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for a provider binary path override.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate example YAML configuration",
	Long:  `Generate an example YAML configuration file covering every supported provider.`,
	RunE:  runConfigGenerate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configGenerateCmd)

	// Add flags for generate command
	configGenerateCmd.Flags().BoolP("force", "f", false, "Overwrite existing configuration file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("Orchestration Core Configuration Setup")
	color.Yellow("Follow the prompts to override a provider's binary path (leave blank to accept the default).")

	reader := bufio.NewReader(os.Stdin)

	fmt.Printf("\nProvider name (%s): ", strings.Join(supportedProviders, ", "))

	providerName, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading provider name: %w", err)
	}

	providerName = strings.TrimSpace(providerName)
	if !isSupportedProvider(providerName) {
		return fmt.Errorf("unsupported provider %q, expected one of %s", providerName, strings.Join(supportedProviders, ", "))
	}

	fmt.Printf("Binary path for %q (blank to use %q): ", providerName, config.DefaultBinaries[providerName])

	binaryPath, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading binary path: %w", err)
	}

	binaryPath = strings.TrimSpace(binaryPath)

	fmt.Print("Core API key (optional, guards /status): ")

	apiKey, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading API key: %w", err)
	}

	apiKey = strings.TrimSpace(apiKey)

	cfg := &config.Config{
		Host:           config.DefaultHost,
		Port:           config.DefaultPort,
		APIKey:         apiKey,
		EnvPassthrough: append([]string(nil), config.DefaultEnvPassthrough...),
		Providers: map[string]config.ProviderOverride{
			providerName: {BinaryPath: binaryPath},
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the core with: agentcore start")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'agentcore config init' or 'agentcore config generate' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	configType := "JSON"
	if cfgMgr.HasYAML() {
		configType = "YAML"
	}

	fmt.Printf("  %-15s: %s\n", "Format", configType)

	fmt.Println("\nProvider overrides:")

	if len(cfg.Providers) == 0 {
		fmt.Println("  (none — every provider uses its default binary name)")
	}

	for name, override := range cfg.Providers {
		fmt.Printf("  - %s\n", name)
		fmt.Printf("    Binary: %s\n", cfg.BinaryFor(name))

		if len(override.ModelAliases) > 0 {
			fmt.Printf("    Model aliases: %v\n", override.ModelAliases)
		}
	}

	fmt.Println("\nEnvironment passthrough:")
	fmt.Printf("  %v\n", cfg.EnvPassthrough)

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return errors.New("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var validationErrors []string

	for name := range cfg.Providers {
		if !isSupportedProvider(name) {
			validationErrors = append(validationErrors, fmt.Sprintf("provider %q: not one of %s", name, strings.Join(supportedProviders, ", ")))
		}
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		validationErrors = append(validationErrors, fmt.Sprintf("port %d is out of range", cfg.Port))
	}

	if len(validationErrors) > 0 {
		color.Red("Configuration validation failed:")

		for _, err := range validationErrors {
			fmt.Printf("  - %s\n", err)
		}

		return errors.New("configuration validation failed")
	}

	color.Green("Configuration is valid!")

	return nil
}

func runConfigGenerate(cmd *cobra.Command, _ []string) error {
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if cfgMgr.Exists() && !force {
		configType := "JSON"
		if cfgMgr.HasYAML() {
			configType = "YAML"
		}

		color.Yellow("Configuration file already exists (%s format): %s", configType, cfgMgr.GetPath())
		color.Cyan("Use --force to overwrite, or 'agentcore config show' to view current config")

		return nil
	}

	if err := cfgMgr.CreateExampleYAML(); err != nil {
		return fmt.Errorf("failed to create example configuration: %w", err)
	}

	color.Green("Example YAML configuration created: %s", cfgMgr.GetYAMLPath())
	color.Cyan("\nNext steps:")
	fmt.Println("1. Edit the configuration file to set binary path overrides or model aliases")
	fmt.Println("2. Run 'agentcore config validate' to check your configuration")
	fmt.Println("3. Start the core with 'agentcore start'")

	color.Yellow("\nNote: the example covers all 4 subprocess-based providers:")
	fmt.Println("- Cursor Agent (cursor-agent)")
	fmt.Println("- Codex (codex)")
	fmt.Println("- Qwen Code (qwen)")
	fmt.Println("- Gemini CLI (gemini)")
	color.Cyan("Claude Code runs in-process via an SDK boundary a host application supplies; it has no binary override.")

	return nil
}

func isSupportedProvider(name string) bool {
	for _, p := range supportedProviders {
		if p == name {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
