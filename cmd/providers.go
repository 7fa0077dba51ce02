package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/config"
)

var providersCmd = &cobra.Command{
	Use:     "providers",
	Aliases: []string{"provider"},
	Short:   "Manage provider configurations",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured providers",
	RunE: func(_ *cobra.Command, _ []string) error {
		names := registry.ProviderNames()
		if len(names) == 0 {
			fmt.Println("No providers configured. Add one with 'llmc providers add'.")
			return nil
		}

		defProvider, _ := registry.Defaults()

		for _, name := range names {
			p, err := registry.Provider(name)
			if err != nil {
				return err
			}

			marker := "  "
			if name == defProvider {
				marker = color.GreenString("* ")
			}

			fmt.Printf("%s%s\t%s\n", marker, p.Name, p.Endpoint)
		}

		return nil
	},
}

var providersAddCmd = &cobra.Command{
	Use:   "add <name> <endpoint>",
	Short: "Add a provider",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := config.ProviderConfig{Name: args[0], Endpoint: args[1]}

		p.ChatPath, _ = cmd.Flags().GetString("chat-path")
		p.ModelsPath, _ = cmd.Flags().GetString("models-path")
		p.TokenURL, _ = cmd.Flags().GetString("token-url")
		p.MaxConcurrent, _ = cmd.Flags().GetInt("max-concurrent")

		if err := registry.AddProvider(p); err != nil {
			return err
		}

		if err := saveConfig(); err != nil {
			return err
		}

		color.Green("Added provider %q", p.Name)

		return nil
	},
}

var providersUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := registry.Provider(args[0])
		if err != nil {
			return err
		}

		if endpoint, _ := cmd.Flags().GetString("endpoint"); endpoint != "" {
			p.Endpoint = endpoint
		}

		if path, _ := cmd.Flags().GetString("chat-path"); path != "" {
			p.ChatPath = path
		}

		if path, _ := cmd.Flags().GetString("models-path"); path != "" {
			p.ModelsPath = path
		}

		if tokenURL, _ := cmd.Flags().GetString("token-url"); tokenURL != "" {
			p.TokenURL = tokenURL
		}

		if n, _ := cmd.Flags().GetInt("max-concurrent"); n > 0 {
			p.MaxConcurrent = n
		}

		if err := registry.UpdateProvider(p); err != nil {
			return err
		}

		if err := saveConfig(); err != nil {
			return err
		}

		color.Green("Updated provider %q", p.Name)

		return nil
	},
}

var providersRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a provider and its aliases",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := registry.RemoveProvider(args[0]); err != nil {
			return err
		}

		if err := saveConfig(); err != nil {
			return err
		}

		color.Green("Removed provider %q", args[0])

		return nil
	},
}

var providersDefaultCmd = &cobra.Command{
	Use:   "default <name> [model]",
	Short: "Set the default provider and optionally the default model",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(_ *cobra.Command, args []string) error {
		if !registry.Has(args[0]) {
			return fmt.Errorf("unknown provider %q", args[0])
		}

		cfg := registry.Snapshot()
		cfg.DefaultProvider = args[0]

		if len(args) == 2 {
			cfg.DefaultModel = args[1]
		}

		return cfgMgr.Save(&cfg)
	},
}

func init() {
	for _, c := range []*cobra.Command{providersAddCmd, providersUpdateCmd} {
		c.Flags().String("chat-path", "", "chat completions path (supports {model} placeholders)")
		c.Flags().String("models-path", "", "model listing path")
		c.Flags().String("token-url", "", "token exchange URL for service account auth")
		c.Flags().Int("max-concurrent", 0, "max concurrent requests to this provider")
	}

	providersUpdateCmd.Flags().String("endpoint", "", "base endpoint URL")

	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersAddCmd)
	providersCmd.AddCommand(providersUpdateCmd)
	providersCmd.AddCommand(providersRemoveCmd)
	providersCmd.AddCommand(providersDefaultCmd)
}

func saveConfig() error {
	cfg := registry.Snapshot()
	return cfgMgr.Save(&cfg)
}
