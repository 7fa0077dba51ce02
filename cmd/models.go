package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List available models",
	Long: `List the models each provider advertises. Listings are cached
for 24 hours; use --refresh to force a fetch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().Bool("refresh", false, "ignore the cache and fetch fresh listings")
}

func runModels(cmd *cobra.Command, args []string) error {
	cl := newClient()
	cache := newModelCache(cl)

	providers := registry.ProviderNames()
	if len(args) == 1 {
		if !registry.Has(args[0]) {
			return fmt.Errorf("unknown provider %q", args[0])
		}

		providers = args[0:1]
	}

	refresh, _ := cmd.Flags().GetBool("refresh")

	heading := color.New(color.FgCyan, color.Bold)

	for _, name := range providers {
		if refresh {
			if err := cache.Invalidate(name); err != nil {
				return err
			}
		}

		models, err := cache.Models(cmd.Context(), name)
		if err != nil {
			color.Red("%s: %v", name, err)
			continue
		}

		heading.Printf("%s (%d models)\n", name, len(models))

		for _, m := range models {
			fmt.Printf("  %s:%s\n", name, m.ID)
		}
	}

	return nil
}
