package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage model aliases",
	Long: `Aliases map a short name to a provider:model target. Targets
must name a configured provider directly; an alias can never point at
another alias.`,
}

var aliasSetCmd = &cobra.Command{
	Use:   "set <name> <provider:model>",
	Short: "Create or replace an alias",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := registry.SetAlias(args[0], args[1]); err != nil {
			return err
		}

		if err := saveConfig(); err != nil {
			return err
		}

		color.Green("%s -> %s", args[0], args[1])

		return nil
	},
}

var aliasRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete an alias",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := registry.RemoveAlias(args[0]); err != nil {
			return err
		}

		return saveConfig()
	},
}

var aliasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List aliases",
	RunE: func(_ *cobra.Command, _ []string) error {
		aliases := registry.Aliases()
		if len(aliases) == 0 {
			fmt.Println("No aliases configured.")
			return nil
		}

		names := make([]string, 0, len(aliases))
		for name := range aliases {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			fmt.Printf("%s\t%s\n", name, aliases[name])
		}

		return nil
	},
}

func init() {
	aliasCmd.AddCommand(aliasSetCmd)
	aliasCmd.AddCommand(aliasRemoveCmd)
	aliasCmd.AddCommand(aliasListCmd)
}
