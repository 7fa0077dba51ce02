package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/auth"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage provider credentials",
	Long: `Credentials live in keys.json next to the config, with
owner-only permissions, so provider configs stay shareable.`,
}

var keysSetCmd = &cobra.Command{
	Use:   "set <provider> <api-key>",
	Short: "Store an API key for a provider",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := keyStore.Set(args[0], auth.APIKeyBearer(args[1])); err != nil {
			return err
		}

		color.Green("Stored API key for %q", args[0])

		return nil
	},
}

var keysSetHeaderCmd = &cobra.Command{
	Use:   "set-header <provider> <header> <value>",
	Short: "Store a custom auth header for a provider",
	Long: `Store a custom header such as x-api-key. Custom headers replace
the default Authorization bearer header entirely.`,
	Args: cobra.ExactArgs(3),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := keyStore.SetHeader(args[0], args[1], args[2]); err != nil {
			return err
		}

		color.Green("Stored header %q for %q", args[1], args[0])

		return nil
	},
}

var keysSetServiceAccountCmd = &cobra.Command{
	Use:   "set-service-account <provider> <key-file.json>",
	Short: "Store a service account key for a provider",
	Long: `Store a service account JSON key. At request time it is
exchanged for a short-lived access token via the JWT-bearer grant.`,
	Args: cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read key file: %w", err)
		}

		if err := keyStore.Set(args[0], auth.ServiceAccount(string(data))); err != nil {
			return err
		}

		color.Green("Stored service account for %q", args[0])

		return nil
	},
}

var keysRemoveCmd = &cobra.Command{
	Use:   "remove <provider>",
	Short: "Delete a provider's credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		removed, err := keyStore.Remove(args[0])
		if err != nil {
			return err
		}

		if !removed {
			return fmt.Errorf("no credential stored for %q", args[0])
		}

		color.Green("Removed credential for %q", args[0])

		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers with stored credentials",
	RunE: func(_ *cobra.Command, _ []string) error {
		names := keyStore.Providers()
		if len(names) == 0 {
			fmt.Println("No credentials stored.")
			return nil
		}

		sort.Strings(names)

		for _, name := range names {
			cred, _ := keyStore.Credential(name)
			fmt.Printf("%s\t%s\n", name, cred.Kind)
		}

		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysSetCmd)
	keysCmd.AddCommand(keysSetHeaderCmd)
	keysCmd.AddCommand(keysSetServiceAccountCmd)
	keysCmd.AddCommand(keysRemoveCmd)
	keysCmd.AddCommand(keysListCmd)
}
