package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage per provider and model",
	RunE:  runUsage,
}

func init() {
	usageCmd.Flags().Duration("since", 0, "only include usage within this window (e.g. 24h, 168h)")
}

func runUsage(cmd *cobra.Command, _ []string) error {
	rec, err := usage.Open(baseDir)
	if err != nil {
		return err
	}
	defer rec.Close()

	var since time.Time
	if window, _ := cmd.Flags().GetDuration("since"); window > 0 {
		since = time.Now().Add(-window)
	}

	rows, err := rec.Summary(cmd.Context(), since)
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		fmt.Println("No usage recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	color.New(color.Bold).Fprintln(w, "PROVIDER\tMODEL\tCALLS\tINPUT\tOUTPUT")

	var totalIn, totalOut int

	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", row.Provider, row.Model, row.Calls, row.InputTokens, row.OutputTokens)

		totalIn += row.InputTokens
		totalOut += row.OutputTokens
	}

	fmt.Fprintf(w, "\t\t\t%d\t%d\n", totalIn, totalOut)

	return w.Flush()
}
