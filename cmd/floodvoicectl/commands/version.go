package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	v "github.com/linnemanlabs/go-core/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// connection settings are not needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			v.AppName = "floodvoicectl"
			vi := v.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", vi.AppName, vi.Version)
			fmt.Fprintf(out, "Commit: %s (%s)\n", vi.Commit, vi.CommitDate)
			fmt.Fprintf(out, "Built:  %s with %s\n", vi.BuildDate, vi.GoVersion)
		},
	}
}
