package commands

import (
	"net/http"

	"github.com/spf13/cobra"
)

func newTriggerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger [resident-id]",
		Short: "Start wellness check-in calls",
		Long: `Start outbound check-in calls. With no argument every pending resident is
called; with a resident id only that resident is.

Examples:
  floodvoicectl trigger
  floodvoicectl trigger res-42`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{}
			if len(args) == 1 {
				body["residentId"] = args[0]
			}
			return call(cmd, opts, http.MethodPost, "/api/v1/checkins", body)
		},
	}
}
