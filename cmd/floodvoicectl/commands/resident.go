package commands

import (
	"net/http"

	"github.com/spf13/cobra"
)

func newResidentCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resident",
		Short: "Inspect and manage residents",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <resident-id>",
			Short: "Show a resident",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, opts, http.MethodGet, "/api/v1/residents/"+escape(args[0]), nil)
			},
		},
		&cobra.Command{
			Use:   "delete <resident-id>",
			Short: "Delete a resident and their call history",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, opts, http.MethodDelete, "/api/v1/residents/"+escape(args[0]), nil)
			},
		},
		&cobra.Command{
			Use:   "status <resident-id> <status>",
			Short: "Override a resident's status (pending, safe, distress, unresponsive)",
			Long: `Set a resident's status by hand, for example to clear a distress flag once
a liaison has reached them.

Example:
  floodvoicectl resident status res-42 safe`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				body := map[string]string{"status": args[1]}
				return call(cmd, opts, http.MethodPost, "/api/v1/residents/"+escape(args[0])+"/status", body)
			},
		},
	)
	return cmd
}

func newClearCmd(opts *options) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "clear <resident-id>",
		Short: "Clear a resident's distress flag",
		Long:  `Shorthand for "resident status <resident-id> safe" once a liaison has reached the resident.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"status": status}
			return call(cmd, opts, http.MethodPost, "/api/v1/residents/"+escape(args[0])+"/status", body)
		},
	}
	cmd.Flags().StringVar(&status, "status", "safe", "status to set")
	return cmd
}
