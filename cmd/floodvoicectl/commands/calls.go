package commands

import (
	"net/http"

	"github.com/spf13/cobra"
)

func newAnalyzeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <call-log-id>",
		Short: "Re-run classification for a recorded call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodPost, "/api/v1/calls/"+escape(args[0])+"/analyze", nil)
		},
	}
}

func newCallCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "call <call-log-id>",
		Short: "Show a call log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodGet, "/api/v1/calls/"+escape(args[0]), nil)
		},
	}
}

func newFloodCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "flood-check",
		Short: "Run the flood monitor once",
		Long:  `Poll the flood sensor and broadcast a warning to liaisons if the threshold is crossed.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, opts, http.MethodGet, "/api/v1/cron/flood-monitor", nil)
		},
	}
}
