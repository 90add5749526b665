package commands

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newSimulateCmd(opts *options) *cobra.Command {
	var (
		residentID string
		transcript string
		file       string
		summary    string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Classify a transcript as if a call had just ended",
		Long: `Record a synthetic call for a resident and classify it synchronously.
The transcript is taken from --transcript, from --file, or from stdin when
--file is "-".

Examples:
  floodvoicectl simulate --resident res-42 --transcript "water is coming in, please help"
  floodvoicectl simulate --resident res-42 --file call.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text := transcript
			if file != "" {
				b, err := readInput(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				text = string(b)
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("a transcript is required (--transcript or --file)")
			}
			body := map[string]string{"residentId": residentID, "transcript": text}
			if summary != "" {
				body["summary"] = summary
			}
			return call(cmd, opts, http.MethodPost, "/api/v1/calls/simulate", body)
		},
	}

	cmd.Flags().StringVar(&residentID, "resident", "", "resident id the call belongs to")
	cmd.Flags().StringVar(&transcript, "transcript", "", "transcript text")
	cmd.Flags().StringVar(&file, "file", "", `read the transcript from a file ("-" for stdin)`)
	cmd.Flags().StringVar(&summary, "summary", "", "optional call summary")
	_ = cmd.MarkFlagRequired("resident")
	cmd.MarkFlagsMutuallyExclusive("transcript", "file")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(path) //nolint:gosec // operator-provided path
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return b, nil
}
