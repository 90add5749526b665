// Package commands implements the floodvoicectl subcommands. Each command is a
// thin wrapper over one operator endpoint of the FloodVoice server.
package commands

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envServerURL = "FLOODVOICE_SERVER_URL"
	envToken     = "FLOODVOICE_OPERATOR_TOKEN"

	defaultServerURL = "http://localhost:8080"
)

// options are shared by every subcommand through the root's persistent flags.
type options struct {
	serverURL string
	token     string
	timeout   time.Duration
	envFile   string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "floodvoicectl",
		Short: "Operate a FloodVoice server",
		Long: `floodvoicectl triggers wellness check-ins, replays transcripts and
adjusts resident status on a running FloodVoice server.

Connection settings come from flags, then the environment
(FLOODVOICE_SERVER_URL, FLOODVOICE_OPERATOR_TOKEN), then a .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.serverURL, "server", "", "FloodVoice base URL (default "+defaultServerURL+")")
	pf.StringVar(&opts.token, "token", "", "operator bearer token")
	pf.DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to read connection settings from")

	cmd.AddCommand(
		newTriggerCmd(opts),
		newSimulateCmd(opts),
		newAnalyzeCmd(opts),
		newCallCmd(opts),
		newResidentCmd(opts),
		newClearCmd(opts),
		newFloodCheckCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// resolve fills unset connection settings from the environment after loading
// the dotenv file. Variables already set in the process environment win over
// the file.
func (o *options) resolve(cmd *cobra.Command) error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if !cmd.Flags().Changed("server") {
		o.serverURL = os.Getenv(envServerURL)
	}
	if o.serverURL == "" {
		o.serverURL = defaultServerURL
	}
	if !cmd.Flags().Changed("token") {
		o.token = os.Getenv(envToken)
	}
	return nil
}
