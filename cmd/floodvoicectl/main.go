// Command floodvoicectl drives the FloodVoice operator API from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/linnemanlabs/floodvoice/cmd/floodvoicectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
