// Package cli implements the authstress command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// ErrRunFailed is returned when a run finished but did not pass. The
// summary has already been printed, so Execute does not print it again.
var ErrRunFailed = errors.New("run failed")

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "authstress",
	Short:   "Synthetic load generator for register/login authentication services",
	Version: version,
	Long: `authstress drives a register and login API with concurrent virtual users,
validates every response against the service's contract and reports
latency, check pass rates and threshold results.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	err := RootCmd.Execute()
	if err != nil && !errors.Is(err, ErrRunFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(mockCmd)
}
