package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/authstress/internal/logging"
	"github.com/wesleyorama2/authstress/internal/mockauth"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Serve an in-memory authentication service to run against",
	Long: `Serve the reference register/login service on --addr. Users live in
memory and are lost on exit.

  authstress mock --addr :3000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		cost, _ := cmd.Flags().GetInt("bcrypt-cost")
		latency, _ := cmd.Flags().GetDuration("latency")
		level, _ := cmd.Flags().GetString("log-level")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")

		log, err := logging.New(logging.Options{Level: level, JSON: jsonLogs, Output: cmd.ErrOrStderr()})
		if err != nil {
			return err
		}

		srv, err := mockauth.New(
			mockauth.WithBcryptCost(cost),
			mockauth.WithLatency(latency),
			mockauth.WithLogger(log),
		)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	mockCmd.Flags().String("addr", ":3000", "Listen address")
	mockCmd.Flags().Int("bcrypt-cost", 4, "Password hashing cost (4-31)")
	mockCmd.Flags().Duration("latency", 0, "Fixed delay added to every auth response")
	mockCmd.Flags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	mockCmd.Flags().Bool("log-json", false, "Log as JSON")
}
