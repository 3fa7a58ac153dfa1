package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reminder sweep and exit",
		Long: `Run one reminder sweep and exit.

Useful from cron when serve runs with --no-reminders. The report is
printed as JSON; query failures exit non-zero after printing it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := Build(rootOpts.Config())
			if err != nil {
				return err
			}
			defer app.Close()

			rep, sweepErr := app.Reminders.Sweep(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			return sweepErr
		},
	}
}
