package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Idempotency ledger housekeeping",
	}
	cmd.AddCommand(newLedgerReapCommand(rootOpts))
	return cmd
}

func newLedgerReapCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete completed and failed records past retention",
		Long: `Run one reaper pass over the ledger and report how many records were
removed. Pending records are never reaped. The Redis backend relies on key
expiry and always reports zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			logger := rootOpts.logger(cmd.ErrOrStderr())

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := openParts(ctx, cfg, logger, (*app).openStore, (*app).openRecorder, (*app).openLedger)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open ledger", err)
			}
			defer a.Close(context.Background())

			n, err := a.reaper().ReapOnce(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "reap failed", err)
			}
			return out.Success(map[string]any{"reaped": n, "retention": cfg.Ledger.Retention.String()},
				fmt.Sprintf("Reaped %d record(s) older than %s", n, cfg.Ledger.Retention))
		},
	}
}
