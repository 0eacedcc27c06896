package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/safeguard/internal/model"
)

// AuditQueryOptions holds flags for audit query.
type AuditQueryOptions struct {
	*RootOptions
	Actor  string
	Action string
	Since  string
	Until  string
	Limit  int
}

// NewAuditCommand creates the audit command group.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit trail",
	}
	cmd.AddCommand(newAuditQueryCommand(rootOpts))
	return cmd
}

func newAuditQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditQueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List audit entries, oldest first",
		Long: `List audit entries matching every given filter.

--since and --until accept RFC3339 timestamps or a duration relative to now
(e.g. 2h). --since is inclusive, --until exclusive.

Example:
  safeguard audit query --action risk.breaker.close
  safeguard audit query --actor alice --since 24h --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditQuery(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "", "only entries by this actor")
	cmd.Flags().StringVar(&opts.Action, "action", "", "only entries with this action (e.g. ledger.claim)")
	cmd.Flags().StringVar(&opts.Since, "since", "", "lower time bound")
	cmd.Flags().StringVar(&opts.Until, "until", "", "upper time bound")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 100, "maximum entries to return")

	return cmd
}

func runAuditQuery(cmd *cobra.Command, opts *AuditQueryOptions) error {
	out := opts.formatter(cmd)
	now := time.Now()
	f := model.AuditFilter{Actor: opts.Actor, Action: opts.Action, Limit: opts.Limit}
	var err error
	if f.Since, err = parseTimeBound(opts.Since, now); err != nil {
		return WrapExitError(ExitCommandError, "invalid --since", err)
	}
	if f.Until, err = parseTimeBound(opts.Until, now); err != nil {
		return WrapExitError(ExitCommandError, "invalid --until", err)
	}
	if f.Limit <= 0 {
		return NewExitError(ExitCommandError, "--limit must be positive")
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openAuditApp(ctx, cfg, opts.logger(cmd.ErrOrStderr()))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open audit trail", err)
	}
	defer a.Close(context.Background())

	entries, err := a.recorder.Query(ctx, f)
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}

	lines := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		lines = append(lines, formatEntry(e))
	}
	lines = append(lines, fmt.Sprintf("%d entries", len(entries)))
	return out.Success(entries, lines...)
}

func formatEntry(e model.AuditEntry) string {
	status := "ok"
	if !e.Success {
		status = "FAIL"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-4s  %-8s  %-20s  %-16s  %s",
		e.Timestamp.UTC().Format(time.RFC3339), status, e.Actor, e.Action, e.SubjectID, e.Decision)
	if e.DiffHash != "" {
		fmt.Fprintf(&b, "  diff=%s", e.DiffHash)
	}
	return b.String()
}

// parseTimeBound accepts RFC3339 or a duration back from now.
func parseTimeBound(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor a duration", s)
	}
	return now.Add(-d), nil
}
