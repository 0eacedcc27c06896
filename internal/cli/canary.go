package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/safeguard/internal/canary"
)

// CanaryRunOptions holds flags for canary run.
type CanaryRunOptions struct {
	*RootOptions
	Plan        string
	MetricsURL  string
	MetricsFile string
	TrafficURL  string
	Report      string
	NoAudit     bool
}

// NewCanaryCommand creates the canary command group.
func NewCanaryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canary",
		Short: "Staged rollout control",
	}
	cmd.AddCommand(newCanaryRunCommand(rootOpts))
	cmd.AddCommand(newCanaryValidateCommand(rootOpts))
	return cmd
}

func newCanaryRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CanaryRunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a rollout plan and write its report",
		Long: `Walk the phases of a rollout plan, shifting traffic and evaluating
metrics after each phase. The run ends promoted, aborted, SLO-failed or
promotion-blocked; the report is written in every case.

Exit status is 0 only when the candidate was promoted.

Example:
  safeguard canary run --plan plan.json --metrics-url http://metrics/canary --traffic-url http://lb/split
  safeguard canary run --plan plan.json --metrics-file samples.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanary(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Plan, "plan", "p", "", "rollout plan (JSON, CUE-validated)")
	cmd.Flags().StringVar(&opts.MetricsURL, "metrics-url", "", "endpoint returning a metrics snapshot per phase")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "JSON array of snapshots, one per sample")
	cmd.Flags().StringVar(&opts.TrafficURL, "traffic-url", "", "endpoint accepting {\"split\": F}; splits are only logged when empty")
	cmd.Flags().StringVarP(&opts.Report, "report", "o", "", "report path (overrides the plan and canary.report_path)")
	cmd.Flags().BoolVar(&opts.NoAudit, "no-audit", false, "skip writing audit entries to the store")
	_ = cmd.MarkFlagRequired("plan")
	cmd.MarkFlagsOneRequired("metrics-url", "metrics-file")
	cmd.MarkFlagsMutuallyExclusive("metrics-url", "metrics-file")

	return cmd
}

func runCanary(cmd *cobra.Command, opts *CanaryRunOptions) error {
	out := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cmd.ErrOrStderr())

	plan, err := canary.LoadPlan(opts.Plan)
	if err != nil {
		_ = out.Error("INVALID_PLAN", err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid plan", err)
	}

	client := &http.Client{Timeout: cfg.Canary.FetchTimeout}
	var source canary.MetricsSource
	if opts.MetricsFile != "" {
		source, err = canary.LoadScriptedSource(opts.MetricsFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load metrics", err)
		}
	} else {
		source = canary.HTTPSource{URL: opts.MetricsURL, Client: client}
	}
	var traffic canary.TrafficController = &canary.LogTraffic{Logger: logger}
	if opts.TrafficURL != "" {
		traffic = canary.HTTPTraffic{URL: opts.TrafficURL, Client: client}
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	// An interrupt aborts the run through the controller so the split is
	// reset and the report still gets written.
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	copts := []canary.Option{canary.WithLogger(logger), canary.WithFetchTimeout(cfg.Canary.FetchTimeout)}
	if opts.clock != nil {
		copts = append(copts, canary.WithClock(opts.clock))
	}
	if !opts.NoAudit {
		a, err := openAuditApp(ctx, cfg, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open audit trail", err)
		}
		defer a.Close(context.Background())
		copts = append(copts, canary.WithRecorder(a.recorder))
	}

	report := canary.NewController(source, traffic, copts...).Run(ctx, plan)

	path := firstNonEmpty(opts.Report, cfg.Canary.ReportPath, plan.ReportPath)
	if err := canary.WriteReport(path, report); err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}
	out.VerboseLog("report written to %s", path)

	lines := []string{
		fmt.Sprintf("Canary %s: %s", report.Plan, report.Outcome),
		fmt.Sprintf("  phases: %d/%d completed, holds: %d, final split: %g",
			report.Summary.PhasesCompleted, report.Summary.PhasesPlanned, report.Summary.Holds, report.Summary.FinalSplit),
	}
	if report.Reason != "" {
		lines = append(lines, "  reason: "+report.Reason)
	}
	lines = append(lines, "  report: "+path)
	if err := out.Success(report, lines...); err != nil {
		return err
	}

	if !report.Outcome.Success() {
		return NewExitError(ExitFailure, fmt.Sprintf("canary %s: %s", report.Outcome, report.Reason))
	}
	return nil
}

func newCanaryValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan>",
		Short: "Check a rollout plan against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			plan, err := canary.LoadPlan(args[0])
			if err != nil {
				_ = out.Error("INVALID_PLAN", err.Error(), nil)
				return WrapExitError(ExitFailure, "invalid plan", err)
			}
			return out.Success(plan, fmt.Sprintf("Plan %s is valid: %d phases, maxHolds %d", plan.Name, len(plan.Phases), plan.MaxHolds))
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
