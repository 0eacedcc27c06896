package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/safeguard/internal/stream"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Symbols          []string
	HeartbeatTimeout time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <ws-url>",
		Short: "Follow a market-data stream, reconnecting as needed",
		Long: `Subscribe to a WebSocket market-data feed and print ticks and sequence
gaps until interrupted. Lost connections are retried with exponential
backoff and resume from the last sequence seen.

Example:
  safeguard watch wss://feed.example/ws --symbols BTC-USD,ETH-USD`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringSliceVar(&opts.Symbols, "symbols", nil, "symbols to subscribe to")
	cmd.Flags().DurationVar(&opts.HeartbeatTimeout, "heartbeat-timeout", stream.DefaultHeartbeatTimeout, "silence before a connection counts as lost")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions, url string) error {
	out := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := stream.NewClient(stream.Config{
		URL:              url,
		Symbols:          opts.Symbols,
		HeartbeatTimeout: opts.HeartbeatTimeout,
	}, stream.WithLogger(logger))

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	ticks, gaps := client.Ticks(), client.Gaps()
	for ticks != nil || gaps != nil {
		select {
		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			_ = out.Success(t, fmt.Sprintf("%d %s %s", t.Seq, t.Symbol, t.Price))
		case g, ok := <-gaps:
			if !ok {
				gaps = nil
				continue
			}
			_ = out.Success(g, fmt.Sprintf("GAP %d..%d (%d missing)", g.First, g.Last, g.Missing()))
		}
	}
	if err := <-done; err != nil {
		return WrapExitError(ExitCommandError, "watch failed", err)
	}
	return nil
}
