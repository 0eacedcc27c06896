package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/safeguard/internal/httpapi"
	"github.com/roach88/safeguard/internal/risk"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// listening, when set, receives the bound address (for tests).
	listening chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the daily reset and ledger reaper",
		Long: `Start the safeguard HTTP server.

Opens the SQLite store (creating it if needed), restores persisted risk state
when risk.persist is set, and runs until SIGINT or SIGTERM. The daily loss
reset check and the idempotency record reaper run alongside the server.

Example:
  safeguard serve --config safeguard.yaml
  SAFEGUARD_ADMIN_TOKEN=s3cret safeguard serve --addr :9090 -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	logger := opts.logger(cmd.ErrOrStderr())

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	api := httpapi.New(httpapi.Deps{
		Gate:           a.gate,
		Executor:       risk.PaperExecutor{},
		ExecTimeout:    cfg.Risk.ExecTimeout,
		Ledger:         a.ledger,
		IdempotencyTTL: cfg.Ledger.TTL,
		Recorder:       a.recorder,
		AdminToken:     cfg.Server.AdminToken,
		Health:         a.store.Ping,
		Logger:         logger,
	})
	srv := &http.Server{
		Handler:      api.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	logger.Info("listening", "addr", ln.Addr().String())
	if opts.listening != nil {
		opts.listening <- ln.Addr().String()
	}
	if cfg.Server.AdminToken == "" {
		logger.Warn("admin token not set; circuit breaker close endpoint is disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.gate.RunDailyReset(gctx, cfg.Risk.ResetInterval) })
	g.Go(func() error { return a.reaper().Run(gctx, cfg.Ledger.ReapInterval) })

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped")
	return nil
}
