package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/activation"
	"github.com/xraph/redeem/extension"
	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/messaging"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reconciliation scheduler",
		Long: `Run the webhook endpoint, the status and admin routes, and the
reconciliation scheduler until SIGINT or SIGTERM.

The standalone binary talks to an in-memory payment gateway and logs
customer messages. Embed the extension package to plug in real adapters.

Examples:
  redeemd serve --config redeem.yaml
  redeemd serve --store bolt --bolt-path /var/lib/redeem/redeem.db --addr :9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fc, err := loadConfig(flags, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), fc, newLogger(flags.logLevel))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8080)")
	return cmd
}

func runServe(parent context.Context, fc fileConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(fc.Redeem, logger)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		_ = eng.Stop()
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:              fc.Addr,
		Handler:           extension.Routes(eng, fc.Redeem),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening",
			"addr", fc.Addr,
			"base_path", fc.Redeem.BasePath,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	serveErr := g.Wait()
	if err := eng.Stop(); err != nil {
		logger.Error("engine stop failed", "error", err)
	}
	return serveErr
}

// newEngine wires the engine with the configured store and the standalone
// adapters.
func newEngine(cfg extension.Config, logger *slog.Logger) (*redeem.Engine, error) {
	s, err := extension.OpenStore(cfg, nil)
	if err != nil {
		return nil, err
	}

	providers := activation.NewRegistry(map[string]activation.Provider{
		"echo": echoProvider(),
	})

	opts := append(cfg.EngineOptions(),
		redeem.WithLogger(logger),
		redeem.WithChannel(messaging.NewLog(logger)),
	)
	return redeem.New(s, gateway.NewFake(), providers, opts...), nil
}

// echoProvider activates by returning the payload it was given.
func echoProvider() activation.Provider {
	return activation.ProviderFunc(func(_ context.Context, req activation.Request) (*activation.Result, error) {
		return &activation.Result{Success: true, Data: "activated: " + req.Payload}, nil
	})
}
