package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"storyloom/internal/assets"
	"storyloom/internal/daemon"
	"storyloom/internal/logging"
	"storyloom/internal/metrics"
	"storyloom/internal/notifications"
	"storyloom/internal/preflight"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listen string
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listen = strings.TrimSpace(listen); listen != "" {
				cfg.Server.Listen = listen
			}
			return runServer(cmd, ctx, skipPreflight)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen)")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start without checking tools and the backend")
	return cmd
}

func runServer(cmd *cobra.Command, cc *commandContext, skipPreflight bool) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	logger := cc.loggerValue()

	backends, err := cc.backend(signalCtx)
	if err != nil {
		return err
	}
	defer backends.Close()

	if !skipPreflight {
		checkCtx, checkCancel := context.WithTimeout(signalCtx, 30*time.Second)
		results := preflight.RunAll(checkCtx, cfg, backends.Health)
		checkCancel()
		for _, r := range results {
			if r.Passed {
				logger.Info("preflight check passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
			}
		}
		if failed := preflight.Failed(results); len(failed) > 0 {
			names := make([]string, 0, len(failed))
			for _, r := range failed {
				logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
					logging.String("check", r.Name),
					logging.String("detail", r.Detail),
				)
				names = append(names, r.Name)
			}
			return fmt.Errorf("preflight failed: %s", strings.Join(names, ", "))
		}
	}

	store, err := cc.openStore()
	if err != nil {
		logger.Error("open asset store", logging.Error(err))
		return err
	}

	concatenator, err := cc.concatenator()
	if err != nil {
		store.Close()
		return err
	}

	deps := daemon.Dependencies{
		Store:    store,
		Backend:  backends.Backend,
		Chatter:  backends.Chatter,
		Concat:   concatenator,
		Notifier: notifications.NewService(cfg),
		Metrics:  metrics.New(),

		RunOptions: cc.runOptions,
	}
	mirror, err := assets.MirrorFromConfig(signalCtx, cfg, logger)
	if err != nil {
		logging.WarnWithContext(logger, "gcs mirror unavailable", "mirror_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "combined videos stay on local disk only"),
		)
	} else if mirror != nil {
		defer mirror.Close()
		deps.Mirror = mirror
	}
	if sink := natsSink(cfg, logger); sink != nil {
		defer sink.Close()
		deps.Sink = sink
	}

	d, err := daemon.New(cfg, logger, deps)
	if err != nil {
		store.Close()
		return fmt.Errorf("create server: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Storyloom API listening on %s\n", d.Status().Listen)

	<-signalCtx.Done()
	logger.Info("storyloom server shutting down")
	return nil
}
