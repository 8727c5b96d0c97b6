package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"storyloom/internal/config"
	"storyloom/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check directories, tools, the backend and integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			checkCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			var health preflight.HealthChecker
			if !offline && cfg.RequireBackendKey() == nil {
				backends, err := ctx.backend(checkCtx)
				if err != nil {
					return err
				}
				defer backends.Close()
				health = backends.Health
			}
			results := preflight.RunAll(checkCtx, cfg, health)

			lines := renderSectionHeader("Storyloom", colorize)
			lines = append(lines, serverStatusLine(cfg, colorize))
			lines = append(lines, resultLines(results, colorize)...)
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Integrations", colorize)...)
			lines = append(lines, resultLines(preflight.Integrations(cfg), colorize)...)
			fmt.Fprintln(out, strings.Join(lines, "\n"))

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d required check(s) failed", len(failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the backend connectivity check")
	return cmd
}

// serverStatusLine probes the server instance lock without holding it.
func serverStatusLine(cfg *config.Config, colorize bool) string {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return renderStatusLine("Server", statusWarn, fmt.Sprintf("Unknown (%v)", err), colorize)
	}
	if !ok {
		return renderStatusLine("Server", statusOK, "Running on "+cfg.Server.Listen, colorize)
	}
	_ = lock.Unlock()
	return renderStatusLine("Server", statusInfo, "Not running", colorize)
}
