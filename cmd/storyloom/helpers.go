package main

import (
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"storyloom/internal/config"
	"storyloom/internal/logging"
	"storyloom/internal/progress"
)

// natsSink dials the configured progress subject. Failures only cost the
// event stream, so they are logged and nil is returned.
func natsSink(cfg *config.Config, logger *slog.Logger) *progress.NATSSink {
	sink, err := progress.SinkFromConfig(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "nats progress sink unavailable", "nats_unavailable",
			logging.String("url", cfg.Events.NatsURL),
			logging.Error(err),
			logging.String(logging.FieldImpact, "progress updates are not published"),
		)
		return nil
	}
	return sink
}

// writeJSON prints v as indented JSON on stdout. HTML escaping is off so
// video URLs and prompts keep their literal & and < characters.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
