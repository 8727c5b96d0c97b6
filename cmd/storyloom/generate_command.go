package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"storyloom/internal/assets"
	"storyloom/internal/config"
	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/metrics"
	"storyloom/internal/notifications"
	"storyloom/internal/pipeline"
	"storyloom/internal/progress"
)

type generateOptions struct {
	description string
	imagePath   string
	lesson      string
	language    string
	combine     bool
	json        bool
}

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a story episode from a description or drawing",
		Long: "Requests a production plan, renders the character model and keyframes, " +
			"animates every clip and optionally joins the clips into one video. " +
			"Progress and assets are recorded in the local database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runGenerate(signalCtx, cmd, ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.description, "description", "d", "", "Story idea in plain words")
	cmd.Flags().StringVarP(&opts.imagePath, "image", "i", "", "Path to a drawing of the hero")
	cmd.Flags().StringVarP(&opts.lesson, "lesson", "l", "", "Lesson the story should teach")
	cmd.Flags().StringVar(&opts.language, "language", "", "Story language (name or code)")
	cmd.Flags().BoolVar(&opts.combine, "combine", false, "Join the clips into a single video when generation completes")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the run summary as JSON")
	return cmd
}

func runGenerate(ctx context.Context, cmd *cobra.Command, cc *commandContext, opts generateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	logger := cc.loggerValue()

	in, err := buildInput(opts)
	if err != nil {
		return err
	}
	if _, err := in.Validate(cfg.Pipeline.DefaultLanguage); err != nil {
		return err
	}

	store, err := cc.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	backends, err := cc.backend(ctx)
	if err != nil {
		return err
	}
	defer backends.Close()

	concatenator, err := cc.concatenator()
	if err != nil {
		return err
	}

	recorderOpts := []assets.RecorderOption{assets.WithRecorderLogger(logger)}
	if opts.combine {
		mirror, err := assets.MirrorFromConfig(ctx, cfg, logger)
		if err != nil {
			logging.WarnWithContext(logger, "gcs mirror unavailable", "mirror_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the combined video stays on local disk only"),
			)
		} else if mirror != nil {
			defer mirror.Close()
			recorderOpts = append(recorderOpts, assets.WithMirror(mirror))
		}
	}
	recorder := assets.NewRecorder(store, recorderOpts...)

	runID := uuid.NewString()
	reporterOpts := []progress.Option{
		progress.WithRunID(runID),
		progress.WithSink(recorder),
		progress.WithLogger(logger),
	}
	if !opts.json {
		reporterOpts = append(reporterOpts, progress.WithSink(progressPrinter(cmd.ErrOrStderr())))
	}
	if sink := natsSink(cfg, logger); sink != nil {
		defer sink.Close()
		reporterOpts = append(reporterOpts, progress.WithSink(sink))
	}
	reporter := progress.NewReporter(reporterOpts...)
	defer reporter.Close()

	runOpts := append(pipeline.ConfigOptions(cfg),
		pipeline.WithRunID(runID),
		pipeline.WithLogger(logger),
		pipeline.WithReporter(reporter),
		pipeline.WithConcatenator(concatenator),
		pipeline.WithObserver(recorder),
		pipeline.WithObserver(notifications.NewObserver(notifications.NewService(cfg), logger)),
		pipeline.WithObserver(metrics.New()),
	)
	runOpts = append(runOpts, cc.runOptions...)
	orch := pipeline.New(backends.Backend, runOpts...)

	_, runErr := orch.Run(ctx, in)
	if runErr == nil && opts.combine {
		_, runErr = orch.Combine(ctx)
	}

	snap := orch.Snapshot()
	if opts.json {
		if err := writeJSON(cmd, summarizeRun(snap)); err != nil {
			return err
		}
	} else {
		printRunSummary(cmd.OutOrStdout(), snap)
	}
	return runErr
}

func buildInput(opts generateOptions) (pipeline.Input, error) {
	in := pipeline.Input{
		Description: strings.TrimSpace(opts.description),
		Lesson:      strings.TrimSpace(opts.lesson),
		Language:    strings.TrimSpace(opts.language),
	}
	path := strings.TrimSpace(opts.imagePath)
	if path == "" {
		return in, nil
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return in, fmt.Errorf("resolve image path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return in, fmt.Errorf("read image: %w", err)
	}
	image := generation.NewImage(data, "")
	in.Image = &image
	return in, nil
}

func progressPrinter(w io.Writer) progress.Sink {
	return progress.SinkFunc(func(u progress.Update) error {
		if u.Message == "" {
			return nil
		}
		_, err := fmt.Fprintf(w, "» %s\n", u.Message)
		return err
	})
}

// runSummary is the machine-readable result of a generate run.
type runSummary struct {
	RunID     string   `json:"runId"`
	State     string   `json:"state"`
	Stage     string   `json:"stage,omitempty"`
	Index     int      `json:"index,omitempty"`
	Error     string   `json:"error,omitempty"`
	Hero      string   `json:"hero,omitempty"`
	Keyframes int      `json:"keyframes"`
	Clips     []string `json:"clips"`
	Final     string   `json:"final,omitempty"`
}

func summarizeRun(snap pipeline.Snapshot) runSummary {
	summary := runSummary{
		RunID: snap.RunID,
		State: string(snap.Status.State),
		Stage: string(snap.Status.Stage),
		Index: snap.Status.Index,
		Error: snap.Status.Reason,
		Clips: snap.ClipURIs(),
	}
	summary.Keyframes, _ = snap.Filled()
	if snap.Plan != nil {
		summary.Hero = snap.Plan.StoryAnalysis.Hero
	}
	if snap.Final != nil {
		summary.Final = snap.Final.Location
	}
	return summary
}

func printRunSummary(w io.Writer, snap pipeline.Snapshot) {
	summary := summarizeRun(snap)
	fmt.Fprintf(w, "Run:    %s\n", summary.RunID)
	fmt.Fprintf(w, "Status: %s\n", snap.Status)
	if summary.Hero != "" {
		fmt.Fprintf(w, "Hero:   %s\n", summary.Hero)
	}

	rows := make([][]string, 0, 1+len(snap.Keyframes)+len(snap.Clips))
	rows = append(rows, []string{"character model", "", slotState(snap.CharacterModel != nil), ""})
	for i, kf := range snap.Keyframes {
		rows = append(rows, []string{"keyframe", strconv.Itoa(i + 1), slotState(kf != nil), ""})
	}
	for i, clip := range snap.Clips {
		location := ""
		if clip != nil {
			location = clip.URI
		}
		rows = append(rows, []string{"clip", strconv.Itoa(i + 1), slotState(clip != nil), location})
	}
	if snap.Final != nil {
		rows = append(rows, []string{"final video", "", "ready", snap.Final.Location})
	}
	fmt.Fprintln(w, renderTable([]column{
		{header: "Slot"},
		{header: "#", right: true},
		{header: "State"},
		{header: "Location"},
	}, rows))
}

func slotState(filled bool) string {
	if filled {
		return "ready"
	}
	return "empty"
}
