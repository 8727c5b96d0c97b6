package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storyloom/internal/assets"
	"storyloom/internal/generation"
	"storyloom/internal/story"
)

func newPlansCommand(ctx *commandContext) *cobra.Command {
	plansCmd := &cobra.Command{
		Use:   "plans",
		Short: "Inspect stored story plans",
	}

	plansCmd.AddCommand(newPlansListCommand(ctx))
	plansCmd.AddCommand(newPlansShowCommand(ctx))
	plansCmd.AddCommand(newPlansAssetsCommand(ctx))
	plansCmd.AddCommand(newPlansDeleteCommand(ctx))

	return plansCmd
}

func newPlansListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored plans, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *assets.SQLiteStore) error {
				plans, err := store.ListPlans(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					if plans == nil {
						plans = []assets.PlanRecord{}
					}
					return writeJSON(cmd, plans)
				}
				out := cmd.OutOrStdout()
				if len(plans) == 0 {
					fmt.Fprintln(out, "No plans stored")
					return nil
				}
				rows := make([][]string, 0, len(plans))
				for _, rec := range plans {
					rows = append(rows, []string{
						rec.ID,
						rec.State,
						truncate(rec.Lesson, 32),
						rec.Language,
						rec.CreatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					{header: "ID"},
					{header: "State"},
					{header: "Lesson"},
					{header: "Language"},
					{header: "Created"},
				}, rows))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of plans to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print plans as JSON")
	return cmd
}

type planDetail struct {
	*assets.PlanRecord
	Plan any `json:"plan,omitempty"`
}

func newPlansShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a stored plan and its run state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *assets.SQLiteStore) error {
				rec, err := store.GetPlan(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				plan, err := rec.Plan()
				if err != nil {
					return fmt.Errorf("decode stored plan: %w", err)
				}
				if asJSON {
					detail := planDetail{PlanRecord: rec}
					if plan != nil {
						detail.Plan = plan
					}
					return writeJSON(cmd, detail)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Plan:        %s\n", rec.ID)
				fmt.Fprintf(out, "State:       %s\n", describeState(rec))
				if rec.ProgressMessage != "" {
					fmt.Fprintf(out, "Progress:    %s\n", rec.ProgressMessage)
				}
				if rec.Description != "" {
					fmt.Fprintf(out, "Description: %s\n", rec.Description)
				}
				fmt.Fprintf(out, "Lesson:      %s\n", rec.Lesson)
				fmt.Fprintf(out, "Language:    %s\n", rec.Language)
				fmt.Fprintf(out, "Drawing:     %s\n", yesNo(rec.HasImage))
				if plan == nil {
					fmt.Fprintln(out, "No plan has been generated yet")
					return nil
				}
				fmt.Fprintf(out, "Hero:        %s\n", plan.StoryAnalysis.Hero)
				if plan.StoryAnalysis.Villain != "" {
					fmt.Fprintf(out, "Villain:     %s\n", plan.StoryAnalysis.Villain)
				}
				fmt.Fprintln(out)
				printScenes(out, plan.Scenes())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	return cmd
}

func describeState(rec *assets.PlanRecord) string {
	state := rec.State
	if rec.Stage != "" {
		state += " (" + rec.Stage + ")"
	}
	if rec.ErrorMessage != "" {
		state += ": " + rec.ErrorMessage
	}
	return state
}

func newPlansAssetsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "assets <plan-id>",
		Short: "List the generated assets of a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *assets.SQLiteStore) error {
				id := strings.TrimSpace(args[0])
				if _, err := store.GetPlan(cmd.Context(), id); err != nil {
					return err
				}
				list, err := store.ListAssets(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					if list == nil {
						list = []assets.Asset{}
					}
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No assets recorded")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, asset := range list {
					index := ""
					if asset.Index > 0 {
						index = strconv.Itoa(asset.Index)
					}
					detail := describeURI(asset.URI)
					if asset.Status == assets.StatusFailed {
						detail = asset.ErrorMessage
					}
					rows = append(rows, []string{string(asset.Type), index, string(asset.Status), detail})
				}
				fmt.Fprintln(out, renderTable([]column{
					{header: "Type"},
					{header: "#", right: true},
					{header: "Status"},
					{header: "Location"},
				}, rows))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print assets as JSON")
	return cmd
}

func newPlansDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <plan-id>",
		Short: "Delete a plan with its assets and chat sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *assets.SQLiteStore) error {
				id := strings.TrimSpace(args[0])
				if err := deletePlan(cmd.Context(), store, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted plan %s\n", id)
				return nil
			})
		},
	}
}

func deletePlan(ctx context.Context, store assets.Store, id string) error {
	if _, err := store.GetPlan(ctx, id); err != nil {
		return err
	}
	return store.DeletePlan(ctx, id)
}

func printScenes(w io.Writer, scenes []story.Scene) {
	rows := make([][]string, 0, len(scenes))
	for _, scene := range scenes {
		rows = append(rows, []string{strconv.Itoa(scene.Scene), scene.Title, scene.Dialog})
	}
	fmt.Fprintln(w, renderTable([]column{
		{header: "Scene", right: true},
		{header: "Title", maxWidth: 30},
		{header: "Dialog", maxWidth: 60},
	}, rows))
}

// describeURI keeps inline images out of terminal output.
func describeURI(uri string) string {
	if !strings.HasPrefix(uri, "data:") {
		return uri
	}
	data, mime, err := generation.DecodeDataURI(uri)
	if err != nil {
		return "inline data"
	}
	return fmt.Sprintf("inline %s (%d KB)", mime, (len(data)+1023)/1024)
}

func truncate(value string, limit int) string {
	runes := []rune(strings.TrimSpace(value))
	if limit <= 0 || len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit-1]) + "…"
}
