package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"storyloom/internal/assets"
	"storyloom/internal/companion"
)

func newChatCommand(ctx *commandContext) *cobra.Command {
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk with the hero of a story",
	}

	chatCmd.AddCommand(newChatSendCommand(ctx))
	chatCmd.AddCommand(newChatHistoryCommand(ctx))

	return chatCmd
}

type chatReply struct {
	SessionID string `json:"sessionId"`
	PlanID    string `json:"planId"`
	Text      string `json:"text"`
}

func newChatSendCommand(ctx *commandContext) *cobra.Command {
	var planID string
	var sessionID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "send <message>...",
		Short: "Send a message to a companion session",
		Long: "Starts a new session with the hero of --plan, or continues --session. " +
			"Sessions are stored, so a conversation can be resumed later.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planID = strings.TrimSpace(planID)
			sessionID = strings.TrimSpace(sessionID)
			if planID == "" && sessionID == "" {
				return errors.New("either --plan or --session is required")
			}

			return ctx.withStore(func(store *assets.SQLiteStore) error {
				backends, err := ctx.backend(cmd.Context())
				if err != nil {
					return err
				}
				defer backends.Close()

				registry := companion.NewRegistry(store, store, backends.Chatter, ctx.loggerValue())
				if sessionID == "" {
					session, err := registry.Create(cmd.Context(), planID)
					if err != nil {
						return err
					}
					sessionID = session.ID
				}

				reply, err := registry.Send(cmd.Context(), sessionID, strings.Join(args, " "))
				if err != nil {
					return err
				}
				session, _, err := registry.History(cmd.Context(), reply.SessionID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, chatReply{SessionID: reply.SessionID, PlanID: session.PlanID, Text: reply.Text})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, reply.Text)
				fmt.Fprintf(out, "\n(session %s; continue with --session %s)\n", reply.SessionID, reply.SessionID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&planID, "plan", "p", "", "Plan whose hero starts a new session")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Existing session to continue")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the reply as JSON")
	return cmd
}

func newChatHistoryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *assets.SQLiteStore) error {
				id := strings.TrimSpace(args[0])
				session, err := store.GetChatSession(cmd.Context(), id)
				if err != nil {
					return err
				}
				messages, err := store.ListChatMessages(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					if messages == nil {
						messages = []assets.ChatMessage{}
					}
					return writeJSON(cmd, struct {
						Session  *assets.ChatSession  `json:"session"`
						Messages []assets.ChatMessage `json:"messages"`
					}{session, messages})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s (plan %s)\n", session.ID, session.PlanID)
				for _, msg := range messages {
					fmt.Fprintf(out, "%-5s %s\n", msg.Role+":", msg.Text)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the history as JSON")
	return cmd
}
