package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gptsh/gptsh/internal/config"
	"github.com/gptsh/gptsh/internal/llm"
	"github.com/gptsh/gptsh/internal/session"
)

var flagSessionsLimit int

func init() {
	sessionsListCmd.Flags().IntVar(&flagSessionsLimit, "limit", 0, "Maximum sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored chat sessions",
}

func openStore() (session.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, &configError{err: err}
	}
	store, err := session.NewStore(cfg.Session)
	if err != nil {
		return nil, &configError{err: err}
	}
	return store, nil
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		summaries, err := store.List(cmd.Context(), session.ListOptions{Limit: flagSessionsLimit})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUPDATED\tSTATUS\tMSGS\tTOKENS\tSUMMARY")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				s.ID[:8], s.UpdatedAt.Format("2006-01-02 15:04"),
				s.Status, s.MessageCount, s.InputTokens+s.OutputTokens, s.Summary)
		}
		return w.Flush()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sess, err := resolveSession(cmd, store, args[0])
		if err != nil {
			return err
		}

		msgs, err := store.GetMessages(cmd.Context(), sess.ID, 0, 0)
		if err != nil {
			return err
		}

		fmt.Printf("session %s (%s, %s) - %d rounds, %d tool calls\n\n",
			sess.ID, sess.Provider, sess.Model, sess.LLMTurns, sess.ToolCalls)
		for _, m := range msgs {
			printMessage(m)
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a session and its messages",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sess, err := resolveSession(cmd, store, args[0])
		if err != nil {
			return err
		}
		return store.Delete(cmd.Context(), sess.ID)
	},
}

// resolveSession looks a session up by full ID or unique prefix.
func resolveSession(cmd *cobra.Command, store session.Store, id string) (*session.Session, error) {
	sess, err := store.Get(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	summaries, err := store.List(cmd.Context(), session.ListOptions{})
	if err != nil {
		return nil, err
	}
	var match *session.SessionSummary
	for i := range summaries {
		if len(id) >= 4 && len(summaries[i].ID) >= len(id) && summaries[i].ID[:len(id)] == id {
			if match != nil {
				return nil, fmt.Errorf("ambiguous session prefix: %s", id)
			}
			match = &summaries[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("unknown session: %s", id)
	}
	return store.Get(cmd.Context(), match.ID)
}

func printMessage(m session.Message) {
	switch m.Role {
	case llm.RoleUser:
		fmt.Printf("> %s\n\n", m.TextContent)
	case llm.RoleAssistant:
		if m.TextContent != "" {
			fmt.Printf("%s\n\n", m.TextContent)
		}
		for _, p := range m.Parts {
			if p.Type == llm.PartToolCall && p.ToolCall != nil {
				fmt.Printf("* called %s %s\n\n", p.ToolCall.Name, p.ToolCall.Arguments)
			}
		}
	case llm.RoleTool:
		for _, p := range m.Parts {
			if p.Type == llm.PartToolResult && p.ToolResult != nil {
				marker := "->"
				if p.ToolResult.IsError {
					marker = "!>"
				}
				fmt.Printf("%s %s\n\n", marker, p.ToolResult.Content)
			}
		}
	}
}
