package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gptsh/gptsh/internal/llm"
	"github.com/gptsh/gptsh/internal/mcp"
	"github.com/gptsh/gptsh/internal/session"
	"github.com/gptsh/gptsh/internal/ui"
)

var (
	flagResume    bool
	flagSessionID string
)

func init() {
	chatCmd.Flags().BoolVar(&flagResume, "resume", false, "Resume the most recent session")
	chatCmd.Flags().StringVar(&flagSessionID, "session", "", "Resume a specific session by ID")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat session",
	Long: `Start an interactive chat. The conversation carries across turns
so the model keeps context, and every turn is persisted.

Commands inside the session:
  /tools                 list available tools
  /usage                 show token usage for this session
  /mcp enable <server>   start a configured MCP server
  /mcp disable <server>  stop a configured MCP server
  /exit                  leave (ctrl-d works too)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func runChat(ctx context.Context) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	conv := &llm.Conversation{}
	sess, err := rt.resumeOrCreate(ctx, conv)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "gptsh %s (%s, %s) - /exit to quit\n",
		Version, rt.cfg.Provider, rt.cfg.ModelFor(rt.cfg.Provider))

	// Server state changes from /mcp enable land asynchronously; print
	// them as they arrive so the user sees when tools become available.
	statusCh := make(chan mcp.StatusUpdate, 8)
	rt.manager.SetStatusChannel(statusCh)
	go func() {
		for update := range statusCh {
			if update.Error != nil {
				fmt.Fprintf(os.Stderr, "mcp: %s %s: %v\n", update.Name, update.Status, update.Error)
				continue
			}
			fmt.Fprintf(os.Stderr, "mcp: %s %s\n", update.Name, update.Status)
		}
	}()
	// The channel stays open: a server started moments before exit may
	// still deliver its final update, and closing would panic it.
	defer rt.manager.SetStatusChannel(nil)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := rt.chatCommand(ctx, line, conv); done {
				break
			}
			continue
		}

		if err := rt.chatTurn(ctx, conv, sess, line); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}

	if err := rt.store.UpdateStatus(ctx, sess.ID, session.StatusComplete); err == nil {
		_ = rt.store.ClearCurrent(ctx)
	}
	return scanner.Err()
}

// chatTurn runs one user turn and persists its messages. Turn errors
// are reported but keep the session alive.
func (r *runtime) chatTurn(ctx context.Context, conv *llm.Conversation, sess *session.Session, line string) error {
	turnCtx, cancel := turnContext(ctx)
	defer cancel()

	printer := ui.NewStreamPrinter(os.Stdout, r.plainOutput())
	result, err := r.engine.RunTurn(turnCtx, conv, llm.UserText(line), printer)
	printer.Done()
	fmt.Fprintln(os.Stdout)

	r.persistTurn(ctx, sess, result, err)
	return err
}

// chatCommand handles slash commands. Returns true when the session
// should end.
func (r *runtime) chatCommand(ctx context.Context, line string, conv *llm.Conversation) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit", "/q":
		return true
	case "/tools":
		for _, tool := range r.manager.Tools() {
			fmt.Printf("  %-30s %s\n", tool.Name, tool.Description)
		}
	case "/usage":
		fmt.Printf("  %s (%d requests)\n", conv.Totals.String(), conv.Totals.Requests)
	case "/mcp":
		r.mcpCommand(ctx, fields[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s (try /tools, /usage, /mcp, /exit)\n", fields[0])
	}
	return false
}

// mcpCommand toggles configured servers mid-session. Newly ready
// servers show up in the next round's tool list automatically.
func (r *runtime) mcpCommand(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: /mcp enable|disable <server>")
		return
	}
	switch args[0] {
	case "enable":
		if err := r.manager.Enable(ctx, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	case "disable":
		if err := r.manager.Disable(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: /mcp enable|disable <server>")
	}
}

// resumeOrCreate loads the requested session's messages into conv, or
// creates a fresh session when no resume was asked for.
func (r *runtime) resumeOrCreate(ctx context.Context, conv *llm.Conversation) (*session.Session, error) {
	var sess *session.Session
	var err error

	switch {
	case flagSessionID != "":
		sess, err = r.store.Get(ctx, flagSessionID)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, &configError{err: fmt.Errorf("unknown session: %s", flagSessionID)}
		}
	case flagResume:
		sess, err = r.store.GetCurrent(ctx)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, &configError{err: errors.New("no session to resume")}
		}
	default:
		cwd, _ := os.Getwd()
		sess = &session.Session{
			ID:       session.NewID(),
			Provider: r.cfg.Provider,
			Model:    r.cfg.ModelFor(r.cfg.Provider),
			CWD:      cwd,
			Status:   session.StatusActive,
		}
		if err := r.store.Create(ctx, sess); err != nil {
			fmt.Fprintf(os.Stderr, "warning: session persistence unavailable: %v\n", err)
		}
		_ = r.store.SetCurrent(ctx, sess.ID)
		return sess, nil
	}

	msgs, err := r.store.GetMessages(ctx, sess.ID, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		conv.Messages = append(conv.Messages, m.ToLLMMessage())
	}
	if err := r.store.UpdateStatus(ctx, sess.ID, session.StatusActive); err == nil {
		_ = r.store.SetCurrent(ctx, sess.ID)
	}
	fmt.Fprintf(os.Stderr, "resumed session %s (%d messages)\n", sess.ID[:8], len(msgs))
	return sess, nil
}
