// Package cmd wires the gptsh CLI: one-shot prompts, the interactive
// chat loop, and the mcp/sessions management commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gptsh/gptsh/internal/llm"
)

var Version = "dev"

// Exit codes, stable for scripting.
const (
	exitOK            = 0
	exitFailure       = 1
	exitEmptyResponse = 2
	exitRoundLimit    = 3
	exitToolDenied    = 4
	exitTimeout       = 124
	exitInterrupt     = 130
)

var (
	flagProvider string
	flagModel    string
	flagNoTools  bool
	flagNoStream bool
	flagYolo     bool
	flagPlain    bool
	flagTimeout  int
	flagDebug    bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagProvider, "provider", "", "LLM provider (openai, anthropic, openrouter, ollama, lmstudio, openai-compat)")
	pf.StringVar(&flagModel, "model", "", "Model override for the selected provider")
	pf.BoolVar(&flagNoTools, "no-tools", false, "Do not advertise tools to the model")
	pf.BoolVar(&flagNoStream, "no-stream", false, "Use non-streaming completions")
	pf.BoolVar(&flagYolo, "yolo", false, "Auto-approve every tool call (dangerous)")
	pf.BoolVar(&flagPlain, "plain", false, "Plain text output, no markdown rendering")
	pf.IntVar(&flagTimeout, "timeout", 0, "Abort the turn after this many seconds (0 = no limit)")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging to stderr")
}

var rootCmd = &cobra.Command{
	Use:   "gptsh [prompt]",
	Short: "Chat with an LLM that can call tools",
	Long: `gptsh sends a prompt to an LLM and lets the model call MCP tools
(builtin time and shell servers, plus anything in mcp.json) with
per-call approval.

Examples:
  gptsh "what time is it"
  gptsh --provider ollama "summarize this repo"
  gptsh chat                       # interactive session
  gptsh mcp list                   # show tool servers
  gptsh sessions list              # show stored sessions`,
	Args:              cobra.ArbitraryArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	Version:           Version,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		prompt := joinArgs(args)
		return runPrompt(cmd.Context(), prompt)
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setupLogging()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}
	code := exitCode(ctx, err)
	if code != exitInterrupt {
		fmt.Fprintf(os.Stderr, "gptsh: %v\n", err)
	}
	os.Exit(code)
}

// exitCode maps engine errors to stable exit codes. Interrupt beats
// timeout when both contexts are done.
func exitCode(ctx context.Context, err error) int {
	if errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled)) {
		return exitInterrupt
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return exitTimeout
	}

	if errors.Is(err, llm.ErrEmptyResponse) {
		return exitEmptyResponse
	}
	var limitErr *llm.RoundLimitError
	if errors.As(err, &limitErr) {
		return exitRoundLimit
	}
	var deniedErr *llm.RequiredToolDeniedError
	if errors.As(err, &deniedErr) {
		return exitToolDenied
	}
	return exitFailure
}

// configError marks failures that happen before any model request.
// Reported as a general failure but never persisted as a turn error.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

// turnContext applies the --timeout flag to the command context.
func turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if flagTimeout > 0 {
		return context.WithTimeout(ctx, time.Duration(flagTimeout)*time.Second)
	}
	return ctx, func() {}
}
