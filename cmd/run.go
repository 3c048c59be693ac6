package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gptsh/gptsh/internal/config"
	"github.com/gptsh/gptsh/internal/llm"
	"github.com/gptsh/gptsh/internal/mcp"
	"github.com/gptsh/gptsh/internal/session"
	"github.com/gptsh/gptsh/internal/tools"
	"github.com/gptsh/gptsh/internal/ui"
)

func setupLogging() {
	level := slog.LevelWarn
	if flagDebug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// runtime holds everything a turn needs. Built once per invocation;
// the chat loop reuses it across turns.
type runtime struct {
	cfg      *config.Config
	provider llm.Provider
	manager  *mcp.Manager
	engine   *llm.Engine
	store    session.Store
}

// newRuntime loads config, connects MCP servers, and builds the
// engine. Setup failures are config errors, not transport errors.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, &configError{err: err}
	}

	// --provider accepts "name" or "name:model"; an explicit --model
	// wins over the suffix.
	providerName, modelName := "", flagModel
	if flagProvider != "" {
		p, m, err := parseProviderModel(flagProvider)
		if err != nil {
			return nil, &configError{err: err}
		}
		providerName = p
		if modelName == "" {
			modelName = m
		}
	}
	cfg.ApplyOverrides(providerName, modelName)

	provider, err := newProvider(cfg, "")
	if err != nil {
		return nil, &configError{err: err}
	}

	mcpCfg, err := mcp.LoadConfig()
	if err != nil {
		return nil, &configError{err: fmt.Errorf("loading mcp.json: %w", err)}
	}
	manager := mcp.NewManager(mcpCfg)
	manager.StartAll(ctx)

	approval, err := tools.NewApprovalManager(cfg.Approval)
	if err != nil {
		return nil, &configError{err: fmt.Errorf("approval policy: %w", err)}
	}
	if flagYolo {
		approval.SetYoloMode(true)
	}

	engine := llm.NewEngine(provider, manager, approval, llm.Options{
		Model:       cfg.ModelFor(cfg.Provider),
		MaxRounds:   cfg.Turn.MaxRounds,
		MaxParallel: cfg.Turn.MaxParallelTools,
		ToolTimeout: time.Duration(cfg.Turn.ToolTimeoutSeconds) * time.Second,
		NoStream:    flagNoStream,
		NoTools:     flagNoTools,
		Reporter:    ui.NewProgressReporter(),
	})

	store, err := session.NewStore(cfg.Session)
	if err != nil {
		slog.Warn("session store unavailable, history disabled", "error", err)
		store = &session.NoopStore{}
	}

	return &runtime{
		cfg:      cfg,
		provider: provider,
		manager:  manager,
		engine:   engine,
		store:    store,
	}, nil
}

func (r *runtime) Close() {
	r.manager.StopAll()
	if err := r.store.Close(); err != nil {
		slog.Warn("closing session store", "error", err)
	}
}

func (r *runtime) plainOutput() bool {
	return flagPlain || !r.cfg.Output.Markdown
}

// runPrompt executes a single one-shot turn and persists it as a
// session of its own.
func runPrompt(ctx context.Context, prompt string) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess := rt.newSession(ctx, prompt)
	conv := &llm.Conversation{}

	turnCtx, cancel := turnContext(ctx)
	defer cancel()

	printer := ui.NewStreamPrinter(os.Stdout, rt.plainOutput())
	result, err := rt.engine.RunTurn(turnCtx, conv, llm.UserText(prompt), printer)
	printer.Done()

	// Persist whatever the turn produced, even on failure, so the
	// session can be inspected or resumed.
	rt.persistTurn(ctx, sess, result, err)
	return err
}

// newSession creates and registers a session record. Persistence
// failures degrade to logging; they never block the turn.
func (r *runtime) newSession(ctx context.Context, firstPrompt string) *session.Session {
	cwd, _ := os.Getwd()
	sess := &session.Session{
		ID:       session.NewID(),
		Summary:  session.TruncateSummary(firstPrompt),
		Provider: r.cfg.Provider,
		Model:    r.cfg.ModelFor(r.cfg.Provider),
		CWD:      cwd,
		Status:   session.StatusActive,
	}
	if err := r.store.Create(ctx, sess); err != nil {
		slog.Warn("failed to create session", "error", err)
		return sess
	}
	if err := r.store.SetCurrent(ctx, sess.ID); err != nil {
		slog.Warn("failed to set current session", "error", err)
	}
	return sess
}

// persistTurn writes the turn's messages and metrics to the store and
// updates the session status from the turn outcome.
func (r *runtime) persistTurn(ctx context.Context, sess *session.Session, result *llm.TurnResult, turnErr error) {
	if result == nil {
		return
	}
	for _, msg := range result.Messages {
		stored := session.NewMessage(sess.ID, msg, -1)
		if err := r.store.AddMessage(ctx, sess.ID, stored); err != nil {
			slog.Warn("failed to persist message", "error", err)
			break
		}
		if sess.Summary == "" && stored.Role == llm.RoleUser && stored.TextContent != "" {
			sess.Summary = session.TruncateSummary(stored.TextContent)
			if err := r.store.Update(ctx, sess); err != nil {
				slog.Warn("failed to update session summary", "error", err)
			}
		}
	}
	if err := r.store.IncrementUserTurns(ctx, sess.ID); err != nil {
		slog.Warn("failed to update session", "error", err)
	}
	err := r.store.UpdateMetrics(ctx, sess.ID,
		result.Rounds, result.ToolCalls,
		result.Usage.InputTokens, result.Usage.CachedInputTokens, result.Usage.OutputTokens)
	if err != nil {
		slog.Warn("failed to update session metrics", "error", err)
	}

	status := session.StatusComplete
	switch {
	case turnErr == nil:
		status = session.StatusComplete
	case ctx.Err() != nil:
		status = session.StatusInterrupted
	default:
		status = session.StatusError
	}
	if err := r.store.UpdateStatus(ctx, sess.ID, status); err != nil {
		slog.Warn("failed to update session status", "error", err)
	}
}
