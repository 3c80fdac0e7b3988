package judge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/moodtune/backend/internal/config"
)

// New builds the Judge selected by cfg.Judge.Backend. "auto" picks Ark, then
// OpenAI, then the offline heuristic, depending on which credentials exist.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Judge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("judge")

	backend := cfg.Judge.Backend
	if backend == config.BackendAuto {
		switch {
		case cfg.AI.Enabled():
			backend = config.BackendArk
		case cfg.OpenAI.Enabled():
			backend = config.BackendOpenAI
		default:
			backend = config.BackendHeuristic
		}
	}

	switch backend {
	case config.BackendArk:
		if !cfg.AI.Enabled() {
			return nil, fmt.Errorf("%w: ark needs ARK_API_KEY (or AK/SK) and Model", ErrNotConfigured)
		}
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		completer, err := newEinoCompleter(ctx, chatModel)
		if err != nil {
			return nil, err
		}
		logger.Info("using ark backend", zap.String("model", cfg.AI.Model))
		return newLLMJudge(completer, cfg.Judge, logger), nil

	case config.BackendOpenAI:
		if !cfg.OpenAI.Enabled() {
			return nil, fmt.Errorf("%w: openai needs OPENAI_API_KEY", ErrNotConfigured)
		}
		logger.Info("using openai backend", zap.String("model", cfg.OpenAI.Model))
		return newLLMJudge(newOpenAICompleter(cfg.OpenAI), cfg.Judge, logger), nil

	case config.BackendHeuristic:
		logger.Warn("no language model configured, using keyword heuristic")
		return NewHeuristic(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func newLLMJudge(backend completer, cfg config.JudgeConfig, logger *zap.Logger) *llmJudge {
	return &llmJudge{
		backend:      backend,
		timeout:      cfg.Timeout,
		historyLimit: cfg.HistoryLimit,
		logger:       logger,
	}
}
