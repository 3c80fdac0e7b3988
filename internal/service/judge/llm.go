package judge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
)

// completion is one structured request to a language model.
type completion struct {
	Name     string
	Schema   map[string]any
	Messages []promptMessage
}

// completer sends a completion and returns the raw model text.
type completer interface {
	complete(ctx context.Context, req completion) (string, error)
}

// llmJudge implements Judge on top of any completer.
type llmJudge struct {
	backend      completer
	timeout      time.Duration
	historyLimit int
	logger       *zap.Logger
}

func (j *llmJudge) Route(ctx context.Context, in RouteInput) (chat.Route, error) {
	var out routeOutput
	if err := j.call(ctx, completion{Name: "Router", Schema: routeSchema, Messages: routeMessages(in, j.historyLimit)}, &out); err != nil {
		return "", fmt.Errorf("%s: %w", CallRoute, err)
	}
	return chat.ParseRoute(out.Next)
}

func (j *llmJudge) Consult(ctx context.Context, in ConsultInput) (ConsultResult, error) {
	var out consultOutput
	if err := j.call(ctx, completion{Name: "Consult", Schema: consultSchema, Messages: consultMessages(in, j.historyLimit)}, &out); err != nil {
		return ConsultResult{}, fmt.Errorf("%s: %w", CallConsult, err)
	}

	reply := strings.TrimSpace(out.Reply)
	if reply == "" {
		return ConsultResult{}, fmt.Errorf("%s: %w", CallConsult, ErrEmptyOutput)
	}
	return ConsultResult{Reply: reply, Emotion: strings.TrimSpace(out.Emotion)}, nil
}

func (j *llmJudge) Prompt(ctx context.Context, in PromptInput) (string, error) {
	var out promptOutput
	if err := j.call(ctx, completion{Name: "MusicPrompt", Schema: promptSchema, Messages: musicMessages(in, j.historyLimit)}, &out); err != nil {
		return "", fmt.Errorf("%s: %w", CallPrompt, err)
	}

	content := strings.TrimSpace(out.Content)
	if content == "" {
		return "", fmt.Errorf("%s: %w", CallPrompt, ErrEmptyOutput)
	}
	return content, nil
}

func (j *llmJudge) call(ctx context.Context, req completion, out any) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := j.backend.complete(ctx, req)
	if err != nil {
		return err
	}
	j.logger.Debug("model replied", zap.String("call", req.Name), zap.Duration("elapsed", time.Since(start)), zap.Int("length", len(text)))

	if strings.TrimSpace(text) == "" {
		return ErrEmptyOutput
	}
	return decodeModelJSON(text, out)
}
