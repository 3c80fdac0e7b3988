// Package judge is the language-understanding port used by the conversation
// loop. A Judge answers three questions about a conversation: which stage
// should run next, what to say while consulting (plus the emotion it
// perceived), and how to describe the music to generate.
//
// Backends: an eino chain over the Ark chat model, the OpenAI Responses API
// with strict JSON schemas, and an offline keyword heuristic.
package judge

import (
	"context"
	"errors"

	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
	"github.com/zhouzirui/moodtune/backend/internal/model/emotion"
)

var (
	ErrEmptyOutput    = errors.New("judge: empty model output")
	ErrUnknownBackend = errors.New("judge: unknown backend")
	ErrNotConfigured  = errors.New("judge: backend is not configured")
)

// Call kinds, used in logs and metrics.
const (
	CallRoute   = "route"
	CallConsult = "consult"
	CallPrompt  = "prompt"
)

// Judge classifies conversations. Every failure is returned as an error;
// callers decide the fallback.
type Judge interface {
	Route(ctx context.Context, in RouteInput) (chat.Route, error)
	Consult(ctx context.Context, in ConsultInput) (ConsultResult, error)
	Prompt(ctx context.Context, in PromptInput) (string, error)
}

type RouteInput struct {
	History    []chat.Turn
	Emotion    emotion.Label
	Generating bool
}

type ConsultInput struct {
	History    []chat.Turn
	Generating bool
}

// ConsultResult carries the reply and the raw emotion label, which may fall
// outside the vocabulary.
type ConsultResult struct {
	Reply   string
	Emotion string
}

type PromptInput struct {
	History []chat.Turn
	Emotion emotion.Label
}

func latestUserText(history []chat.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == chat.RoleUser {
			return history[i].Text
		}
	}
	return ""
}
