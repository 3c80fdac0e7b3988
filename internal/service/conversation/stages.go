package conversation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/moodtune/backend/internal/metrics"
	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
	"github.com/zhouzirui/moodtune/backend/internal/model/emotion"
	"github.com/zhouzirui/moodtune/backend/internal/service/judge"
)

// FallbackReply is appended when the judge cannot produce a consult reply.
const FallbackReply = "Could you tell me a bit more about how you feel?"

// ConsultStage talks with the user to pin down their emotion.
type ConsultStage struct {
	judge   judge.Judge
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewConsultStage(j judge.Judge, logger *zap.Logger, m *metrics.Metrics) *ConsultStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsultStage{judge: j, logger: logger, metrics: m}
}

// Run appends exactly one assistant turn. The emotion is stored only when the
// judge named a vocabulary member; otherwise the stored one is kept.
func (s *ConsultStage) Run(ctx context.Context, sess *chat.Session) {
	state := sess.Snapshot()

	result, err := s.judge.Consult(ctx, judge.ConsultInput{
		History:    state.History,
		Generating: state.Generating,
	})
	reply := strings.TrimSpace(result.Reply)
	if err != nil || reply == "" {
		s.metrics.JudgeFailed(judge.CallConsult)
		s.logger.Warn("consult failed, using fallback reply", zap.String("session", state.ID), zap.Error(err))
		reply = FallbackReply
		result.Emotion = ""
	}

	sess.Append(chat.RoleAssistant, reply)

	label := emotion.Normalize(result.Emotion)
	if sess.SetEmotion(label) {
		s.logger.Debug("emotion confirmed", zap.String("session", state.ID), zap.String("emotion", string(label)))
	} else if result.Emotion != "" {
		s.logger.Info("emotion not recognized", zap.String("session", state.ID), zap.String("raw", result.Emotion))
	}
}

// MusicRequestStage turns the conversation into a generation prompt. It does
// not touch the session or the rendering service.
type MusicRequestStage struct {
	judge   judge.Judge
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewMusicRequestStage(j judge.Judge, logger *zap.Logger, m *metrics.Metrics) *MusicRequestStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MusicRequestStage{judge: j, logger: logger, metrics: m}
}

// Run returns the prompt, falling back to one built from the emotion.
func (s *MusicRequestStage) Run(ctx context.Context, sess *chat.Session) string {
	state := sess.Snapshot()

	prompt, err := s.judge.Prompt(ctx, judge.PromptInput{
		History: state.History,
		Emotion: state.Emotion,
	})
	prompt = strings.TrimSpace(prompt)
	if err != nil || prompt == "" {
		s.metrics.JudgeFailed(judge.CallPrompt)
		s.logger.Warn("prompt generation failed, using fallback", zap.String("session", state.ID), zap.Error(err))
		prompt = judge.FallbackPrompt(state.Emotion, "")
	}
	return prompt
}
