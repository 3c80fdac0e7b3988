// Package conversation runs one inbound user turn through the router and
// exactly one stage.
package conversation

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/moodtune/backend/internal/metrics"
	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
	"github.com/zhouzirui/moodtune/backend/internal/service/judge"
)

var ErrEmptyInput = errors.New("conversation: empty user input")

// Starter launches background generation for a session.
type Starter interface {
	Start(sess *chat.Session, prompt string) error
}

// Notifier delivers updates to a session's client.
type Notifier interface {
	Send(sessionID string, update chat.Update)
}

type Orchestrator struct {
	router   *Router
	consult  *ConsultStage
	music    *MusicRequestStage
	jobs     Starter
	notifier Notifier
	logger   *zap.Logger
}

// New wires the router and both stages around a single judge.
func New(j judge.Judge, jobs Starter, notifier Notifier, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("conversation")
	return &Orchestrator{
		router:   NewRouter(j, logger, m),
		consult:  NewConsultStage(j, logger, m),
		music:    NewMusicRequestStage(j, logger, m),
		jobs:     jobs,
		notifier: notifier,
		logger:   logger,
	}
}

// HandleTurn appends text as a user turn, routes and runs one stage.
// Consult replies are pushed as a "reply" update. A music request hands the
// prompt to the job supervisor, which emits its own updates. A session detached
// by a reconnect or close before or during the turn yields
// chat.ErrSessionDetached and nothing reaches its id.
func (o *Orchestrator) HandleTurn(ctx context.Context, sess *chat.Session, text string) (chat.Route, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}
	if sess.Detached() {
		return "", chat.ErrSessionDetached
	}
	sess.Append(chat.RoleUser, text)

	route := o.router.Next(ctx, sess)
	switch route {
	case chat.RouteMusicRequest:
		prompt := o.music.Run(ctx, sess)
		if err := o.jobs.Start(sess, prompt); err != nil {
			if errors.Is(err, chat.ErrSessionDetached) {
				return route, err
			}
			o.logger.Error("failed to start generation", zap.String("session", sess.ID), zap.Error(err))
			sess.Append(chat.RoleAssistant, chat.TextGenerationFailed)
			sess.Publish(chat.EventGenerationFailed, o.sendTo(sess.ID))
		}
	default:
		o.consult.Run(ctx, sess)
		sess.Publish(chat.EventReply, o.sendTo(sess.ID))
		if sess.Detached() {
			return route, chat.ErrSessionDetached
		}
	}
	return route, nil
}

func (o *Orchestrator) sendTo(sessionID string) func(chat.Update) {
	return func(u chat.Update) {
		o.notifier.Send(sessionID, u)
	}
}
