package conversation

import (
	"context"

	"go.uber.org/zap"

	"github.com/zhouzirui/moodtune/backend/internal/metrics"
	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
	"github.com/zhouzirui/moodtune/backend/internal/model/emotion"
	"github.com/zhouzirui/moodtune/backend/internal/service/judge"
)

// Verdict is what the classifier answered for a routing question.
type Verdict struct {
	Route chat.Route
	Err   error
}

// Decide picks the stage for a turn. Rules, highest precedence first:
// an empty history or a running generation always consults; a failed verdict
// consults; a music request needs a confirmed emotion; anything else,
// including FINISH, consults.
func Decide(state chat.Snapshot, verdict Verdict) chat.Route {
	if len(state.History) == 0 || state.Generating {
		return chat.RouteConsult
	}
	if verdict.Err != nil {
		return chat.RouteConsult
	}
	if verdict.Route == chat.RouteMusicRequest && emotion.Valid(state.Emotion) {
		return chat.RouteMusicRequest
	}
	return chat.RouteConsult
}

// Router asks the judge only when Decide could use the answer.
type Router struct {
	judge   judge.Judge
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewRouter(j judge.Judge, logger *zap.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{judge: j, logger: logger, metrics: m}
}

// Next decides the route for the session's current state and records it.
func (r *Router) Next(ctx context.Context, sess *chat.Session) chat.Route {
	state := sess.Snapshot()

	var verdict Verdict
	if len(state.History) > 0 && !state.Generating {
		verdict.Route, verdict.Err = r.judge.Route(ctx, judge.RouteInput{
			History:    state.History,
			Emotion:    state.Emotion,
			Generating: state.Generating,
		})
		if verdict.Err != nil {
			r.metrics.JudgeFailed(judge.CallRoute)
			r.logger.Warn("route classification failed, consulting", zap.String("session", state.ID), zap.Error(verdict.Err))
		}
	}

	route := Decide(state, verdict)
	sess.SetLastRoute(route)
	r.metrics.ObserveRoute(string(route))
	r.logger.Debug("routed",
		zap.String("session", state.ID),
		zap.String("verdict", string(verdict.Route)),
		zap.String("route", string(route)),
		zap.String("emotion", string(state.Emotion)),
		zap.Bool("generating", state.Generating))
	return route
}
