// Package ws 提供对话用的 WebSocket 端点。
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 << 10
)

// Sessions 管理在线会话。
type Sessions interface {
	NewID() string
	Open(id string) *chat.Session
	Close(id string, session *chat.Session) bool
}

// Jobs 取消会话的后台生成任务。
type Jobs interface {
	Cancel(sessionID string) bool
}

// Turns 处理一轮用户输入。
type Turns interface {
	HandleTurn(ctx context.Context, sess *chat.Session, text string) (chat.Route, error)
}

// Handler WebSocket会话处理器
type Handler struct {
	sessions Sessions
	jobs     Jobs
	turns    Turns
	conns    *ConnectionManager
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New 创建WebSocket处理器
func New(sessions Sessions, jobs Jobs, turns Turns, conns *ConnectionManager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		jobs:     jobs,
		turns:    turns,
		conns:    conns,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("ws"),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{userID}", h.handleWebSocket)
}

type inboundMessage struct {
	Messages []inboundEntry `json:"messages"`
}

type inboundEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// latestUserText 返回最后一条用户消息的文本，未标注角色的条目按用户消息处理。
func latestUserText(data []byte) (string, bool) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", false
	}
	for i := len(msg.Messages) - 1; i >= 0; i-- {
		entry := msg.Messages[i]
		role := strings.ToLower(strings.TrimSpace(entry.Role))
		if role != "" && role != string(chat.RoleUser) {
			continue
		}
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			return "", false
		}
		return text, true
	}
	return "", false
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "userID")
	if _, err := uuid.Parse(sessionID); err != nil {
		fresh := h.sessions.NewID()
		h.logger.Info("invalid user id, assigning a fresh one", zap.String("requested", sessionID), zap.String("session", fresh))
		sessionID = fresh
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	session := h.sessions.Open(sessionID)
	h.conns.Add(sessionID, conn)
	// 被替换连接的生成任务不能延续到新会话。
	h.jobs.Cancel(sessionID)

	h.logger.Info("connected", zap.String("session", sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("connection loop panicked", zap.String("session", sessionID), zap.Any("panic", rec))
		}
		cancel()
		h.conns.Remove(sessionID, conn)
		if h.sessions.Close(sessionID, session) {
			h.jobs.Cancel(sessionID)
		}
		h.logger.Info("disconnected", zap.String("session", sessionID))
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.pingLoop(ctx, conn)

	session.Publish(chat.EventConnected, func(u chat.Update) {
		h.conns.Send(sessionID, u)
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read error", zap.String("session", sessionID), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		text, ok := latestUserText(data)
		if !ok {
			h.logger.Debug("dropping malformed message", zap.String("session", sessionID), zap.Int("bytes", len(data)))
			continue
		}

		if _, err := h.turns.HandleTurn(ctx, session, text); err != nil {
			if errors.Is(err, chat.ErrSessionDetached) {
				h.logger.Info("session replaced, dropping connection", zap.String("session", sessionID))
				return
			}
			h.logger.Warn("turn failed", zap.String("session", sessionID), zap.Error(err))
		}
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteTimeout)); err != nil {
				return
			}
		}
	}
}
