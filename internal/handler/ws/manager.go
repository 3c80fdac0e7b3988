package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
)

const defaultWriteTimeout = 10 * time.Second

// client 包装一条连接，串行化写操作。
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) writeJSON(v any, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// ConnectionManager WebSocket连接管理器，同时作为会话的出站通知器。
type ConnectionManager struct {
	mu           sync.RWMutex
	clients      map[string]*client
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager(logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		clients:      make(map[string]*client),
		writeTimeout: defaultWriteTimeout,
		logger:       logger.Named("ws"),
	}
}

// Add 添加连接；同一会话已有连接时先关闭旧连接。
func (cm *ConnectionManager) Add(sessionID string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if old, exists := cm.clients[sessionID]; exists && old.conn != conn {
		cm.logger.Info("replacing connection", zap.String("session", sessionID))
		old.conn.Close()
	}
	cm.clients[sessionID] = &client{conn: conn}
}

// Remove 仅当 conn 仍是该会话的当前连接时移除并关闭它。
func (cm *ConnectionManager) Remove(sessionID string, conn *websocket.Conn) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	current, exists := cm.clients[sessionID]
	if !exists || current.conn != conn {
		return false
	}
	current.conn.Close()
	delete(cm.clients, sessionID)
	return true
}

// Send 推送一条更新。会话不存在或写入失败时只记录日志。
func (cm *ConnectionManager) Send(sessionID string, update chat.Update) {
	cm.mu.RLock()
	c, exists := cm.clients[sessionID]
	cm.mu.RUnlock()

	if !exists {
		cm.logger.Debug("dropping update for disconnected session", zap.String("session", sessionID), zap.String("event", update.Event))
		return
	}

	if err := c.writeJSON(update, cm.writeTimeout); err != nil {
		cm.logger.Warn("write failed", zap.String("session", sessionID), zap.String("event", update.Event), zap.Error(err))
	}
}

// Count 返回当前连接数
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// CloseAll 关闭所有连接
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for sessionID, c := range cm.clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		c.conn.Close()
		delete(cm.clients, sessionID)
	}
}
