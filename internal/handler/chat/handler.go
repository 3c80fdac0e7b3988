package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/moodtune/backend/pkg/utils"
)

// IDSource 生成新的会话标识。
type IDSource interface {
	NewID() string
}

// Handler 会话引导的HTTP处理器
type Handler struct {
	ids IDSource
}

// New 创建会话引导处理器
func New(ids IDSource) *Handler {
	return &Handler{ids: ids}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/gen_user_id", h.handleGenUserID)
}

// handleGenUserID 生成一个新的用户标识，不创建任何会话状态。
func (h *Handler) handleGenUserID(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"user_id": h.ids.NewID()})
}
