package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/jobboard/internal/middleware"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーの退会処理を実行する。
	// 求人、採用フィード、セッション、プロフィール、ユーザーの順に削除する。
	Withdraw(ctx context.Context, userID string) error
}

// SessionRemover はクライアントのセッション同期器を停止する。
type SessionRemover interface {
	Remove(clientID string)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	hub     SessionRemover
	config  AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。hubはnilでもよい。
func NewUserHandler(service UserServiceInterface, hub SessionRemover, config AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		hub:     hub,
		config:  config,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	if clientID := middleware.ClientIDFromContext(r.Context()); clientID != "" && h.hub != nil {
		h.hub.Remove(clientID)
	}

	w.WriteHeader(http.StatusNoContent)
}
