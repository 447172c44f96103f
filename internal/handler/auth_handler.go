// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/jobboard/internal/auth"
	"github.com/hitoshi/jobboard/internal/middleware"
	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/sessionsync"
)

const (
	oauthStateCookie = "oauth_state"
	signupTypeCookie = "signup_type"
	oauthCookieAge   = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string, signupType model.UserType) (*auth.CallbackResult, error)
	Logout(ctx context.Context, sessionID string) error
	Refresh(ctx context.Context, sessionID string) (*model.Session, error)
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// SessionPublisher はクライアントのセッション同期器に認証イベントを届ける。
type SessionPublisher interface {
	Publish(ctx context.Context, clientID string, ev sessionsync.Event) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	publisher SessionPublisher
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。publisherがnilの場合はイベントを送らない。
func NewAuthHandler(service AuthServiceInterface, publisher SessionPublisher, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:   service,
		publisher: publisher,
		config:    config,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login?user_type=employer
//
// user_typeは初回ログイン時の登録区分としてCookieに保持する。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setShortCookie(w, oauthStateCookie, state)

	if userType, ok := model.ParseUserType(r.URL.Query().Get("user_type")); ok {
		h.setShortCookie(w, signupTypeCookie, string(userType))
	}

	url := h.service.GetLoginURL(state)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}
	h.clearShortCookie(w, oauthStateCookie)

	signupType := model.UserTypeApplicant
	if c, err := r.Cookie(signupTypeCookie); err == nil {
		if t, ok := model.ParseUserType(c.Value); ok {
			signupType = t
		}
		h.clearShortCookie(w, signupTypeCookie)
	}

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	// 3. 認証処理
	result, err := h.service.HandleCallback(r.Context(), code, signupType)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	// 4. セッションCookieを設定（HTTP Only）
	h.setSessionCookie(w, result.Session.ID, h.config.SessionMaxAge)

	// 5. このブラウザの同期器にサインインを通知
	h.publish(r, sessionsync.Event{Type: sessionsync.EventSignedIn, Session: result.Session})

	if result.NewUser {
		slog.Info("new user signed up",
			slog.String("user_id", result.Session.UserID),
			slog.String("user_type", string(signupType)),
		)
	}

	// 6. フロントエンドにリダイレクト
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.setSessionCookie(w, "", -1)
	h.publish(r, sessionsync.Event{Type: sessionsync.EventSignedOut})

	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

type refreshResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// Refresh はセッションの有効期限を延長する。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteUnauthorized(w)
		return
	}

	session, err := h.service.Refresh(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			h.setSessionCookie(w, "", -1)
			h.publish(r, sessionsync.Event{Type: sessionsync.EventSignedOut})
		}
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID, h.config.SessionMaxAge)
	h.publish(r, sessionsync.Event{Type: sessionsync.EventTokenRefreshed, Session: session})

	writeJSON(w, http.StatusOK, refreshResponse{ExpiresAt: session.ExpiresAt})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteUnauthorized(w)
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		slog.Warn("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
	})
}

// publish はクライアントIDがあれば同期器にイベントを送る。失敗はログのみ。
func (h *AuthHandler) publish(r *http.Request, ev sessionsync.Event) {
	if h.publisher == nil {
		return
	}
	clientID := middleware.ClientIDFromContext(r.Context())
	if clientID == "" {
		return
	}
	if err := h.publisher.Publish(r.Context(), clientID, ev); err != nil {
		slog.Warn("failed to publish session event",
			slog.String("event", string(ev.Type)),
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) setShortCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   oauthCookieAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearShortCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
