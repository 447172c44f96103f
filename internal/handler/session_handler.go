package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/jobboard/internal/middleware"
	"github.com/hitoshi/jobboard/internal/sessionsync"
)

// errMissingClientID はクライアントIDミドルウェアを通っていないリクエスト。
var errMissingClientID = errors.New("client id is missing from request context")

// SessionHub はクライアントごとのセッション同期器を管理する。
// sessionsync.Hubが実装する。
type SessionHub interface {
	SessionPublisher
	GetAt(clientID, sessionID, location string) *sessionsync.Synchronizer
	Remove(clientID string)
}

type sessionResponse struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type syncErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// sessionStateResponse は同期器の状態をUI向けに表したもの。
type sessionStateResponse struct {
	IsAuthenticated bool               `json:"is_authenticated"`
	Loading         bool               `json:"loading"`
	Session         *sessionResponse   `json:"session"`
	Profile         *profileResponse   `json:"profile"`
	Error           *syncErrorResponse `json:"error"`
	NavigateTo      string             `json:"navigate_to,omitempty"`
}

// SessionHandler はセッション同期状態のHTTPハンドラー。
type SessionHandler struct {
	hub    SessionHub
	config AuthHandlerConfig
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(hub SessionHub, config AuthHandlerConfig) *SessionHandler {
	return &SessionHandler{hub: hub, config: config}
}

// State は現在のセッションとプロフィールの状態を返す。
// GET /api/session?location=/login
//
// locationにはUIの現在のパスを渡す。ログイン・登録画面でプロフィールが
// 読み込まれた場合、navigate_toに遷移先が1度だけ入る。
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	s, err := synchronizerFor(r, h.hub, r.URL.Query().Get("location"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionStateResponse(s.State(), s.TakeNavigation()))
}

// SignOut は同期器経由でIdPのセッションを終了し、状態を破棄する。
// POST /api/session/signout
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	s, err := synchronizerFor(r, h.hub, "")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// IdP側の失敗はローカルの破棄を妨げない
	if err := s.SignOut(r.Context()); err != nil {
		slog.Warn("sign out failed at identity provider", slog.String("error", err.Error()))
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
	writeJSON(w, http.StatusOK, toSessionStateResponse(s.State(), nil))
}

// RefreshProfile はプロフィールを再取得した状態を返す。
// POST /api/session/profile/refresh
func (h *SessionHandler) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	s, err := synchronizerFor(r, h.hub, "")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	// 取得失敗は状態のerrorに記録される
	if err := s.RefreshProfile(r.Context()); err != nil && !isSyncError(err) {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionStateResponse(s.State(), s.TakeNavigation()))
}

// synchronizerFor はリクエストのクライアントの同期器を返す。
// locationが空でなければ、プロフィールを読み込む前にUIの現在のパスとして記録する。
// Cookieのセッションと同期器のセッションが食い違う場合は
// SIGNED_IN / SIGNED_OUT を送って揃える。
func synchronizerFor(r *http.Request, hub SessionHub, location string) (*sessionsync.Synchronizer, error) {
	ctx := r.Context()
	clientID := middleware.ClientIDFromContext(ctx)
	if clientID == "" {
		return nil, errMissingClientID
	}

	session := middleware.SessionFromContext(ctx)
	sessionID := ""
	if session != nil {
		sessionID = session.ID
	}

	s := hub.GetAt(clientID, sessionID, location)
	err := s.Sync(ctx)
	if errors.Is(err, sessionsync.ErrStopped) {
		// GetAtとSyncの間に削除・失効したものは一度だけ作り直す
		s = hub.GetAt(clientID, sessionID, location)
		err = s.Sync(ctx)
	}
	if err != nil {
		return nil, err
	}

	current := s.State().Session
	var ev *sessionsync.Event
	switch {
	case session != nil && (current == nil || current.ID != session.ID):
		ev = &sessionsync.Event{Type: sessionsync.EventSignedIn, Session: session}
	case session == nil && current != nil:
		ev = &sessionsync.Event{Type: sessionsync.EventSignedOut}
	}
	if ev != nil {
		if err := s.Send(ctx, *ev); err != nil && !isSyncError(err) {
			return nil, err
		}
	}
	return s, nil
}

// isSyncError は同期器が状態に記録済みのエラーかを返す。
func isSyncError(err error) bool {
	var syncErr *sessionsync.SyncError
	return errors.As(err, &syncErr)
}

func toSessionStateResponse(st sessionsync.State, nav *sessionsync.Navigation) sessionStateResponse {
	resp := sessionStateResponse{
		IsAuthenticated: st.IsAuthenticated,
		Loading:         st.Loading,
	}
	if st.Session != nil {
		resp.Session = &sessionResponse{UserID: st.Session.UserID, ExpiresAt: st.Session.ExpiresAt}
	}
	if st.Profile != nil {
		p := toProfileResponse(st.Profile)
		resp.Profile = &p
	}
	if st.Error != nil {
		resp.Error = &syncErrorResponse{
			Kind:    string(st.Error.Kind),
			Message: st.Error.Message,
			Fatal:   st.Error.Fatal(),
		}
	}
	if nav != nil {
		resp.NavigateTo = nav.Path
	}
	return resp
}
