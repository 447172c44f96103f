package auth

import (
	"context"

	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/sessionsync"
)

// CookieSession はブラウザのセッションCookieに紐づくsessionsync.SessionSource。
type CookieSession struct {
	service   *Service
	sessionID string
}

var _ sessionsync.SessionSource = (*CookieSession)(nil)

// NewCookieSession はCookieSessionを生成する。sessionIDが空の場合は未ログイン扱い。
func NewCookieSession(service *Service, sessionID string) *CookieSession {
	return &CookieSession{service: service, sessionID: sessionID}
}

func (c *CookieSession) CurrentSession(ctx context.Context) (*model.Session, error) {
	return c.service.CurrentSession(ctx, c.sessionID)
}

func (c *CookieSession) SignOut(ctx context.Context, session *model.Session) error {
	id := c.sessionID
	if session != nil {
		id = session.ID
	}
	if id == "" {
		return nil
	}
	return c.service.Logout(ctx, id)
}

// SessionSourceFactory はHub向けにセッションIDからCookieSessionを生成する関数を返す。
func (s *Service) SessionSourceFactory() sessionsync.SessionSourceFactory {
	return func(sessionID string) sessionsync.SessionSource {
		return NewCookieSession(s, sessionID)
	}
}
