package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ClientIDCookieName はブラウザクライアントを識別するCookieの名前。
// セッション同期器はこのIDごとに1つ作成される。
const ClientIDCookieName = "client_id"

// ClientIDConfig はクライアントIDミドルウェアの設定。
type ClientIDConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       int
}

// NewClientIDMiddleware はクライアントID Cookieを読み取り、無い場合は発行する。
// IDはサインイン状態とは独立しており、サインアウト後も同じ値を使い続ける。
func NewClientIDMiddleware(config ClientIDConfig) func(next http.Handler) http.Handler {
	if config.MaxAge <= 0 {
		config.MaxAge = 365 * 24 * 60 * 60
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ""
			if cookie, err := r.Cookie(ClientIDCookieName); err == nil {
				if id, err := uuid.Parse(cookie.Value); err == nil {
					clientID = id.String()
				}
			}

			if clientID == "" {
				clientID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientIDCookieName,
					Value:    clientID,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   config.MaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClientID(r.Context(), clientID)))
		})
	}
}

// ClientIDFromContext はリクエストコンテキストからクライアントIDを取得する。
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDContextKey).(string)
	return id
}

// ContextWithClientID はコンテキストにクライアントIDを注入する。
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	annotateClientID(ctx, clientID)
	return context.WithValue(ctx, clientIDContextKey, clientID)
}
