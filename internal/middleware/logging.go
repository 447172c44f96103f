package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

var logFieldsContextKey = contextKey("log_fields")

// logFields は内側のミドルウェアが解決した識別子をアクセスログへ渡す。
type logFields struct {
	mu       sync.Mutex
	userID   string
	clientID string
}

func annotateUserID(ctx context.Context, userID string) {
	if lf, ok := ctx.Value(logFieldsContextKey).(*logFields); ok {
		lf.mu.Lock()
		lf.userID = userID
		lf.mu.Unlock()
	}
}

func annotateClientID(ctx context.Context, clientID string) {
	if lf, ok := ctx.Value(logFieldsContextKey).(*logFields); ok {
		lf.mu.Lock()
		lf.clientID = clientID
		lf.mu.Unlock()
	}
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、bytesと、
// 取得できる場合はrequest_id、client_id、user_idを含む。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			fields := &logFields{}

			// 外側で既に識別子が解決済みの場合はそれを引き継ぐ
			if session := SessionFromContext(r.Context()); session != nil {
				fields.userID = session.UserID
			}
			fields.clientID = ClientIDFromContext(r.Context())

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), logFieldsContextKey, fields)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/float64(time.Millisecond)),
			}

			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				args = append(args, slog.String("request_id", reqID))
			}

			fields.mu.Lock()
			if fields.clientID != "" {
				args = append(args, slog.String("client_id", fields.clientID))
			}
			if fields.userID != "" {
				args = append(args, slog.String("user_id", fields.userID))
			}
			fields.mu.Unlock()

			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			} else if status >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
