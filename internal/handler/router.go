package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/jobboard/internal/middleware"
)

// SetupAuthRoutes は認証関連のルーティングを設定したchi.Routerを返す。
func SetupAuthRoutes(service AuthServiceInterface, publisher SessionPublisher, config AuthHandlerConfig) http.Handler {
	r := chi.NewRouter()
	h := NewAuthHandler(service, publisher, config)

	r.Route("/auth", func(r chi.Router) {
		// OAuthフロー
		r.Get("/google/login", h.Login)
		r.Get("/google/callback", h.Callback)

		// セッション管理
		r.Post("/logout", h.Logout)
		r.Post("/refresh", h.Refresh)
		r.Get("/me", h.Me)
	})

	return r
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	ClientIDConfig    middleware.ClientIDConfig

	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証・セッション同期
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig
	SessionHub  SessionHub

	ProfileReader      ProfileReader
	RateService        RateService
	JobService         JobServiceInterface
	CareersFeedService CareersFeedServiceInterface
	UserService        UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → ClientID
//	  公開API:   OptionalSession → CSRF
//	  認証API:   Session → RateLimit(General) → CSRF
//
// /health と /metrics はClientIDより外側に置き、Cookieを発行しない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionHub, deps.AuthConfig)
	sessionHandler := NewSessionHandler(deps.SessionHub, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.ProfileReader, deps.SessionHub)
	currencyHandler := NewCurrencyHandler(deps.RateService)
	jobHandler := NewJobHandler(deps.JobService)
	feedHandler := NewEmployerFeedHandler(deps.CareersFeedService)
	userHandler := NewUserHandler(deps.UserService, deps.SessionHub, deps.AuthConfig)

	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewClientIDMiddleware(deps.ClientIDConfig))

		// --- 認証不要のルート ---

		// 認証ルート（OAuthフロー）。状態を変えるPOSTのみCSRF検証する
		r.Route("/auth", func(r chi.Router) {
			r.Get("/google/login", authHandler.Login)
			r.Get("/google/callback", authHandler.Callback)
			r.With(csrf).Post("/logout", authHandler.Logout)
			r.With(csrf).Post("/refresh", authHandler.Refresh)
			r.Get("/me", authHandler.Me)
		})

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))
			r.Use(csrf)

			r.Get("/api/session", sessionHandler.State)
			r.Post("/api/session/signout", sessionHandler.SignOut)
			r.Post("/api/session/profile/refresh", sessionHandler.RefreshProfile)

			r.Get("/api/currency/rates/{base}", currencyHandler.GetRates)
			r.Get("/api/currency/convert", currencyHandler.Convert)

			r.Get("/api/jobs", jobHandler.ListJobs)
			r.Get("/api/jobs/{id}", jobHandler.GetJob)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Session → RateLimit(General) → CSRF
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(csrf)

			r.Get("/api/profile", profileHandler.GetProfile)
			r.Put("/api/profile", profileHandler.UpdateProfile)

			// 求人の登録は専用レート制限を追加
			r.With(deps.RateLimiter.JobPostMiddleware()).Post("/api/jobs", jobHandler.CreateJob)
			r.Delete("/api/jobs/{id}", jobHandler.DeleteJob)

			r.Get("/api/employer/feed", feedHandler.GetFeed)
			r.With(deps.RateLimiter.JobPostMiddleware()).Put("/api/employer/feed", feedHandler.RegisterFeed)
			r.Delete("/api/employer/feed", feedHandler.DeleteFeed)

			r.Delete("/api/users/me", userHandler.Withdraw)
		})
	})

	return r
}
