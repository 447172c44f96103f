package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/jobboard/internal/auth"
	"github.com/hitoshi/jobboard/internal/config"
	"github.com/hitoshi/jobboard/internal/currency"
	"github.com/hitoshi/jobboard/internal/database"
	"github.com/hitoshi/jobboard/internal/handler"
	"github.com/hitoshi/jobboard/internal/job"
	"github.com/hitoshi/jobboard/internal/jobfeed"
	"github.com/hitoshi/jobboard/internal/logger"
	"github.com/hitoshi/jobboard/internal/metrics"
	"github.com/hitoshi/jobboard/internal/middleware"
	"github.com/hitoshi/jobboard/internal/profile"
	"github.com/hitoshi/jobboard/internal/repository"
	"github.com/hitoshi/jobboard/internal/security"
	"github.com/hitoshi/jobboard/internal/sessionsync"
	"github.com/hitoshi/jobboard/internal/user"
	"github.com/hitoshi/jobboard/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/jobboard/internal/worker/fetch"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルで再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		if w == nil {
			w = os.Stdout
		}
		printUsage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はGo/プロセスのコレクターを登録したPrometheusレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// api はAPIサーバーの組み立て結果。Closeでバックグラウンド処理を停止する。
type api struct {
	handler http.Handler
	hub     *sessionsync.Hub
	limiter *middleware.RateLimiter
}

// Close はセッション同期器とレート制限のクリーンアップを停止する。
func (a *api) Close() {
	a.hub.Stop()
	a.limiter.Stop()
}

// newAPI はDB接続から全依存関係をワイヤリングし、ルーターを構築する。
// 接続はこの関数内で使われず、リクエスト時に初めて使われる。
func newAPI(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, log *slog.Logger) *api {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	jobRepo := repository.NewPostgresJobRepo(db)
	feedRepo := repository.NewPostgresCareersFeedRepo(db)
	kvStore := repository.NewPostgresKVStore(db)

	// 2. セキュリティサービスの初期化
	urlGuard := security.NewURLGuard()
	sanitizer := security.NewSanitizer()

	// 3. 通貨換算キャッシュ
	rateClient := currency.NewClient(
		&http.Client{Timeout: cfg.RateFetchTimeout},
		cfg.ExchangeRateAPIURL, cfg.ExchangeRateAPIKey, log,
	)
	converter := currency.NewConverter(rateClient, kvStore, collector, log, cfg.RateCacheTTL)

	// 4. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	profileService := profile.NewService(profileRepo, sessionRepo, urlGuard, sanitizer)
	jobService := job.NewService(jobRepo, profileRepo, converter, sanitizer, urlGuard)
	feedService := jobfeed.NewService(feedRepo, profileRepo, jobfeed.NewDetector(urlGuard))
	userService := user.NewService(userRepo, sessionRepo, profileRepo, jobRepo, feedRepo)

	// 5. クライアントごとのセッション同期器
	hub := sessionsync.NewHub(authService.SessionSourceFactory(), profileService, sessionsync.HubConfig{
		IdleTTL: cfg.SyncIdleTTL,
		Sync: sessionsync.Config{
			EmployerHome:  cfg.EmployerHomePath,
			ApplicantHome: cfg.ApplicantHomePath,
			Metrics:       collector,
			Logger:        log,
		},
	})

	// 6. ルーターの構築
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitJobPost))

	deps := &handler.RouterDeps{
		Logger:            log,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		ClientIDConfig: middleware.ClientIDConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		SessionHub: hub,

		ProfileReader:      profileService,
		RateService:        converter,
		JobService:         jobService,
		CareersFeedService: feedService,
		UserService:        userService,
	}

	return &api{
		handler: handler.NewRouter(deps),
		hub:     hub,
		limiter: limiter,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	a := newAPI(cfg, db, newRegistry(), slog.Default())
	defer a.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMでシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// worker はワーカーモードの組み立て結果。
type worker struct {
	scheduler *fetchpkg.Scheduler
	cleanup   *cleanup.CleanupJob
	handler   http.Handler
}

// newWorker は採用フィード取り込みとクリーンアップのジョブを組み立てる。
// handlerは/healthと/metricsのみを提供する。
func newWorker(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, log *slog.Logger) *worker {
	collector := metrics.NewCollector(reg)

	feedRepo := repository.NewPostgresCareersFeedRepo(db)
	jobRepo := repository.NewPostgresJobRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	fetcher := fetchpkg.NewFetcher(
		feedRepo, jobRepo, security.NewURLGuard(), security.NewSanitizer(),
		collector, log,
		fetchpkg.FetcherConfig{
			Timeout:     cfg.FetchTimeout,
			MaxBodySize: cfg.FetchMaxSize,
			Interval:    cfg.FetchInterval,
		},
	)
	scheduler := fetchpkg.NewScheduler(feedRepo, fetcher, log, cfg.FetchMaxConcurrent)

	cleanupJob := cleanup.NewCleanupJob(sessionRepo, jobRepo, log)
	if cfg.JobRetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.JobRetentionDays
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", handler.NewHealthHandler(db))
	mux.Handle("GET /metrics", metrics.Handler(reg))

	return &worker{scheduler: scheduler, cleanup: cleanupJob, handler: mux}
}

// runCleanupLoop は起動直後と以後24時間ごとにクリーンアップを実行する。
func (wk *worker) runCleanupLoop(ctx context.Context) {
	run := func() {
		if err := wk.cleanup.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
	}
	run()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、採用フィードの取り込みスケジューラとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	wk := newWorker(cfg, db, newRegistry(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     wk.handler,
		ReadTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("worker starting",
		slog.Duration("fetch_interval", cfg.FetchInterval),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
		slog.Int("retention_days", wk.cleanup.RetentionDays),
	)

	go wk.runCleanupLoop(ctx)

	// 取り込みスケジューラをメインgoroutineで実行（ブロッキング）
	wk.scheduler.Start(ctx, cfg.FetchInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
