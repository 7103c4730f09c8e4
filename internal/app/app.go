package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/itembox/internal/auth"
	"github.com/hitoshi/itembox/internal/config"
	"github.com/hitoshi/itembox/internal/database"
	"github.com/hitoshi/itembox/internal/events"
	"github.com/hitoshi/itembox/internal/handler"
	"github.com/hitoshi/itembox/internal/item"
	"github.com/hitoshi/itembox/internal/logger"
	"github.com/hitoshi/itembox/internal/metrics"
	"github.com/hitoshi/itembox/internal/middleware"
	"github.com/hitoshi/itembox/internal/repository"
	"github.com/hitoshi/itembox/internal/security"
	"github.com/hitoshi/itembox/internal/user"
	"github.com/hitoshi/itembox/internal/validation"
	"github.com/hitoshi/itembox/internal/worker/cleanup"
)

const (
	oauthStateTTL     = 10 * time.Minute
	githubHTTPTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップした上で、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// LOG_LEVELは.envから読み込まれる場合もあるため再設定する
	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、マイグレーションを適用し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	tokenRepo := repository.NewPostgresAPITokenRepo(db)

	// 3. セキュリティ・横断的サービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()
	validator := validation.New(ssrfGuard)

	publisher := events.New(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Warn("failed to close event publisher", slog.String("error", err.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 4. ドメインサービスの初期化
	oauthProvider := auth.NewGitHubOAuthProvider(auth.GitHubOAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
		HTTPClient:   ssrfGuard.NewSafeClient(githubHTTPTimeout),
	})
	authService := auth.NewService(oauthProvider, userRepo, sessionRepo, publisher,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	tokenService := auth.NewTokenService(tokenRepo, publisher, cfg.APITokenTTL)

	strategy, err := auth.ParseGuardStrategy(cfg.GuardStrategy)
	if err != nil {
		return err
	}
	guard := auth.NewGuard(strategy, cfg.APIKey, tokenService)
	slog.Info("access guard configured", slog.String("strategy", string(guard.Strategy())))

	itemService := item.NewItemService(itemRepo, userRepo, validator, sanitizer)
	userService := user.NewService(userRepo, itemRepo, validator, sanitizer)

	// 5. ルーターの構築
	limiterConfig := middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitToken)
	if limiterConfig.TrustedProxies, err = middleware.ParseTrustedProxies(cfg.TrustedProxies); err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	rateLimiter := middleware.NewRateLimiter(limiterConfig)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             slog.Default(),
		SessionResolver:    authService,
		Guard:              guard,
		RateLimiter:        rateLimiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,

		Metrics:  collector,
		Gatherer: reg,

		AuthService: authService,
		StateIssuer: auth.NewStateSigner(cfg.SessionSecret, oauthStateTTL),
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:       cfg.CookieDomain,
			CookieSecure:       cfg.CookieSecure,
			SessionMaxAge:      cfg.SessionMaxAge,
			SuccessRedirectURL: cfg.DocsURL,
			FailureRedirectURL: cfg.DocsURL,
		},
		TokenService:      tokenService,
		TokenTemplatePath: cfg.TokenTemplatePath,

		ItemService: itemService,
		UserService: userService,

		DocsURL: cfg.DocsURL,
		DB:      db,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established (worker)")

	reg := prometheus.NewRegistry()
	job := cleanup.NewSessionCleanupJob(
		repository.NewPostgresSessionRepo(db),
		metrics.NewCollector(reg),
		slog.Default(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.SessionCleanupInterval))

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
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
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}
