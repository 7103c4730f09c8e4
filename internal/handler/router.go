package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/itembox/internal/metrics"
	"github.com/hitoshi/itembox/internal/middleware"
)

const healthCheckTimeout = 2 * time.Second

// DBPinger はヘルスチェックで疎通確認するデータベース。
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger // nilの場合はslog.Default()
	SessionResolver    middleware.SessionResolver
	Guard              middleware.AccessChecker
	RateLimiter        *middleware.RateLimiter
	CORSAllowedOrigins []string

	// メトリクス（nil可）
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	// 認証
	AuthService       AuthServiceInterface
	StateIssuer       StateIssuer
	AuthConfig        AuthHandlerConfig
	TokenService      TokenServiceInterface
	TokenTemplatePath string

	// リソース
	ItemService ItemServiceInterface
	UserService UserServiceInterface

	// その他
	DocsURL string
	DB      DBPinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → Session
//
// 更新系ルートのみ AccessGuard → RateLimit を追加で通す。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	authHandler := NewAuthHandler(deps.AuthService, deps.StateIssuer, deps.Metrics, deps.AuthConfig)
	tokenHandler := NewTokenHandler(deps.TokenService, deps.Metrics, deps.TokenTemplatePath)
	itemHandler := NewItemHandler(deps.ItemService)
	userHandler := NewUserHandler(deps.UserService)

	guard := middleware.NewAccessGuardMiddleware(deps.Guard, deps.Metrics)
	mutation := chi.Chain(guard, deps.RateLimiter.GeneralMiddleware())

	// --- 運用系のルート ---
	docsURL := deps.DocsURL
	if docsURL == "" {
		docsURL = defaultLoginRedirectURL
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, docsURL, http.StatusFound)
	})
	r.Get("/health", healthHandler(deps.DB))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- APIルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/github", authHandler.Login)
			r.Get("/github/callback", authHandler.Callback)
			r.Get("/status", authHandler.Status)
			r.Get("/logout", authHandler.Logout)
			r.With(guard, deps.RateLimiter.TokenIssueMiddleware()).Get("/token", tokenHandler.Issue)
			r.Get("/check-token", tokenHandler.CheckToken)
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/", itemHandler.List)
			r.Get("/{id}", itemHandler.Get)
			r.With(mutation...).Post("/", itemHandler.Create)
			r.With(mutation...).Put("/{id}", itemHandler.Update)
			r.With(mutation...).Delete("/{id}", itemHandler.Delete)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", userHandler.List)
			r.Get("/{id}", userHandler.Get)
			r.Get("/{id}/items", userHandler.ListItems)
			r.With(mutation...).Post("/", userHandler.Create)
			r.With(mutation...).Put("/{id}", userHandler.Update)
			r.With(mutation...).Delete("/{id}", userHandler.Delete)
		})
	})

	return r
}

// healthHandler はデータベースの疎通を確認するハンドラーを返す。
func healthHandler(db DBPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
