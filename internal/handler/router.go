package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fitjourney/internal/metrics"
	"github.com/hitoshi/fitjourney/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     *middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// 公開エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 活動記録
	HabitLogService     HabitLogServiceInterface
	VerificationService VerificationServiceInterface
	MaxUploadBytes      int64

	// 水分摂取・ダッシュボード・食事解析
	HydrationService HydrationServiceInterface
	DashboardService DashboardServiceInterface
	MealAnalyzer     MealAnalyzerInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → Auth → RateLimit(General)
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	habitHandler := NewHabitLogHandler(deps.HabitLogService, deps.VerificationService, deps.MaxUploadBytes)
	waterHandler := NewWaterHandler(deps.HydrationService)
	dashboardHandler := NewDashboardHandler(deps.DashboardService)
	mealHandler := NewMealHandler(deps.MealAnalyzer, deps.MaxUploadBytes)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 活動記録
		r.Route("/api/habit-logs", func(r chi.Router) {
			// POST /api/habit-logs - 写真アップロードを伴うため専用レート制限を追加
			r.With(deps.RateLimiter.UploadMiddleware()).Post("/", habitHandler.CreateLog)
			r.Get("/", habitHandler.ListLogs)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", habitHandler.GetLog)
				r.Post("/verify", habitHandler.VerifyLog)
			})
		})

		// 水分摂取
		r.Route("/api/water-logs", func(r chi.Router) {
			r.Post("/", waterHandler.AddWater)
			r.Get("/today", waterHandler.Today)
		})

		r.Get("/api/dashboard", dashboardHandler.Summary)

		// 食事写真解析
		r.With(deps.RateLimiter.UploadMiddleware()).Post("/api/meals/analyze", mealHandler.Analyze)
	})

	return r
}
