package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/learnpath/internal/metrics"
	"github.com/hitoshi/learnpath/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// healthCheckTimeout は /health でのDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はDB疎通確認のインターフェース。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	JWTSecret         []byte

	// 運用エンドポイント
	HealthChecker   HealthChecker
	Metrics         middleware.HTTPRecorder
	MetricsGatherer prometheus.Gatherer

	ContentService    ContentServiceInterface
	CurriculumService CurriculumServiceInterface
	ProgressService   ProgressServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → Metrics → SecurityHeaders → CORS
//
// API は /api/v1 と /api の両方にマウントする。
// 公開ルートはIP単位、認証ルートはユーザー単位でレート制限する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	api := apiRoutes(deps)
	r.Route("/api/v1", api)
	r.Route("/api", api)

	return r
}

func apiRoutes(deps *RouterDeps) func(r chi.Router) {
	contentHandler := NewContentHandler(deps.ContentService)
	curriculumHandler := NewCurriculumHandler(deps.CurriculumService, deps.ContentService)
	progressHandler := NewProgressHandler(deps.ProgressService)

	return func(r chi.Router) {
		// --- 認証不要のルート ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/paths", curriculumHandler.GetPaths)
			r.Get("/paths/{identifier}", curriculumHandler.GetPath)
			r.Get("/paths/{identifier}/sections", curriculumHandler.GetSectionsByPath)

			r.Get("/sections/{identifier}", curriculumHandler.GetSection)
			r.Get("/sections/{identifier}/lessons", curriculumHandler.GetLessonsBySection)

			r.Get("/lessons/{identifier}", curriculumHandler.GetLesson)
			r.Get("/lessons/{lessonId}/content", contentHandler.GetRenderedContent)
			r.Get("/lessons/{lessonId}/content/raw", contentHandler.GetRawContent)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Auth → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.JWTSecret))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			// コンテンツ更新は更新専用のレート制限を追加
			r.With(deps.RateLimiter.ContentUpdateMiddleware()).Put("/lessons/{lessonId}/content", contentHandler.UpdateLessonContent)
			r.Get("/lessons/{lessonId}/content/revisions", contentHandler.ListRevisions)

			r.Post("/lessons/{lessonId}/complete", progressHandler.MarkLessonCompleted)
			r.Get("/lessons/{lessonId}/completion", progressHandler.IsLessonCompleted)
			r.Get("/sections/{identifier}/progress", progressHandler.GetSectionProgress)
			r.Get("/paths/{identifier}/progress", progressHandler.GetPathProgress)
			r.Get("/progress", progressHandler.GetUserProgress)
		})
	}
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.WarnContext(r.Context(), "health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
