package app

import (
	"context"
	"database/sql"
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

	"github.com/hitoshi/learnpath/internal/cache"
	"github.com/hitoshi/learnpath/internal/config"
	"github.com/hitoshi/learnpath/internal/content"
	"github.com/hitoshi/learnpath/internal/curriculum"
	"github.com/hitoshi/learnpath/internal/database"
	"github.com/hitoshi/learnpath/internal/handler"
	"github.com/hitoshi/learnpath/internal/logger"
	"github.com/hitoshi/learnpath/internal/metrics"
	"github.com/hitoshi/learnpath/internal/middleware"
	"github.com/hitoshi/learnpath/internal/progress"
	"github.com/hitoshi/learnpath/internal/repository"
	"github.com/hitoshi/learnpath/internal/security"
	"github.com/hitoshi/learnpath/internal/worker/rerender"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込んでログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("unknown LOG_LEVEL, falling back to info", slog.String("log_level", cfg.LogLevel))
	}
	logger.SetLevel(level)

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
		slog.String("cache_backend", cfg.CacheBackend),
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

// services はAPIサーバーとワーカーが共有するドメインサービス群。
type services struct {
	db         *sql.DB
	registry   *prometheus.Registry
	collector  *metrics.Collector
	lessonRepo *repository.PostgresLessonRepo
	content    *content.Service
	curriculum *curriculum.Accessor
	progress   *progress.Aggregator
	closeCache func()
}

// close はキャッシュとDB接続を閉じる。
func (s *services) close() {
	s.closeCache()
	s.db.Close()
}

// buildServices はDB接続を開き、キャッシュ・リポジトリ・ドメインサービスをワイヤリングする。
func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. キャッシュ
	store, closeCache, err := newCache(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	c := cache.Instrument(store, collector)

	// 4. リポジトリの初期化
	lessonRepo := repository.NewPostgresLessonRepo(db)
	sectionRepo := repository.NewPostgresSectionRepo(db)
	pathRepo := repository.NewPostgresPathRepo(db)
	completionRepo := repository.NewPostgresCompletionRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)

	// 5. ドメインサービスの初期化
	renderer := content.NewRenderer(security.NewContentSanitizer(), cfg.RenderFreshness)
	contentService := content.NewService(lessonRepo, c, renderer,
		content.WithCacheTTL(cfg.CacheDefaultTTL),
		content.WithLogger(slog.Default()),
		content.WithRecorder(collector),
	)
	accessor := curriculum.NewAccessor(pathRepo, sectionRepo, lessonRepo, c, cfg.CacheDefaultTTL)
	aggregator := progress.NewAggregator(lessonRepo, sectionRepo, completionRepo, userRepo,
		progress.WithMaxConcurrent(cfg.ProgressMaxConcurrent),
		progress.WithLogger(slog.Default()),
		progress.WithRecorder(collector),
	)

	return &services{
		db:         db,
		registry:   registry,
		collector:  collector,
		lessonRepo: lessonRepo,
		content:    contentService,
		curriculum: accessor,
		progress:   aggregator,
		closeCache: closeCache,
	}, nil
}

// newCache は設定に応じたキャッシュバックエンドを生成する。
// 戻り値の関数でバックエンドを停止する。
func newCache(ctx context.Context, cfg *config.Config) (cache.Cache, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Namespace:  cfg.RedisNamespace,
			DefaultTTL: cfg.CacheDefaultTTL,
		}, slog.Default())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis cache connected", slog.String("addr", cfg.RedisAddr))
		return rc, func() { rc.Close() }, nil
	default:
		mc := cache.NewMemoryCache(cache.MemoryConfig{
			DefaultTTL:    cfg.CacheDefaultTTL,
			SweepInterval: cfg.CacheSweepInterval,
		})
		return mc, mc.Stop, nil
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	svcs, err := buildServices(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer svcs.close()

	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitContentUpdate),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		JWTSecret:         []byte(cfg.JWTSecret),

		HealthChecker:   svcs.db,
		Metrics:         svcs.collector,
		MetricsGatherer: svcs.registry,

		ContentService:    svcs.content,
		CurriculumService: svcs.curriculum,
		ProgressService:   handler.NewProgressServiceAdapter(svcs.curriculum, svcs.progress),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// runWorker はワーカーモードで起動する。
// 鮮度切れのレンダリング済みHTMLを定期的に更新し、/metrics を公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	svcs, err := buildServices(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer svcs.close()

	job := rerender.NewJob(svcs.lessonRepo, svcs.content, slog.Default(), svcs.collector, rerender.Config{
		Freshness:      cfg.RenderFreshness,
		BatchSize:      cfg.RerenderBatchSize,
		MaxConcurrency: cfg.ProgressMaxConcurrent,
	})

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(svcs.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.String("schedule", cfg.RerenderSchedule),
		slog.Int("batch_size", cfg.RerenderBatchSize),
	)

	// 再レンダリングジョブをメインgoroutineで実行（ブロッキング）
	jobErr := job.Start(ctx, cfg.RerenderSchedule)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if jobErr != nil {
		return fmt.Errorf("rerender worker failed: %w", jobErr)
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// serveUntilSignal はサーバーを起動し、SIGINT/SIGTERM受信でグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s listen error: %w", name, err)
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.Redacted()
}
