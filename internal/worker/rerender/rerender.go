// Package rerender は鮮度切れのレンダリング済みHTMLを定期的に更新するジョブを提供する。
// 未レンダリング、または鮮度期間より前にレンダリングされたレッスンをバッチで取得し、
// コンテンツサービス経由で再レンダリングしてDBとキャッシュを更新する。
package rerender

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/learnpath/internal/model"
)

const (
	// DefaultSchedule はデフォルトの実行スケジュール。
	DefaultSchedule = "@every 10m"
	// DefaultBatchSize は1回の実行で処理する最大レッスン数。
	DefaultBatchSize = 50
	// DefaultMaxConcurrency は再レンダリングの最大並列数。
	DefaultMaxConcurrency = 4
)

// LessonSource は再レンダリング対象レッスンの取得インターフェース。
// repository.ContentRepository が満たす。
type LessonSource interface {
	ListStaleRendered(ctx context.Context, before time.Time, limit int) ([]model.Lesson, error)
}

// Refresher はレッスンを再レンダリングして保存するインターフェース。
// content.Service が満たす。
type Refresher interface {
	RefreshRenderedContent(ctx context.Context, lesson *model.Lesson) (*model.RenderedContent, error)
}

// Recorder は再レンダリング結果の記録先。metrics.Collector が実装する。
type Recorder interface {
	RecordRerender(success bool)
}

// Config は再レンダリングジョブの設定。
type Config struct {
	Freshness      time.Duration
	BatchSize      int
	MaxConcurrency int
}

// Result は1回の実行結果。
type Result struct {
	Refreshed int
	Failed    int
}

// Job は鮮度切れレッスンの再レンダリングジョブ。
type Job struct {
	source    LessonSource
	refresher Refresher
	logger    *slog.Logger
	recorder  Recorder
	config    Config
	now       func() time.Time
}

// NewJob は新しいJobを生成する。
// BatchSize と MaxConcurrency が0以下の場合はデフォルト値を使う。
func NewJob(source LessonSource, refresher Refresher, logger *slog.Logger, recorder Recorder, cfg Config) *Job {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = time.Hour
	}
	return &Job{
		source:    source,
		refresher: refresher,
		logger:    logger,
		recorder:  recorder,
		config:    cfg,
		now:       time.Now,
	}
}

// Start はcron式 schedule に従ってジョブを定期実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまでブロックする。
// 前回の実行が終わっていない場合、その回はスキップする。
func (j *Job) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{j.logger})))
	if _, err := c.AddFunc(schedule, func() { j.runLogged(ctx) }); err != nil {
		return fmt.Errorf("再レンダリングのスケジュール登録に失敗しました: %w", err)
	}

	j.logger.Info("再レンダリングジョブを開始しました",
		slog.String("schedule", schedule),
		slog.Int("batch_size", j.config.BatchSize),
		slog.Int("max_concurrency", j.config.MaxConcurrency),
	)

	j.runLogged(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("再レンダリングジョブを停止しました")
	return nil
}

func (j *Job) runLogged(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("再レンダリングサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は鮮度切れのレッスンを1バッチ取得し、並列で再レンダリングする。
// 個々のレッスンの失敗はログと計測に留め、サイクル全体は継続する。
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()

	before := j.now().Add(-j.config.Freshness)
	lessons, err := j.source.ListStaleRendered(ctx, before, j.config.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("再レンダリング対象の取得に失敗しました: %w", err)
	}

	if len(lessons) == 0 {
		j.logger.Debug("再レンダリング対象のレッスンはありません")
		return Result{}, nil
	}

	var refreshed, failed atomic.Int64

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, j.config.MaxConcurrency)
	var wg sync.WaitGroup

	for i := range lessons {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(l *model.Lesson) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := j.refresher.RefreshRenderedContent(ctx, l); err != nil {
				failed.Add(1)
				j.record(false)
				j.logger.Warn("レッスンの再レンダリングに失敗しました",
					slog.String("lesson_id", l.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			refreshed.Add(1)
			j.record(true)
		}(&lessons[i])
	}

	wg.Wait()

	result := Result{Refreshed: int(refreshed.Load()), Failed: int(failed.Load())}
	j.logger.Info("再レンダリングサイクルが完了しました",
		slog.Int("lesson_count", len(lessons)),
		slog.Int("refreshed", result.Refreshed),
		slog.Int("failed", result.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return result, ctx.Err()
}

func (j *Job) record(success bool) {
	if j.recorder != nil {
		j.recorder.RecordRerender(success)
	}
}

// cronLogger は cron.Logger を slog に接続する。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
