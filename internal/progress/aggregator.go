// Package progress はレッスン完了記録からセクション・学習パス単位の進捗を集計する。
// 進捗は保存せず、リクエストごとに完了記録から再計算する。
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/learnpath/internal/model"
	"github.com/hitoshi/learnpath/internal/repository"
)

// DefaultMaxConcurrent は学習パス進捗の計算で同時に集計するセクション数の上限。
const DefaultMaxConcurrent = 4

// Recorder は完了記録の計測値を記録するインターフェース。
type Recorder interface {
	RecordCompletion()
}

// Aggregator は進捗集計と完了記録を提供する。
type Aggregator struct {
	lessons       repository.LessonRepository
	sections      repository.SectionRepository
	completions   repository.CompletionRepository
	users         repository.UserRepository
	maxConcurrent int
	logger        *slog.Logger
	recorder      Recorder
}

// Option はAggregatorの任意設定。
type Option func(*Aggregator)

// WithMaxConcurrent はセクション集計の並列数を設定する。0以下は無視する。
func WithMaxConcurrent(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxConcurrent = n
		}
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// WithRecorder は計測値の記録先を設定する。
func WithRecorder(rec Recorder) Option {
	return func(a *Aggregator) { a.recorder = rec }
}

// NewAggregator はAggregatorの新しいインスタンスを生成する。
func NewAggregator(
	lessons repository.LessonRepository,
	sections repository.SectionRepository,
	completions repository.CompletionRepository,
	users repository.UserRepository,
	opts ...Option,
) *Aggregator {
	a := &Aggregator{
		lessons:       lessons,
		sections:      sections,
		completions:   completions,
		users:         users,
		maxConcurrent: DefaultMaxConcurrent,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Percentage は完了率を0〜100の整数で返す。小数点以下は四捨五入し、total が0なら0を返す。
func Percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// GetUserSectionProgress はセクション内の各レッスンの完了状態を order 順で返す。
func (a *Aggregator) GetUserSectionProgress(ctx context.Context, userID, sectionID string) (*model.SectionProgress, error) {
	lessons, err := a.lessons.FindBySection(ctx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("レッスン一覧の取得に失敗しました: %w", err)
	}

	ids := make([]string, len(lessons))
	for i, l := range lessons {
		ids[i] = l.ID
	}

	completed := map[string]bool{}
	if len(ids) > 0 {
		records, err := a.completions.FindByUserAndLessons(ctx, userID, ids)
		if err != nil {
			return nil, fmt.Errorf("完了記録の取得に失敗しました: %w", err)
		}
		for _, r := range records {
			completed[r.LessonID] = true
		}
	}

	progress := &model.SectionProgress{
		SectionID:      sectionID,
		TotalLessons:   len(lessons),
		LessonProgress: make([]model.LessonProgress, 0, len(lessons)),
	}
	for _, l := range lessons {
		done := completed[l.ID]
		if done {
			progress.CompletedLessons++
		}
		progress.LessonProgress = append(progress.LessonProgress, model.LessonProgress{
			LessonID:    l.ID,
			Title:       l.Title,
			IsCompleted: done,
		})
	}
	return progress, nil
}

// GetUserPathProgress は学習パス内の全セクションの進捗を集計する。
// セクションは並列に集計するが、結果はパス内の order 順に並ぶ。
// レッスンを持たないセクションも完了率0として含める。
func (a *Aggregator) GetUserPathProgress(ctx context.Context, userID, pathID string) (*model.PathProgress, error) {
	sections, err := a.sections.FindByPath(ctx, pathID)
	if err != nil {
		return nil, fmt.Errorf("セクション一覧の取得に失敗しました: %w", err)
	}

	summaries := make([]model.SectionProgressSummary, len(sections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConcurrent)
	for i, sec := range sections {
		g.Go(func() error {
			sp, err := a.GetUserSectionProgress(gctx, userID, sec.ID)
			if err != nil {
				return err
			}
			summaries[i] = model.SectionProgressSummary{
				SectionID:  sec.ID,
				Title:      sec.Title,
				Completed:  sp.CompletedLessons,
				Total:      sp.TotalLessons,
				Percentage: Percentage(sp.CompletedLessons, sp.TotalLessons),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	progress := &model.PathProgress{SectionProgress: summaries}
	for _, s := range summaries {
		progress.Completed += s.Completed
		progress.Total += s.Total
	}
	progress.Percentage = Percentage(progress.Completed, progress.Total)
	return progress, nil
}

// MarkLessonCompleted はレッスンを完了済みとして記録する。
// 既に完了済みの場合は既存の記録を返し、重複は作らない。
func (a *Aggregator) MarkLessonCompleted(ctx context.Context, lessonID, userID string) (*model.LessonCompletion, error) {
	lesson, err := a.lessons.FindByID(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("レッスンの取得に失敗しました: %w", err)
	}
	if lesson == nil {
		return nil, model.NewLessonNotFoundError(lessonID)
	}

	exists, err := a.users.Exists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if !exists {
		return nil, model.NewUserNotFoundError()
	}

	completion, err := a.completions.Create(ctx, userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("完了記録の作成に失敗しました: %w", err)
	}

	if a.recorder != nil {
		a.recorder.RecordCompletion()
	}
	a.logger.InfoContext(ctx, "lesson completed",
		slog.String("lesson_id", lessonID),
		slog.String("user_id", userID),
	)
	return completion, nil
}

// IsLessonCompleted はユーザーがレッスンを完了済みかどうかを返す。
func (a *Aggregator) IsLessonCompleted(ctx context.Context, userID, lessonID string) (bool, error) {
	c, err := a.completions.FindOne(ctx, userID, lessonID)
	if err != nil {
		return false, fmt.Errorf("完了記録の取得に失敗しました: %w", err)
	}
	return c != nil, nil
}

// GetUserProgress はユーザーが完了した全レッスンのIDをキーとするマップを返す。
func (a *Aggregator) GetUserProgress(ctx context.Context, userID string) (map[string]bool, error) {
	records, err := a.completions.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("完了記録の取得に失敗しました: %w", err)
	}
	out := make(map[string]bool, len(records))
	for _, r := range records {
		out[r.LessonID] = true
	}
	return out, nil
}
