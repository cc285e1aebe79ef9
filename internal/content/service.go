package content

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/hitoshi/learnpath/internal/cache"
	"github.com/hitoshi/learnpath/internal/model"
	"github.com/hitoshi/learnpath/internal/repository"
)

// DefaultChangeDescription は更新理由が未指定の場合に監査履歴へ記録する文言。
const DefaultChangeDescription = "Updated content"

// Recorder はレンダリングの計測値を記録するインターフェース。
// metrics.Collector が実装する。
type Recorder interface {
	RecordRender(format string, duration time.Duration)
	RecordWriteThroughFailure()
}

// Service はレッスンコンテンツの取得と更新を提供する。
// 読み取りはキャッシュを経由し、キャッシュミス時にレンダリング結果をDBへ書き戻す。
type Service struct {
	repo     repository.ContentRepository
	cache    cache.Cache
	renderer *Renderer
	ttl      time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithCacheTTL はレンダリング済みコンテンツのキャッシュ有効期間を設定する。
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithRecorder は計測値の記録先を設定する。
func WithRecorder(rec Recorder) Option {
	return func(s *Service) { s.recorder = rec }
}

// NewService は新しいServiceを生成する。
func NewService(repo repository.ContentRepository, c cache.Cache, renderer *Renderer, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		cache:    c,
		renderer: renderer,
		ttl:      cache.DefaultTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ContentCacheKey はレンダリング済みコンテンツのキャッシュキーを返す。
func ContentCacheKey(lessonID string) string {
	return "lesson_content_" + lessonID
}

// lessonKeyPattern はレッスンに関連する全キャッシュキーにマッチする正規表現を返す。
func lessonKeyPattern(lessonID string) string {
	return "^lesson_" + regexp.QuoteMeta(lessonID)
}

// GetRenderedContent はレッスンのレンダリング済みコンテンツを返す。
// キャッシュに有効な値があればそれを返し、なければレンダリングしてDBとキャッシュに書き込む。
func (s *Service) GetRenderedContent(ctx context.Context, lessonID string) (*model.RenderedContent, error) {
	return cache.GetOrSet(ctx, s.cache, ContentCacheKey(lessonID), s.ttl,
		func(ctx context.Context) (*model.RenderedContent, error) {
			lesson, err := s.repo.FindLessonByID(ctx, lessonID)
			if err != nil {
				return nil, fmt.Errorf("failed to load lesson: %w", err)
			}
			if lesson == nil {
				return nil, model.NewLessonNotFoundError(lessonID)
			}
			return s.renderAndWriteThrough(ctx, lesson)
		})
}

// RefreshRenderedContent は鮮度に関係なくレッスンを再レンダリングし、DBとキャッシュを更新する。
func (s *Service) RefreshRenderedContent(ctx context.Context, lesson *model.Lesson) (*model.RenderedContent, error) {
	result, err := s.renderFresh(lesson.Content)
	if err != nil {
		return nil, err
	}

	at := s.renderer.Now()
	if err := s.repo.UpdateRenderedContent(ctx, lesson.ID, buildPatch(lesson.Content, result, at)); err != nil {
		return nil, fmt.Errorf("failed to persist rendered content: %w", err)
	}

	rendered := &model.RenderedContent{Content: result.HTML, Format: result.Format}
	s.cache.Set(ctx, ContentCacheKey(lesson.ID), rendered, s.ttl)
	return rendered, nil
}

func (s *Service) renderAndWriteThrough(ctx context.Context, lesson *model.Lesson) (*model.RenderedContent, error) {
	at := s.renderer.Now()
	if rec, ok := lesson.Content.(model.StructuredRecord); ok && rec.Rendered != nil && s.renderer.isFresh(rec) {
		// 保存済みの結果を再利用した場合はレンダリング時刻を進めない
		at = rec.Rendered.At
	}

	start := time.Now()
	result, err := s.renderer.Render(lesson.Content)
	if err != nil {
		return nil, err
	}
	s.recordRender(result.Format, time.Since(start))

	if err := s.repo.UpdateRenderedContent(ctx, lesson.ID, buildPatch(lesson.Content, result, at)); err != nil {
		if s.recorder != nil {
			s.recorder.RecordWriteThroughFailure()
		}
		s.logger.WarnContext(ctx, "rendered content write-through failed",
			slog.String("lesson_id", lesson.ID),
			slog.String("error", err.Error()),
		)
	}

	return &model.RenderedContent{Content: result.HTML, Format: result.Format}, nil
}

// UpdateLessonContent はレッスンのコンテンツを単一トランザクションで更新する。
// 新しいコンテンツは鮮度に関係なく再レンダリングされ、監査履歴が1件追加される。
// コミット後にレッスン関連のキャッシュを無効化する。
func (s *Service) UpdateLessonContent(ctx context.Context, lessonID string, content model.Content, userID, changeDescription string) (*model.Lesson, error) {
	if content == nil {
		return nil, model.NewInvalidContentError("content is required")
	}
	if changeDescription == "" {
		changeDescription = DefaultChangeDescription
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, model.NewTransactionFailedError(err)
	}
	defer tx.Rollback()

	lesson, err := s.repo.FindLessonByIDForUpdate(ctx, tx, lessonID)
	if err != nil {
		return nil, model.NewTransactionFailedError(err)
	}
	if lesson == nil {
		return nil, model.NewLessonNotFoundError(lessonID)
	}

	normalized := normalizeContent(content)
	result, err := s.renderFresh(normalized)
	if err != nil {
		return nil, err
	}

	now := s.renderer.Now()
	patch := buildPatch(normalized, result, now)

	if err := s.repo.UpdateLessonContentTx(ctx, tx, lessonID, patch); err != nil {
		return nil, model.NewTransactionFailedError(err)
	}

	rev := &model.ContentRevision{
		LessonID:          lessonID,
		UpdatedBy:         userID,
		ChangeDescription: changeDescription,
		Content:           patch.Content,
		CreatedAt:         now,
	}
	if err := s.repo.InsertRevisionTx(ctx, tx, rev); err != nil {
		return nil, model.NewTransactionFailedError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, model.NewTransactionFailedError(err)
	}

	s.invalidate(ctx, lessonID)

	s.logger.InfoContext(ctx, "lesson content updated",
		slog.String("lesson_id", lessonID),
		slog.String("user_id", userID),
		slog.Int("version", rev.Version),
		slog.String("format", string(result.Format)),
	)

	rendered := patch.RenderedContent
	lesson.Content = patch.Content
	lesson.RenderedContent = &rendered
	lesson.LastRenderedAt = &now
	return lesson, nil
}

// GetRawContent は保存されている未加工のコンテンツと実効形式を返す。キャッシュは使わない。
func (s *Service) GetRawContent(ctx context.Context, lessonID string) (*model.RawContent, error) {
	lesson, err := s.repo.FindLessonByID(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lesson: %w", err)
	}
	if lesson == nil {
		return nil, model.NewLessonNotFoundError(lessonID)
	}
	return &model.RawContent{Content: lesson.Content, Format: lesson.Content.EffectiveFormat()}, nil
}

// ListRevisions はレッスンのコンテンツ更新履歴を新しい順に返す。
func (s *Service) ListRevisions(ctx context.Context, lessonID string) ([]model.ContentRevision, error) {
	lesson, err := s.repo.FindLessonByID(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lesson: %w", err)
	}
	if lesson == nil {
		return nil, model.NewLessonNotFoundError(lessonID)
	}

	revs, err := s.repo.ListRevisions(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	return revs, nil
}

func (s *Service) renderFresh(c model.Content) (RenderResult, error) {
	start := time.Now()
	result, err := s.renderer.RenderFresh(c)
	if err != nil {
		return RenderResult{}, err
	}
	s.recordRender(result.Format, time.Since(start))
	return result, nil
}

func (s *Service) recordRender(format model.Format, d time.Duration) {
	if s.recorder != nil {
		s.recorder.RecordRender(string(format), d)
	}
}

// invalidate はレッスンのコンテンツキャッシュと、lesson_{id} で始まる全キーを削除する。
// コミット済みの更新は取り消さないため、失敗はログに留める。
func (s *Service) invalidate(ctx context.Context, lessonID string) {
	s.cache.Delete(ctx, ContentCacheKey(lessonID))
	if _, err := s.cache.DeleteByPattern(ctx, lessonKeyPattern(lessonID)); err != nil {
		s.logger.WarnContext(ctx, "lesson cache invalidation failed",
			slog.String("lesson_id", lessonID),
			slog.String("error", err.Error()),
		)
	}
}

// normalizeContent は更新入力を保存形式に揃える。
// 文字列は形式を推定して構造化し、構造化入力は raw と format のみを引き継ぐ。
func normalizeContent(c model.Content) model.StructuredRecord {
	switch v := c.(type) {
	case model.StructuredRecord:
		format := v.Format
		if !format.Valid() {
			format = model.FormatMarkdown
		}
		return model.StructuredRecord{Raw: v.Raw, Format: format}
	default:
		return model.StructuredRecord{Raw: c.RawText(), Format: c.EffectiveFormat()}
	}
}

// buildPatch はレンダリング結果から書き込み値を組み立てる。
// 構造化コンテンツの場合はレコード内の html と lastRenderedAt も更新する。
func buildPatch(c model.Content, result RenderResult, at time.Time) model.LessonContentPatch {
	stored := c
	if rec, ok := c.(model.StructuredRecord); ok {
		rec.Rendered = &model.RenderSnapshot{HTML: result.HTML, At: at}
		stored = rec
	}
	return model.LessonContentPatch{
		Content:         stored,
		RenderedContent: result.HTML,
		LastRenderedAt:  at,
	}
}
