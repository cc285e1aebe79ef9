package handler

import (
	"context"

	"github.com/hitoshi/learnpath/internal/content"
	"github.com/hitoshi/learnpath/internal/curriculum"
	"github.com/hitoshi/learnpath/internal/model"
	"github.com/hitoshi/learnpath/internal/progress"
)

// curriculumResolver はIDまたはスラッグから学習パスとセクションを解決する。
type curriculumResolver interface {
	GetPath(ctx context.Context, identifier string) (*model.Path, error)
	GetSection(ctx context.Context, identifier, pathID string) (*model.Section, error)
}

// progressAggregator は進捗集計の操作。progress.Aggregator が実装する。
type progressAggregator interface {
	GetUserSectionProgress(ctx context.Context, userID, sectionID string) (*model.SectionProgress, error)
	GetUserPathProgress(ctx context.Context, userID, pathID string) (*model.PathProgress, error)
	MarkLessonCompleted(ctx context.Context, lessonID, userID string) (*model.LessonCompletion, error)
	IsLessonCompleted(ctx context.Context, userID, lessonID string) (bool, error)
	GetUserProgress(ctx context.Context, userID string) (map[string]bool, error)
}

// ProgressServiceAdapter はカリキュラム参照と進捗集計を ProgressServiceInterface に適合させるアダプタ。
// スラッグをIDへ解決してから集計する。
type ProgressServiceAdapter struct {
	curriculum curriculumResolver
	aggregator progressAggregator
}

// NewProgressServiceAdapter はProgressServiceAdapterを生成する。
func NewProgressServiceAdapter(c curriculumResolver, agg progressAggregator) *ProgressServiceAdapter {
	return &ProgressServiceAdapter{curriculum: c, aggregator: agg}
}

// GetSectionProgress はセクションを解決してから進捗を集計する。
func (a *ProgressServiceAdapter) GetSectionProgress(ctx context.Context, userID, sectionIdentifier string) (*model.SectionProgress, error) {
	section, err := a.curriculum.GetSection(ctx, sectionIdentifier, "")
	if err != nil {
		return nil, err
	}
	return a.aggregator.GetUserSectionProgress(ctx, userID, section.ID)
}

// GetPathProgress は学習パスを解決してから進捗を集計する。
func (a *ProgressServiceAdapter) GetPathProgress(ctx context.Context, userID, pathIdentifier string) (*model.PathProgress, error) {
	path, err := a.curriculum.GetPath(ctx, pathIdentifier)
	if err != nil {
		return nil, err
	}
	return a.aggregator.GetUserPathProgress(ctx, userID, path.ID)
}

// MarkLessonCompleted はレッスンを完了済みにする。
func (a *ProgressServiceAdapter) MarkLessonCompleted(ctx context.Context, lessonID, userID string) (*model.LessonCompletion, error) {
	return a.aggregator.MarkLessonCompleted(ctx, lessonID, userID)
}

// IsLessonCompleted はレッスンの完了状態を返す。
func (a *ProgressServiceAdapter) IsLessonCompleted(ctx context.Context, userID, lessonID string) (bool, error) {
	return a.aggregator.IsLessonCompleted(ctx, userID, lessonID)
}

// GetUserProgress はユーザーの完了済みレッスンIDの集合を返す。
func (a *ProgressServiceAdapter) GetUserProgress(ctx context.Context, userID string) (map[string]bool, error) {
	return a.aggregator.GetUserProgress(ctx, userID)
}

// --- compile-time interface checks ---

var _ ProgressServiceInterface = (*ProgressServiceAdapter)(nil)
var _ ContentServiceInterface = (*content.Service)(nil)
var _ RawContentGetter = (*content.Service)(nil)
var _ CurriculumServiceInterface = (*curriculum.Accessor)(nil)
var _ curriculumResolver = (*curriculum.Accessor)(nil)
var _ progressAggregator = (*progress.Aggregator)(nil)
