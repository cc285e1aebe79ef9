// Package curriculum は学習パス・セクション・レッスンの読み取りを提供する。
// 学習パスとセクションの参照結果はキャッシュされ、TTL経過まで再取得しない。
package curriculum

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/learnpath/internal/cache"
	"github.com/hitoshi/learnpath/internal/model"
	"github.com/hitoshi/learnpath/internal/repository"
)

// PathsCacheKey は学習パス一覧のキャッシュキー。
const PathsCacheKey = "paths_all"

// PathCacheKey は学習パス単体のキャッシュキーを返す。
func PathCacheKey(identifier string) string {
	return "path_" + identifier
}

// SectionsByPathCacheKey は学習パス内セクション一覧のキャッシュキーを返す。
func SectionsByPathCacheKey(pathIdentifier string) string {
	return "sections_by_path_" + pathIdentifier
}

// SectionCacheKey はセクション単体のキャッシュキーを返す。pathID が空の場合は "any" を使う。
func SectionCacheKey(identifier, pathID string) string {
	if pathID == "" {
		pathID = "any"
	}
	return "section_" + identifier + "_" + pathID
}

// Accessor はカリキュラムの読み取りサービス。
// 識別子はIDとしてもスラッグとしても受け付ける。
type Accessor struct {
	paths    repository.PathRepository
	sections repository.SectionRepository
	lessons  repository.LessonRepository
	cache    cache.Cache
	ttl      time.Duration
}

// NewAccessor はAccessorの新しいインスタンスを生成する。ttl が0以下の場合はキャッシュの既定値を使う。
func NewAccessor(
	paths repository.PathRepository,
	sections repository.SectionRepository,
	lessons repository.LessonRepository,
	c cache.Cache,
	ttl time.Duration,
) *Accessor {
	return &Accessor{
		paths:    paths,
		sections: sections,
		lessons:  lessons,
		cache:    c,
		ttl:      ttl,
	}
}

func isID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}

// GetPaths は全学習パスを返す。
func (a *Accessor) GetPaths(ctx context.Context) ([]model.Path, error) {
	return cache.GetOrSet(ctx, a.cache, PathsCacheKey, a.ttl, func(ctx context.Context) ([]model.Path, error) {
		paths, err := a.paths.FindAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("学習パス一覧の取得に失敗しました: %w", err)
		}
		return paths, nil
	})
}

// GetPath はIDまたはスラッグで学習パスを返す。
func (a *Accessor) GetPath(ctx context.Context, identifier string) (*model.Path, error) {
	return cache.GetOrSet(ctx, a.cache, PathCacheKey(identifier), a.ttl, func(ctx context.Context) (*model.Path, error) {
		return a.findPath(ctx, identifier)
	})
}

func (a *Accessor) findPath(ctx context.Context, identifier string) (*model.Path, error) {
	if isID(identifier) {
		p, err := a.paths.FindByID(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("学習パスの取得に失敗しました: %w", err)
		}
		if p != nil {
			return p, nil
		}
	}

	p, err := a.paths.FindBySlug(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("学習パスの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPathNotFoundError(identifier)
	}
	return p, nil
}

// GetSectionsByPath は学習パス内のセクションを order 順で返す。
// スラッグが渡された場合は先にIDへ解決する。
func (a *Accessor) GetSectionsByPath(ctx context.Context, pathIdentifier string) ([]model.Section, error) {
	return cache.GetOrSet(ctx, a.cache, SectionsByPathCacheKey(pathIdentifier), a.ttl, func(ctx context.Context) ([]model.Section, error) {
		pathID := pathIdentifier
		if !isID(pathIdentifier) {
			p, err := a.paths.FindBySlug(ctx, pathIdentifier)
			if err != nil {
				return nil, fmt.Errorf("学習パスの取得に失敗しました: %w", err)
			}
			if p == nil {
				return nil, model.NewPathNotFoundError(pathIdentifier)
			}
			pathID = p.ID
		}

		sections, err := a.sections.FindByPath(ctx, pathID)
		if err != nil {
			return nil, fmt.Errorf("セクション一覧の取得に失敗しました: %w", err)
		}
		return sections, nil
	})
}

// GetSection はIDまたはスラッグでセクションを返す。
// pathID が指定された場合、別の学習パスに属するセクションはIDで一致しても採用せずスラッグ検索に進む。
func (a *Accessor) GetSection(ctx context.Context, identifier, pathID string) (*model.Section, error) {
	return cache.GetOrSet(ctx, a.cache, SectionCacheKey(identifier, pathID), a.ttl, func(ctx context.Context) (*model.Section, error) {
		if isID(identifier) {
			s, err := a.sections.FindByID(ctx, identifier)
			if err != nil {
				return nil, fmt.Errorf("セクションの取得に失敗しました: %w", err)
			}
			if s != nil && (pathID == "" || s.PathID == pathID) {
				return s, nil
			}
		}

		s, err := a.sections.FindBySlug(ctx, identifier, pathID)
		if err != nil {
			return nil, fmt.Errorf("セクションの取得に失敗しました: %w", err)
		}
		if s == nil {
			return nil, model.NewSectionNotFoundError(identifier)
		}
		return s, nil
	})
}

// GetLessonsBySection はセクション内のレッスンを order 順で返す。キャッシュしない。
func (a *Accessor) GetLessonsBySection(ctx context.Context, sectionID string) ([]model.Lesson, error) {
	lessons, err := a.lessons.FindBySection(ctx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("レッスン一覧の取得に失敗しました: %w", err)
	}
	return lessons, nil
}

// GetLesson はIDまたはスラッグでレッスンを返す。キャッシュしない。
// sectionID が指定された場合、別セクションのレッスンはIDで一致してもスラッグ検索に進む。
func (a *Accessor) GetLesson(ctx context.Context, identifier, sectionID string) (*model.Lesson, error) {
	if isID(identifier) {
		l, err := a.lessons.FindByID(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("レッスンの取得に失敗しました: %w", err)
		}
		if l != nil && (sectionID == "" || l.SectionID == sectionID) {
			return l, nil
		}
	}

	l, err := a.lessons.FindBySlug(ctx, identifier, sectionID)
	if err != nil {
		return nil, fmt.Errorf("レッスンの取得に失敗しました: %w", err)
	}
	if l == nil {
		return nil, model.NewLessonNotFoundError(identifier)
	}
	return l, nil
}
