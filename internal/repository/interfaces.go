// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/learnpath/internal/model"
)

// Tx はリポジトリ操作をまとめるトランザクション。*sql.Tx が満たす。
type Tx interface {
	Commit() error
	Rollback() error
}

// ContentRepository はレッスンコンテンツの永続化インターフェース。
type ContentRepository interface {
	// FindLessonByID は指定IDのレッスンを取得する。見つからない場合はnilを返す。
	FindLessonByID(ctx context.Context, id string) (*model.Lesson, error)

	// BeginTx はトランザクションを開始する。
	BeginTx(ctx context.Context) (Tx, error)

	// FindLessonByIDForUpdate はトランザクション内で行ロックを取得してレッスンを取得する。
	// 見つからない場合はnilを返す。
	FindLessonByIDForUpdate(ctx context.Context, tx Tx, id string) (*model.Lesson, error)

	// UpdateLessonContentTx はトランザクション内でコンテンツとレンダリング結果を書き込む。
	UpdateLessonContentTx(ctx context.Context, tx Tx, lessonID string, patch model.LessonContentPatch) error

	// InsertRevisionTx はトランザクション内で監査履歴を追加する。
	// Version は既存の最大値+1が採番され、rev に書き戻される。
	InsertRevisionTx(ctx context.Context, tx Tx, rev *model.ContentRevision) error

	// UpdateRenderedContent はトランザクションを使わずにレンダリング結果を書き込む。
	// 読み取り時の書き込みスルーで使う。
	UpdateRenderedContent(ctx context.Context, lessonID string, patch model.LessonContentPatch) error

	// ListRevisions はレッスンの監査履歴を新しい順に返す。
	ListRevisions(ctx context.Context, lessonID string) ([]model.ContentRevision, error)

	// ListStaleRendered は未レンダリング、または before より前にレンダリングされたレッスンを返す。
	ListStaleRendered(ctx context.Context, before time.Time, limit int) ([]model.Lesson, error)
}

// LessonRepository はカリキュラム参照用のレッスン読み取りインターフェース。
type LessonRepository interface {
	// FindByID は指定IDのレッスンを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Lesson, error)
	// FindBySlug はスラッグでレッスンを検索する。sectionID が空でなければそのセクション内に限定する。
	FindBySlug(ctx context.Context, slug, sectionID string) (*model.Lesson, error)
	// FindBySection はセクション内のレッスンを order 昇順で返す。
	FindBySection(ctx context.Context, sectionID string) ([]model.Lesson, error)
}

// SectionRepository はセクションの読み取りインターフェース。
type SectionRepository interface {
	// FindByID は指定IDのセクションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Section, error)
	// FindBySlug はスラッグでセクションを検索する。pathID が空でなければその学習パス内に限定する。
	FindBySlug(ctx context.Context, slug, pathID string) (*model.Section, error)
	// FindByPath は学習パス内のセクションを order 昇順で返す。
	FindByPath(ctx context.Context, pathID string) ([]model.Section, error)
}

// PathRepository は学習パスの読み取りインターフェース。
type PathRepository interface {
	FindAll(ctx context.Context) ([]model.Path, error)
	// FindByID は指定IDの学習パスを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Path, error)
	// FindBySlug はスラッグで学習パスを取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Path, error)
}

// CompletionRepository はレッスン完了記録の永続化インターフェース。
type CompletionRepository interface {
	// Create は完了記録を作成する。既に存在する場合は既存の記録を返す。
	Create(ctx context.Context, userID, lessonID string) (*model.LessonCompletion, error)
	// FindOne は完了記録を取得する。見つからない場合はnilを返す。
	FindOne(ctx context.Context, userID, lessonID string) (*model.LessonCompletion, error)
	// FindByUserAndLessons は指定レッスン群に対するユーザーの完了記録を返す。
	FindByUserAndLessons(ctx context.Context, userID string, lessonIDs []string) ([]model.LessonCompletion, error)
	// FindByUser はユーザーの全完了記録を返す。
	FindByUser(ctx context.Context, userID string) ([]model.LessonCompletion, error)
}

// UserRepository はユーザーデータの読み取りインターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// Exists はユーザーが存在するかどうかを返す。
	Exists(ctx context.Context, id string) (bool, error)
}
