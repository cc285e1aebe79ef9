package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/learnpath/internal/model"
)

// PostgresLessonRepo はPostgreSQLを使用したレッスンリポジトリ。
// コンテンツ更新系（ContentRepository）とカリキュラム参照系（LessonRepository）の両方を実装する。
type PostgresLessonRepo struct {
	db *sql.DB
}

// NewPostgresLessonRepo はPostgresLessonRepoを生成する。
func NewPostgresLessonRepo(db *sql.DB) *PostgresLessonRepo {
	return &PostgresLessonRepo{db: db}
}

const lessonColumns = `id, section_id, title, slug, "order", estimated_minutes,
	content, rendered_content, last_rendered_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLesson(row rowScanner) (*model.Lesson, error) {
	l := &model.Lesson{}
	var content []byte
	var rendered sql.NullString
	var renderedAt sql.NullTime

	if err := row.Scan(
		&l.ID, &l.SectionID, &l.Title, &l.Slug, &l.Order, &l.EstimatedMinutes,
		&content, &rendered, &renderedAt, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, err
	}

	l.Content = model.DecodeStoredContent(content)
	if rendered.Valid {
		l.RenderedContent = &rendered.String
	}
	if renderedAt.Valid {
		l.LastRenderedAt = &renderedAt.Time
	}
	return l, nil
}

func (r *PostgresLessonRepo) findOne(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, query string, args ...any) (*model.Lesson, error) {
	l, err := scanLesson(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// FindLessonByID は指定IDのレッスンを取得する。見つからない場合はnilを返す。
func (r *PostgresLessonRepo) FindLessonByID(ctx context.Context, id string) (*model.Lesson, error) {
	return r.FindByID(ctx, id)
}

// FindByID は指定IDのレッスンを取得する。見つからない場合はnilを返す。
func (r *PostgresLessonRepo) FindByID(ctx context.Context, id string) (*model.Lesson, error) {
	if !validID(id) {
		return nil, nil
	}
	l, err := r.findOne(ctx, r.db, `SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find lesson by ID: %w", err)
	}
	return l, nil
}

// FindBySlug はスラッグでレッスンを検索する。sectionID が空でなければそのセクション内に限定する。
func (r *PostgresLessonRepo) FindBySlug(ctx context.Context, slug, sectionID string) (*model.Lesson, error) {
	var (
		l   *model.Lesson
		err error
	)
	if sectionID == "" {
		l, err = r.findOne(ctx, r.db,
			`SELECT `+lessonColumns+` FROM lessons WHERE slug = $1 ORDER BY created_at LIMIT 1`, slug)
	} else {
		if !validID(sectionID) {
			return nil, nil
		}
		l, err = r.findOne(ctx, r.db,
			`SELECT `+lessonColumns+` FROM lessons WHERE slug = $1 AND section_id = $2`, slug, sectionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find lesson by slug: %w", err)
	}
	return l, nil
}

// FindBySection はセクション内のレッスンを order 昇順で返す。
func (r *PostgresLessonRepo) FindBySection(ctx context.Context, sectionID string) ([]model.Lesson, error) {
	if !validID(sectionID) {
		return []model.Lesson{}, nil
	}
	return r.queryLessons(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE section_id = $1 ORDER BY "order" ASC, id ASC`,
		sectionID,
	)
}

// BeginTx はトランザクションを開始する。
func (r *PostgresLessonRepo) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// FindLessonByIDForUpdate は行ロック（FOR UPDATE）を取得してレッスンを取得する。
func (r *PostgresLessonRepo) FindLessonByIDForUpdate(ctx context.Context, tx Tx, id string) (*model.Lesson, error) {
	if !validID(id) {
		return nil, nil
	}
	stx, err := sqlTx(tx)
	if err != nil {
		return nil, err
	}
	l, err := r.findOne(ctx, stx, `SELECT `+lessonColumns+` FROM lessons WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock lesson: %w", err)
	}
	return l, nil
}

// UpdateLessonContentTx はトランザクション内でコンテンツとレンダリング結果を書き込む。
func (r *PostgresLessonRepo) UpdateLessonContentTx(ctx context.Context, tx Tx, lessonID string, patch model.LessonContentPatch) error {
	stx, err := sqlTx(tx)
	if err != nil {
		return err
	}
	return r.writeContent(ctx, stx, lessonID, patch)
}

// UpdateRenderedContent はレンダリング結果を書き込む。
func (r *PostgresLessonRepo) UpdateRenderedContent(ctx context.Context, lessonID string, patch model.LessonContentPatch) error {
	return r.writeContent(ctx, r.db, lessonID, patch)
}

func (r *PostgresLessonRepo) writeContent(ctx context.Context, q interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, lessonID string, patch model.LessonContentPatch) error {
	content, err := model.MarshalContent(patch.Content)
	if err != nil {
		return fmt.Errorf("failed to encode lesson content: %w", err)
	}

	result, err := q.ExecContext(ctx,
		`UPDATE lessons
		 SET content = $2::jsonb, rendered_content = $3, last_rendered_at = $4, updated_at = NOW()
		 WHERE id = $1`,
		lessonID, string(content), patch.RenderedContent, patch.LastRenderedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update lesson content: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("lesson not found: %s", lessonID)
	}
	return nil
}

// InsertRevisionTx は監査履歴を追加する。
// バージョンはレッスン単位の最大値+1で、呼び出し側が行ロックを保持している前提で採番する。
func (r *PostgresLessonRepo) InsertRevisionTx(ctx context.Context, tx Tx, rev *model.ContentRevision) error {
	stx, err := sqlTx(tx)
	if err != nil {
		return err
	}

	content, err := model.MarshalContent(rev.Content)
	if err != nil {
		return fmt.Errorf("failed to encode revision content: %w", err)
	}
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now()
	}

	err = stx.QueryRowContext(ctx,
		`INSERT INTO lesson_content_revisions
		   (id, lesson_id, version, updated_by, change_description, content, created_at)
		 SELECT $1::uuid, $2::uuid, COALESCE(MAX(version), 0) + 1, $3::text, $4::text, $5::jsonb, $6::timestamptz
		 FROM lesson_content_revisions WHERE lesson_id = $2::uuid
		 RETURNING version`,
		rev.ID, rev.LessonID, rev.UpdatedBy, rev.ChangeDescription, string(content), rev.CreatedAt,
	).Scan(&rev.Version)
	if err != nil {
		return fmt.Errorf("failed to insert content revision: %w", err)
	}
	return nil
}

// ListRevisions はレッスンの監査履歴を新しい順に返す。
func (r *PostgresLessonRepo) ListRevisions(ctx context.Context, lessonID string) ([]model.ContentRevision, error) {
	if !validID(lessonID) {
		return []model.ContentRevision{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, lesson_id, version, updated_by, change_description, content, created_at
		 FROM lesson_content_revisions WHERE lesson_id = $1 ORDER BY version DESC`,
		lessonID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list content revisions: %w", err)
	}
	defer rows.Close()

	revisions := []model.ContentRevision{}
	for rows.Next() {
		var rev model.ContentRevision
		var content []byte
		if err := rows.Scan(&rev.ID, &rev.LessonID, &rev.Version, &rev.UpdatedBy,
			&rev.ChangeDescription, &content, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan content revision: %w", err)
		}
		rev.Content = model.DecodeStoredContent(content)
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate content revisions: %w", err)
	}
	return revisions, nil
}

// ListStaleRendered は未レンダリング、または before より前にレンダリングされたレッスンを
// 古い順に最大 limit 件返す。
func (r *PostgresLessonRepo) ListStaleRendered(ctx context.Context, before time.Time, limit int) ([]model.Lesson, error) {
	return r.queryLessons(ctx,
		`SELECT `+lessonColumns+` FROM lessons
		 WHERE last_rendered_at IS NULL OR last_rendered_at < $1
		 ORDER BY last_rendered_at ASC NULLS FIRST
		 LIMIT $2`,
		before, limit,
	)
}

func (r *PostgresLessonRepo) queryLessons(ctx context.Context, query string, args ...any) ([]model.Lesson, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lessons: %w", err)
	}
	defer rows.Close()

	lessons := []model.Lesson{}
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		lessons = append(lessons, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lessons: %w", err)
	}
	return lessons, nil
}

// compile-time interface check
var (
	_ ContentRepository = (*PostgresLessonRepo)(nil)
	_ LessonRepository  = (*PostgresLessonRepo)(nil)
)
