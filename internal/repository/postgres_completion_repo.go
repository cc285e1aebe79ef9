package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/learnpath/internal/model"
)

// PostgresCompletionRepo はPostgreSQLを使用したレッスン完了記録リポジトリ。
type PostgresCompletionRepo struct {
	db *sql.DB
}

// NewPostgresCompletionRepo はPostgresCompletionRepoを生成する。
func NewPostgresCompletionRepo(db *sql.DB) *PostgresCompletionRepo {
	return &PostgresCompletionRepo{db: db}
}

// Create は完了記録を作成する。
// (user_id, lesson_id) のユニーク制約に衝突した場合は挿入せず、既存の記録を返す。
func (r *PostgresCompletionRepo) Create(ctx context.Context, userID, lessonID string) (*model.LessonCompletion, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lesson_completions (id, user_id, lesson_id, completed_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, lesson_id) DO NOTHING`,
		uuid.NewString(), userID, lessonID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert lesson completion: %w", err)
	}

	c, err := r.FindOne(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("lesson completion disappeared after insert: user=%s lesson=%s", userID, lessonID)
	}
	return c, nil
}

// FindOne は完了記録を取得する。見つからない場合はnilを返す。
func (r *PostgresCompletionRepo) FindOne(ctx context.Context, userID, lessonID string) (*model.LessonCompletion, error) {
	if !validID(userID) || !validID(lessonID) {
		return nil, nil
	}

	c := &model.LessonCompletion{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, lesson_id, completed_at FROM lesson_completions
		 WHERE user_id = $1 AND lesson_id = $2`,
		userID, lessonID,
	).Scan(&c.ID, &c.UserID, &c.LessonID, &c.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find lesson completion: %w", err)
	}
	return c, nil
}

// FindByUserAndLessons は指定レッスン群に対するユーザーの完了記録を返す。
func (r *PostgresCompletionRepo) FindByUserAndLessons(ctx context.Context, userID string, lessonIDs []string) ([]model.LessonCompletion, error) {
	ids := validIDs(lessonIDs)
	if !validID(userID) || len(ids) == 0 {
		return []model.LessonCompletion{}, nil
	}
	return r.query(ctx,
		`SELECT id, user_id, lesson_id, completed_at FROM lesson_completions
		 WHERE user_id = $1 AND lesson_id = ANY($2::uuid[])`,
		userID, pq.Array(ids),
	)
}

// FindByUser はユーザーの全完了記録を完了日時順で返す。
func (r *PostgresCompletionRepo) FindByUser(ctx context.Context, userID string) ([]model.LessonCompletion, error) {
	if !validID(userID) {
		return []model.LessonCompletion{}, nil
	}
	return r.query(ctx,
		`SELECT id, user_id, lesson_id, completed_at FROM lesson_completions
		 WHERE user_id = $1 ORDER BY completed_at ASC`,
		userID,
	)
}

func (r *PostgresCompletionRepo) query(ctx context.Context, query string, args ...any) ([]model.LessonCompletion, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lesson completions: %w", err)
	}
	defer rows.Close()

	completions := []model.LessonCompletion{}
	for rows.Next() {
		var c model.LessonCompletion
		if err := rows.Scan(&c.ID, &c.UserID, &c.LessonID, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lesson completion: %w", err)
		}
		completions = append(completions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lesson completions: %w", err)
	}
	return completions, nil
}

// compile-time interface check
var _ CompletionRepository = (*PostgresCompletionRepo)(nil)
