package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/learnpath/internal/model"
)

// PostgresPathRepo はPostgreSQLを使用した学習パスリポジトリ。
type PostgresPathRepo struct {
	db *sql.DB
}

// NewPostgresPathRepo はPostgresPathRepoを生成する。
func NewPostgresPathRepo(db *sql.DB) *PostgresPathRepo {
	return &PostgresPathRepo{db: db}
}

const pathColumns = `id, title, slug, description, image_url, estimated_hours, created_at, updated_at`

func scanPath(row rowScanner) (*model.Path, error) {
	p := &model.Path{}
	var imageURL sql.NullString
	if err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.Description, &imageURL,
		&p.EstimatedHours, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if imageURL.Valid {
		p.ImageURL = &imageURL.String
	}
	return p, nil
}

// FindAll は全学習パスをタイトル順で返す。
func (r *PostgresPathRepo) FindAll(ctx context.Context) ([]model.Path, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+pathColumns+` FROM paths ORDER BY title ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query paths: %w", err)
	}
	defer rows.Close()

	paths := []model.Path{}
	for rows.Next() {
		p, err := scanPath(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		paths = append(paths, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate paths: %w", err)
	}
	return paths, nil
}

// FindByID は指定IDの学習パスを取得する。見つからない場合はnilを返す。
func (r *PostgresPathRepo) FindByID(ctx context.Context, id string) (*model.Path, error) {
	if !validID(id) {
		return nil, nil
	}
	p, err := scanPath(r.db.QueryRowContext(ctx, `SELECT `+pathColumns+` FROM paths WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find path by ID: %w", err)
	}
	return p, nil
}

// FindBySlug はスラッグで学習パスを取得する。見つからない場合はnilを返す。
func (r *PostgresPathRepo) FindBySlug(ctx context.Context, slug string) (*model.Path, error) {
	p, err := scanPath(r.db.QueryRowContext(ctx, `SELECT `+pathColumns+` FROM paths WHERE slug = $1`, slug))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find path by slug: %w", err)
	}
	return p, nil
}

// compile-time interface check
var _ PathRepository = (*PostgresPathRepo)(nil)
