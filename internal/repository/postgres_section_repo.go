package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/learnpath/internal/model"
)

// PostgresSectionRepo はPostgreSQLを使用したセクションリポジトリ。
type PostgresSectionRepo struct {
	db *sql.DB
}

// NewPostgresSectionRepo はPostgresSectionRepoを生成する。
func NewPostgresSectionRepo(db *sql.DB) *PostgresSectionRepo {
	return &PostgresSectionRepo{db: db}
}

const sectionColumns = `id, path_id, title, slug, description, "order", estimated_hours, created_at, updated_at`

func scanSection(row rowScanner) (*model.Section, error) {
	s := &model.Section{}
	if err := row.Scan(&s.ID, &s.PathID, &s.Title, &s.Slug, &s.Description,
		&s.Order, &s.EstimatedHours, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

// FindByID は指定IDのセクションを取得する。見つからない場合はnilを返す。
func (r *PostgresSectionRepo) FindByID(ctx context.Context, id string) (*model.Section, error) {
	if !validID(id) {
		return nil, nil
	}
	s, err := scanSection(r.db.QueryRowContext(ctx, `SELECT `+sectionColumns+` FROM sections WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find section by ID: %w", err)
	}
	return s, nil
}

// FindBySlug はスラッグでセクションを検索する。pathID が空でなければその学習パス内に限定する。
func (r *PostgresSectionRepo) FindBySlug(ctx context.Context, slug, pathID string) (*model.Section, error) {
	var row *sql.Row
	if pathID == "" {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+sectionColumns+` FROM sections WHERE slug = $1 ORDER BY created_at LIMIT 1`, slug)
	} else {
		if !validID(pathID) {
			return nil, nil
		}
		row = r.db.QueryRowContext(ctx,
			`SELECT `+sectionColumns+` FROM sections WHERE slug = $1 AND path_id = $2`, slug, pathID)
	}

	s, err := scanSection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find section by slug: %w", err)
	}
	return s, nil
}

// FindByPath は学習パス内のセクションを order 昇順で返す。
func (r *PostgresSectionRepo) FindByPath(ctx context.Context, pathID string) ([]model.Section, error) {
	if !validID(pathID) {
		return []model.Section{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sectionColumns+` FROM sections WHERE path_id = $1 ORDER BY "order" ASC, id ASC`, pathID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer rows.Close()

	sections := []model.Section{}
	for rows.Next() {
		s, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sections: %w", err)
	}
	return sections, nil
}

// compile-time interface check
var _ SectionRepository = (*PostgresSectionRepo)(nil)
