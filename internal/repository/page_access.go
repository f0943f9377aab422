package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
)

// PageAccessRepository — доступ к таблице page_access: (страница, роль) → флаг.
type PageAccessRepository interface {
	// ListPages возвращает уникальные страницы (имя и корневой путь).
	ListPages(ctx context.Context) ([]model.PageRef, error)
	// ListRoles возвращает уникальные роли, упомянутые в таблице.
	ListRoles(ctx context.Context) ([]string, error)
	// ListAll возвращает все строки (страница, роль, флаг).
	ListAll(ctx context.Context) ([]model.PageRoleAccess, error)
	// UpsertBatch записывает строки одним запросом с ON CONFLICT (page_name, role).
	UpsertBatch(ctx context.Context, rows []model.PageRoleAccess) error
}

// pageAccessRepo — реализация PageAccessRepository.
type pageAccessRepo struct {
	db DBTX
}

// NewPageAccessRepository создаёт репозиторий таблицы доступа страниц.
func NewPageAccessRepository(db DBTX) PageAccessRepository {
	return &pageAccessRepo{db: db}
}

func (r *pageAccessRepo) ListPages(ctx context.Context) ([]model.PageRef, error) {
	query := `
		SELECT page_name, MAX(page_path)
		FROM page_access
		GROUP BY page_name
		ORDER BY page_name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка страниц: %w", err)
	}
	defer rows.Close()

	var pages []model.PageRef
	for rows.Next() {
		var p model.PageRef
		if err := rows.Scan(&p.Name, &p.Path); err != nil {
			return nil, fmt.Errorf("ошибка сканирования страницы: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (r *pageAccessRepo) ListRoles(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT role FROM page_access ORDER BY role`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ролей page_access: %w", err)
	}
	roles, err := collectStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования ролей page_access: %w", err)
	}
	return roles, nil
}

func (r *pageAccessRepo) ListAll(ctx context.Context) ([]model.PageRoleAccess, error) {
	query := `
		SELECT page_name, page_path, role, can_access, updated_by, updated_at
		FROM page_access
		ORDER BY page_name, role`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения page_access: %w", err)
	}
	defer rows.Close()

	var result []model.PageRoleAccess
	for rows.Next() {
		var a model.PageRoleAccess
		if err := rows.Scan(&a.PageName, &a.PagePath, &a.Role, &a.CanAccess, &a.UpdatedBy, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования page_access: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// UpsertBatch выполняет один INSERT ... SELECT FROM unnest(...) ON CONFLICT:
// запрос атомарен, частичной записи не бывает.
func (r *pageAccessRepo) UpsertBatch(ctx context.Context, rows []model.PageRoleAccess) error {
	if len(rows) == 0 {
		return nil
	}

	names := make([]string, len(rows))
	paths := make([]string, len(rows))
	roles := make([]string, len(rows))
	flags := make([]bool, len(rows))
	authors := make([]string, len(rows))
	for i, row := range rows {
		names[i] = row.PageName
		paths[i] = row.PagePath
		roles[i] = row.Role
		flags[i] = row.CanAccess
		authors[i] = row.UpdatedBy
	}

	query := `
		INSERT INTO page_access (page_name, page_path, role, can_access, updated_by)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::boolean[], $5::text[])
		ON CONFLICT (page_name, role) DO UPDATE SET
			page_path = EXCLUDED.page_path,
			can_access = EXCLUDED.can_access,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()`

	tag, err := r.db.Exec(ctx, query, names, paths, roles, flags, authors)
	if err != nil {
		return fmt.Errorf("ошибка upsert page_access (%d строк): %w", len(rows), err)
	}
	if tag.RowsAffected() != int64(len(rows)) {
		return fmt.Errorf("upsert page_access: затронуто %d строк из %d", tag.RowsAffected(), len(rows))
	}
	return nil
}
