package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
)

// ProfileRepository — чтение таблицы profiles (пользователи приложения).
type ProfileRepository interface {
	// GetByID возвращает профиль по идентификатору пользователя.
	GetByID(ctx context.Context, id string) (*model.Profile, error)
	// ListRoles возвращает уникальные непустые роли пользователей.
	ListRoles(ctx context.Context) ([]string, error)
}

// profileRepo — реализация ProfileRepository.
type profileRepo struct {
	db DBTX
}

// NewProfileRepository создаёт репозиторий профилей.
func NewProfileRepository(db DBTX) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	query := `
		SELECT id::text, COALESCE(email, ''), COALESCE(nome, ''), COALESCE(role, '')
		FROM profiles
		WHERE id::text = $1`

	p := &model.Profile{}
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Email, &p.Nome, &p.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения профиля %s: %w", id, err)
	}
	return p, nil
}

func (r *profileRepo) ListRoles(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT role
		FROM profiles
		WHERE role IS NOT NULL AND role <> ''
		ORDER BY role`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ролей profiles: %w", err)
	}
	roles, err := collectStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования ролей profiles: %w", err)
	}
	return roles, nil
}
