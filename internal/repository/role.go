package repository

import (
	"context"
	"fmt"
)

// RoleRepository — привилегированный вызов хранимой функции get_all_roles().
// Функция объявлена SECURITY DEFINER и видит роли обеих таблиц
// независимо от прав текущего пользователя БД.
type RoleRepository interface {
	CallGetAllRoles(ctx context.Context) ([]string, error)
}

// roleRepo — реализация RoleRepository.
type roleRepo struct {
	db DBTX
}

// NewRoleRepository создаёт репозиторий ролей.
func NewRoleRepository(db DBTX) RoleRepository {
	return &roleRepo{db: db}
}

func (r *roleRepo) CallGetAllRoles(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT role FROM get_all_roles()`)
	if err != nil {
		return nil, fmt.Errorf("ошибка вызова get_all_roles(): %w", err)
	}
	roles, err := collectStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения результата get_all_roles(): %w", err)
	}
	return roles, nil
}
