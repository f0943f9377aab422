// roles.go — реестр ролей: список всех ролей, известных системе.
//
// Источники опрашиваются по очереди, первый непустой ответ побеждает:
//  1. get_all_roles() — привилегированная функция БД;
//  2. объединение ролей из page_access и profiles;
//  3. список ролей по умолчанию из конфигурации.
//
// Ошибки источников логируются и вызывающему не возвращаются.
package service

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sentinela/access-module/internal/domain/rbac"
	"github.com/bigkaa/sentinela/access-module/internal/repository"
)

// Источники реестра ролей (значение лейбла source).
const (
	RoleSourceRPC      = "rpc"
	RoleSourceTables   = "tables"
	RoleSourceDefaults = "defaults"
)

var roleRegistryResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinela_role_registry_resolutions_total",
	Help: "Количество запросов реестра ролей по источнику результата",
}, []string{"source"})

// RoleLister — источник уникальных ролей одной таблицы.
type RoleLister interface {
	ListRoles(ctx context.Context) ([]string, error)
}

// RoleRegistry — реестр ролей с цепочкой резервных источников.
type RoleRegistry struct {
	rpc      repository.RoleRepository
	tables   []RoleLister
	defaults []string
	logger   *slog.Logger
}

// NewRoleRegistry создаёт реестр ролей.
// tables — таблицы, объединение ролей которых используется при отказе rpc.
func NewRoleRegistry(
	rpc repository.RoleRepository,
	tables []RoleLister,
	defaults []string,
	logger *slog.Logger,
) *RoleRegistry {
	return &RoleRegistry{
		rpc:      rpc,
		tables:   tables,
		defaults: rbac.NormalizeRoles(defaults),
		logger:   logger.With(slog.String("component", "role_registry")),
	}
}

// GetAllRoles возвращает отсортированный список уникальных непустых ролей.
// Никогда не возвращает ошибку: при отказе всех источников — роли по умолчанию.
func (r *RoleRegistry) GetAllRoles(ctx context.Context) []string {
	roles, _ := r.Resolve(ctx)
	return roles
}

// Resolve возвращает роли и имя источника, из которого они получены.
func (r *RoleRegistry) Resolve(ctx context.Context) ([]string, string) {
	if r.rpc != nil {
		roles, err := r.rpc.CallGetAllRoles(ctx)
		switch {
		case err != nil:
			r.logger.Warn("get_all_roles() недоступна, используем таблицы",
				slog.String("error", err.Error()),
			)
		default:
			if normalized := rbac.NormalizeRoles(roles); len(normalized) > 0 {
				roleRegistryResolutions.WithLabelValues(RoleSourceRPC).Inc()
				return normalized, RoleSourceRPC
			}
			r.logger.Debug("get_all_roles() вернула пустой список, используем таблицы")
		}
	}

	collected := make([][]string, 0, len(r.tables))
	for _, t := range r.tables {
		roles, err := t.ListRoles(ctx)
		if err != nil {
			r.logger.Warn("Ошибка чтения ролей из таблицы",
				slog.String("error", err.Error()),
			)
			continue
		}
		collected = append(collected, roles)
	}
	if union := rbac.NormalizeRoles(collected...); len(union) > 0 {
		roleRegistryResolutions.WithLabelValues(RoleSourceTables).Inc()
		return union, RoleSourceTables
	}

	r.logger.Warn("Роли не найдены ни в одном источнике, используем роли по умолчанию",
		slog.Int("count", len(r.defaults)),
	)
	roleRegistryResolutions.WithLabelValues(RoleSourceDefaults).Inc()
	result := make([]string, len(r.defaults))
	copy(result, r.defaults)
	return result, RoleSourceDefaults
}
