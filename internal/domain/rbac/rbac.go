// Пакет rbac — авторизация доступа к страницам приложения GCM Sentinela.
// Роли — произвольные строки из хранилища, сравниваются точно (с учётом регистра).
// Порядок проверки: статические переопределения → суперпользователь →
// маршрут /index → таблица доступа страниц.
package rbac

import (
	"sort"
	"strings"
)

// Известные роли. Хранилище может содержать и другие — любая строка допустима.
const (
	// RoleInspetor — суперпользователь, обходит все проверки по таблице.
	RoleInspetor    = "Inspetor"
	RoleSubinspetor = "Subinspetor"
	RoleSupervisor  = "Supervisor"
	RoleAgente      = "Agente"
	RoleCorregedor  = "Corregedor"
)

// IndexPath — выделенный маршрут, доступ к которому задан жёстко.
const IndexPath = "/index"

// IsSuperuser проверяет, является ли роль суперпользовательской.
func IsSuperuser(role string) bool {
	return role == RoleInspetor
}

// NormalizeRoles объединяет списки ролей из нескольких источников:
// убирает пустые значения, дубликаты и сортирует результат.
func NormalizeRoles(sources ...[]string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0)
	for _, src := range sources {
		for _, r := range src {
			if strings.TrimSpace(r) == "" || seen[r] {
				continue
			}
			seen[r] = true
			result = append(result, r)
		}
	}
	sort.Strings(result)
	return result
}

// containsRole — точное сравнение, без нормализации регистра.
func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
