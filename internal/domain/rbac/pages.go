package rbac

import (
	"sort"
	"strings"

	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
)

// defaultPages — страницы приложения в порядке меню.
var defaultPages = []model.PageRef{
	{Name: "Dashboard", Path: "/dashboard"},
	{Name: "Ocorrências", Path: "/ocorrencias"},
	{Name: "Viaturas", Path: "/viaturas"},
	{Name: "Guardas", Path: "/guardas"},
	{Name: "Escalas", Path: "/escalas"},
	{Name: "Corregedoria", Path: "/corregedoria"},
	{Name: "Mapa", Path: "/mapa"},
	{Name: "Usuários", Path: "/usuarios"},
	{Name: "Configurações", Path: "/configuracoes"},
}

// Slug строит идентификатор записи из имени страницы:
// нижний регистр, пробельные последовательности → дефис.
func Slug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// DefaultPageAccess возвращает таблицу доступа по умолчанию, используемую,
// пока хранилище пусто или недоступно. Каждая страница открыта Inspetor и
// Subinspetor, чтобы администраторы не теряли доступ к настройкам.
// Каждый вызов возвращает новую копию.
func DefaultPageAccess() []model.PageAccessEntry {
	entries := make([]model.PageAccessEntry, 0, len(defaultPages))
	for _, p := range defaultPages {
		entries = append(entries, model.PageAccessEntry{
			ID:              Slug(p.Name),
			Name:            p.Name,
			Path:            p.Path,
			AllowedProfiles: []string{RoleInspetor, RoleSubinspetor},
		})
	}
	return entries
}

// FoldPageAccess собирает записи политики из списка страниц и строк
// (страница, роль, флаг). В AllowedProfiles попадают только роли с
// can_access = true, порядок ролей — по алфавиту. Записи упорядочены по имени.
func FoldPageAccess(pages []model.PageRef, rows []model.PageRoleAccess) []model.PageAccessEntry {
	allowed := make(map[string][]string, len(pages))
	for _, row := range rows {
		if row.CanAccess {
			allowed[row.PageName] = append(allowed[row.PageName], row.Role)
		}
	}

	entries := make([]model.PageAccessEntry, 0, len(pages))
	for _, p := range pages {
		entries = append(entries, model.PageAccessEntry{
			ID:              Slug(p.Name),
			Name:            p.Name,
			Path:            p.Path,
			AllowedProfiles: NormalizeRoles(allowed[p.Name]),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// ExpandPageAccess превращает записи в полный набор строк для upsert:
// для каждой записи и каждой известной роли вычисляется can_access.
// Роли, упомянутые в AllowedProfiles, добавляются к known.
func ExpandPageAccess(entries []model.PageAccessEntry, known []string, updatedBy string) []model.PageRoleAccess {
	mentioned := make([]string, 0)
	for _, e := range entries {
		mentioned = append(mentioned, e.AllowedProfiles...)
	}
	roles := NormalizeRoles(known, mentioned)

	rows := make([]model.PageRoleAccess, 0, len(entries)*len(roles))
	for _, e := range entries {
		for _, role := range roles {
			rows = append(rows, model.PageRoleAccess{
				PageName:  e.Name,
				PagePath:  BasePath(e.Path),
				Role:      role,
				CanAccess: containsRole(e.AllowedProfiles, role),
				UpdatedBy: updatedBy,
			})
		}
	}
	return rows
}

// ValidateEntries проверяет список перед сохранением: непустые имена,
// уникальность имён и путей, путь — один корневой сегмент.
// Возвращает описание первой найденной проблемы или пустую строку.
func ValidateEntries(entries []model.PageAccessEntry) string {
	names := make(map[string]bool, len(entries))
	paths := make(map[string]bool, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return "имя страницы не может быть пустым"
		}
		if names[e.Name] {
			return "повторяющееся имя страницы: " + e.Name
		}
		names[e.Name] = true

		if !strings.HasPrefix(e.Path, "/") || e.Path == "/" || BasePath(e.Path) != strings.TrimSuffix(e.Path, "/") {
			return "путь страницы " + e.Name + " должен быть одним корневым сегментом, например /ocorrencias"
		}
		base := BasePath(e.Path)
		if paths[base] {
			return "повторяющийся путь страницы: " + base
		}
		paths[base] = true
	}
	return ""
}
