package rbac

import (
	"strings"

	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
)

// Rule — правило, которое определило решение.
type Rule string

const (
	RuleOverrideID      Rule = "override_id"
	RuleOverrideEmail   Rule = "override_email"
	RuleSuperuser       Rule = "superuser"
	RuleIndexRoute      Rule = "index_route"
	RuleUnconfigured    Rule = "unconfigured"
	RuleNoEntry         Rule = "no_entry"
	RuleEmptyPolicy     Rule = "empty_policy"
	RuleAllowedProfiles Rule = "allowed_profiles"
	RuleDenied          Rule = "denied"
)

// Decision — результат проверки доступа к странице.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Rule     Rule   `json:"rule"`
	BasePath string `json:"basePath"`
}

// Engine — движок решений о доступе к страницам.
// Не хранит состояния между вызовами и не выполняет I/O: таблица доступа
// и сессия передаются в каждый вызов.
type Engine struct {
	overrides *Overrides
}

// NewEngine создаёт движок с таблицей статических переопределений.
func NewEngine(overrides *Overrides) *Engine {
	return &Engine{overrides: overrides}
}

// Overrides возвращает таблицу переопределений движка.
func (e *Engine) Overrides() *Overrides {
	return e.overrides
}

// HasAccessToPage решает, разрешён ли доступ к path для сессии.
func (e *Engine) HasAccessToPage(s model.Session, entries []model.PageAccessEntry, path string) bool {
	return e.Decide(s, entries, path).Allowed
}

// Decide применяет правила в порядке приоритета, первое совпадение побеждает:
//  1. переопределение по id с ролью Inspetor;
//  2. переопределение по email с ролью Inspetor;
//  3. effective profile = Inspetor;
//  4. /index — только Inspetor и Subinspetor;
//  5. запись таблицы по корневому сегменту пути.
//
// Пустая таблица открывает доступ (система ещё не настроена),
// запись с пустым списком ролей закрывает доступ всем, кроме Inspetor.
func (e *Engine) Decide(s model.Session, entries []model.PageAccessEntry, path string) Decision {
	base := BasePath(path)

	if role, ok := e.overrides.ByID(s.UserID); ok && IsSuperuser(role) {
		return Decision{Allowed: true, Rule: RuleOverrideID, BasePath: base}
	}
	if role, ok := e.overrides.ByEmail(s.Email); ok && IsSuperuser(role) {
		return Decision{Allowed: true, Rule: RuleOverrideEmail, BasePath: base}
	}
	if IsSuperuser(s.EffectiveProfile) {
		return Decision{Allowed: true, Rule: RuleSuperuser, BasePath: base}
	}

	if stripQuery(path) == IndexPath {
		allowed := s.EffectiveProfile == RoleInspetor || s.EffectiveProfile == RoleSubinspetor
		return Decision{Allowed: allowed, Rule: RuleIndexRoute, BasePath: base}
	}

	entry, found := findEntry(entries, base)
	if !found {
		if len(entries) == 0 {
			return Decision{Allowed: true, Rule: RuleUnconfigured, BasePath: base}
		}
		return Decision{Allowed: false, Rule: RuleNoEntry, BasePath: base}
	}

	if len(entry.AllowedProfiles) == 0 {
		// Суперпользователь уже обработан выше
		return Decision{Allowed: false, Rule: RuleEmptyPolicy, BasePath: base}
	}

	if containsRole(entry.AllowedProfiles, s.EffectiveProfile) {
		return Decision{Allowed: true, Rule: RuleAllowedProfiles, BasePath: base}
	}
	return Decision{Allowed: false, Rule: RuleDenied, BasePath: base}
}

// AccessiblePages возвращает записи таблицы, доступные сессии.
func (e *Engine) AccessiblePages(s model.Session, entries []model.PageAccessEntry) []model.PageAccessEntry {
	result := make([]model.PageAccessEntry, 0, len(entries))
	for _, entry := range entries {
		if e.HasAccessToPage(s, entries, entry.Path) {
			result = append(result, entry)
		}
	}
	return result
}

// BasePath возвращает первый сегмент пути с ведущим слэшем:
// /ocorrencias/123/detalhe → /ocorrencias. Query и fragment отбрасываются.
func BasePath(path string) string {
	p := stripQuery(path)
	p = strings.TrimPrefix(p, "/")
	segment, _, _ := strings.Cut(p, "/")
	return "/" + segment
}

func stripQuery(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func findEntry(entries []model.PageAccessEntry, base string) (model.PageAccessEntry, bool) {
	for _, e := range entries {
		if BasePath(e.Path) == base {
			return e, true
		}
	}
	return model.PageAccessEntry{}, false
}
