package rbac

import (
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/sentinela/access-module/internal/domain/model"
)

// Overrides — индекс статических переопределений ролей.
// Поиск по id всегда предшествует поиску по email, независимо от порядка
// элементов в конфигурации. Идентификаторы в формате UUID хранятся
// в каноническом виде (нижний регистр, без скобок и префикса urn:uuid:).
// При повторе ключа роль Inspetor имеет приоритет, иначе остаётся
// наименьшая по алфавиту роль: результат не зависит от порядка списка.
// Нулевой указатель допустим и означает пустую таблицу.
type Overrides struct {
	byID    map[string]string
	byEmail map[string]string
}

// NewOverrides строит индекс из списка переопределений.
func NewOverrides(list []model.SpecialOverride) *Overrides {
	o := &Overrides{
		byID:    make(map[string]string),
		byEmail: make(map[string]string),
	}
	for _, ov := range list {
		switch ov.By {
		case model.OverrideByID:
			putOverride(o.byID, canonicalID(ov.Match), ov.Role)
		case model.OverrideByEmail:
			putOverride(o.byEmail, normalizeEmail(ov.Match), ov.Role)
		}
	}
	return o
}

// ByID возвращает роль, назначенную пользователю по идентификатору.
func (o *Overrides) ByID(userID string) (string, bool) {
	if o == nil || userID == "" {
		return "", false
	}
	role, ok := o.byID[canonicalID(userID)]
	return role, ok
}

// ByEmail возвращает роль, назначенную пользователю по email.
// Email сравнивается без учёта регистра.
func (o *Overrides) ByEmail(email string) (string, bool) {
	if o == nil || email == "" {
		return "", false
	}
	role, ok := o.byEmail[normalizeEmail(email)]
	return role, ok
}

// Resolve ищет переопределение: сначала по id, затем по email.
func (o *Overrides) Resolve(userID, email string) (string, model.OverrideKind, bool) {
	if role, ok := o.ByID(userID); ok {
		return role, model.OverrideByID, true
	}
	if role, ok := o.ByEmail(email); ok {
		return role, model.OverrideByEmail, true
	}
	return "", "", false
}

// Len возвращает количество уникальных правил.
func (o *Overrides) Len() int {
	if o == nil {
		return 0
	}
	return len(o.byID) + len(o.byEmail)
}

// putOverride записывает роль для ключа с учётом уже записанной.
func putOverride(m map[string]string, key, role string) {
	if key == "" {
		return
	}
	cur, exists := m[key]
	switch {
	case !exists:
		m[key] = role
	case IsSuperuser(cur):
	case IsSuperuser(role) || role < cur:
		m[key] = role
	}
}

// canonicalID приводит UUID к каноническому виду; прочие значения
// возвращаются без пробелов по краям.
func canonicalID(id string) string {
	id = strings.TrimSpace(id)
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
