package model

// OverrideKind — по какому признаку срабатывает статическое переопределение.
type OverrideKind string

const (
	// OverrideByID — совпадение по идентификатору пользователя.
	OverrideByID OverrideKind = "id"
	// OverrideByEmail — совпадение по email пользователя.
	OverrideByEmail OverrideKind = "email"
)

// SpecialOverride — статическое правило, принудительно назначающее роль
// конкретному пользователю. Задаётся конфигурацией, не хранится в БД.
type SpecialOverride struct {
	By    OverrideKind `json:"by"`
	Match string       `json:"match"`
	Role  string       `json:"role"`
}

// Session — контекст текущего пользователя для решения об авторизации.
// Передаётся в движок явно, движок не читает глобальное состояние.
type Session struct {
	// UserID — идентификатор пользователя (sub из JWT)
	UserID string
	// Email — email пользователя
	Email string
	// Role — роль из профиля пользователя (таблица profiles)
	Role string
	// EffectiveProfile — роль, фактически используемая для решений
	EffectiveProfile string
}

// Profile — строка таблицы profiles.
type Profile struct {
	ID    string
	Email string
	Nome  string
	Role  string
}
