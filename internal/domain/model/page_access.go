// Пакет model — доменные модели Access Module.
package model

import "time"

// PageAccessEntry — политика доступа одной страницы приложения.
// Собирается из строк таблицы page_access; изменяется только заменой всего списка.
type PageAccessEntry struct {
	// ID — slug имени страницы (нижний регистр, пробелы → дефисы)
	ID string `json:"id"`
	// Name — человекочитаемое имя страницы, ключ связи с таблицей page_access
	Name string `json:"name"`
	// Path — корневой сегмент пути, которым управляет запись (например, /ocorrencias)
	Path string `json:"path"`
	// AllowedProfiles — роли, которым разрешён доступ к Path
	AllowedProfiles []string `json:"allowedProfiles"`
}

// PageRoleAccess — одна строка таблицы page_access: (страница, роль) → флаг доступа.
type PageRoleAccess struct {
	PageName  string
	PagePath  string
	Role      string
	CanAccess bool
	UpdatedBy string
	UpdatedAt time.Time
}

// PageRef — имя страницы и её корневой путь (distinct по page_name).
type PageRef struct {
	Name string
	Path string
}
