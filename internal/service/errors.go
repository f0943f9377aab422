// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotLoaded — таблица доступа ещё не загружена.
	ErrNotLoaded = errors.New("таблица доступа ещё загружается")
)
