package errors

import "errors"

// Общие ошибки приложения
var (
	// ErrNotFound используется, когда запись или ресурс не найдены.
	ErrNotFound = errors.New("record not found")

	// ErrValidation используется для ошибок валидации входных данных
	// (неизвестные поля конфигурации, нулевое количество вопросов и т.д.).
	ErrValidation = errors.New("validation failed")

	// ErrConflict используется для конфликтов состояния
	// (например, повторная запись покупки того же экзамена).
	ErrConflict = errors.New("resource state conflict")

	// ErrUnavailable используется, когда внешний коллаборатор (БД, Redis, почта) недоступен.
	ErrUnavailable = errors.New("dependency unavailable")
)
