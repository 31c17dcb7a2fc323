package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrStaleVersion — optimistic lock: версия записи изменилась
	// между чтением и записью. Для идемпотентных обработчиков это
	// признак проигранной гонки, не ошибка.
	ErrStaleVersion = errors.New("stale version")
)
