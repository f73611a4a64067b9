package domain

import "errors"

var (
	// ErrNotFound возвращается, когда запись отсутствует в хранилище.
	ErrNotFound = errors.New("not found")
	// ErrInvalidSchedule — некорректная конфигурация расписания.
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrInvalidTimezone — неизвестный часовой пояс.
	ErrInvalidTimezone = errors.New("invalid timezone")
	// ErrUnknownSourceType — тип источника не поддерживается.
	ErrUnknownSourceType = errors.New("unknown source type")
)
