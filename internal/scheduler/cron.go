package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер cron-выражений (5 полей, без секунд).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron проверяет валидность cron-выражения.
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextOccurrence вычисляет ближайшее срабатывание после from.
func NextOccurrence(expr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(from).UTC(), nil
}

// DueSince проверяет, сработало ли расписание в окне (since, now].
// Возвращает время срабатывания — оно входит в ключ триггера, поэтому
// повторная проверка того же окна идемпотентна.
func DueSince(expr string, since, now time.Time) (bool, time.Time, error) {
	next, err := NextOccurrence(expr, since)
	if err != nil {
		return false, time.Time{}, err
	}
	if next.After(now) {
		return false, time.Time{}, nil
	}
	return true, next, nil
}
