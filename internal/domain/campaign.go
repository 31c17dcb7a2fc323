package domain

import (
	"time"

	"github.com/google/uuid"
)

// Campaign — маркетинговая кампания (массовая рассылка).
//
// Содержимое и рендеринг сообщений — вне движка; здесь кампания
// нужна как владелец send ledger'а и агрегатных счётчиков.
type Campaign struct {
	// ID — уникальный идентификатор кампании.
	ID uuid.UUID `json:"id"`

	// Name — имя кампании.
	Name string `json:"name"`

	// Subject — тема письма.
	Subject string `json:"subject"`

	// TemplateID — шаблон содержимого (рендеринг — внешний collaborator).
	TemplateID string `json:"template_id"`

	// SentCount — количество успешно отправленных писем.
	// Инкрементируется на терминальных исходах dispatch-воркером.
	SentCount int64 `json:"sent_count"`

	// FailedCount — количество окончательно неудачных отправок.
	FailedCount int64 `json:"failed_count"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}
