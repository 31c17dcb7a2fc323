package domain

import (
	"time"

	"github.com/google/uuid"
)

// Customer — снимок покупателя, достаточный для работы движка:
// адрес для send_email, флаги подписки, теги и внешний id для
// зеркалирования в storefront. Полный CRUD покупателей — внешний
// collaborator.
type Customer struct {
	// ID — уникальный идентификатор customer'а.
	ID uuid.UUID `json:"id"`

	// Email — адрес; пустой адрес означает "пропустить send_email".
	Email string `json:"email"`

	// ExternalID — идентификатор в storefront (для tag-зеркалирования).
	ExternalID string `json:"external_id,omitempty"`

	// Tags — теги customer'а (мутируются шагом add_tag).
	Tags []string `json:"tags,omitempty"`

	// Unsubscribed — отписан от рассылок.
	Unsubscribed bool `json:"unsubscribed"`

	// Bounced — адрес ранее отклонялся.
	Bounced bool `json:"bounced"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// HasTag проверяет наличие тега.
func (c *Customer) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Mailable возвращает true, если customer'у можно отправлять письма.
// false — бизнес-правило ("пропустить"), не ошибка.
func (c *Customer) Mailable() bool {
	return c.Email != "" && !c.Unsubscribed && !c.Bounced
}

// Order — заказ customer'а (read-only для condition-шагов).
type Order struct {
	// ID — уникальный идентификатор заказа.
	ID uuid.UUID `json:"id"`

	// CustomerID — покупатель.
	CustomerID uuid.UUID `json:"customer_id"`

	// TotalAmount — сумма заказа в минимальных единицах валюты.
	TotalAmount int64 `json:"total_amount"`

	// CreatedAt — время создания заказа.
	CreatedAt time.Time `json:"created_at"`
}
