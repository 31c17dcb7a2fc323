// Package provider содержит контракты внешних collaborator'ов:
// delivery provider (email/SMS) и storefront.
//
// Wire-уровень транспорта до провайдера — вне системы; здесь только
// абстрактные контракты, dev-реализация и явный "unavailable"-маркер
// вместо nil-collaborator'а.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ErrUnavailable — collaborator не сконфигурирован.
// Явный маркер вместо nil: вызывающий получает понятную ошибку,
// а не panic на nil-указателе.
var ErrUnavailable = errors.New("provider unavailable")

// OutboundMessage — сообщение для отправки.
type OutboundMessage struct {
	// To — адрес получателя.
	To string

	// Subject — тема.
	Subject string

	// TemplateID — шаблон содержимого (рендеринг — на стороне провайдера).
	TemplateID string
}

// Receipt — подтверждение приёма сообщения провайдером.
type Receipt struct {
	// ExternalID — id сообщения у провайдера.
	ExternalID string
}

// Delivery — контракт delivery provider'а.
//
// Send синхронно передаёт сообщение; асинхронные bounce/complaint
// сигналы приходят out-of-band и здесь не моделируются.
type Delivery interface {
	Send(ctx context.Context, msg OutboundMessage) (Receipt, error)
}

// Storefront — контракт storefront-платформы.
// Вызовы best-effort: неудача зеркалирования тега не роняет шаг.
type Storefront interface {
	TagCustomer(ctx context.Context, externalID, tag string) error
}

// --- Реализации ---

// LogDelivery — dev-реализация Delivery: логирует и возвращает
// синтетический external id.
type LogDelivery struct {
	Logger *slog.Logger
}

// Send логирует сообщение вместо реальной отправки.
func (d *LogDelivery) Send(ctx context.Context, msg OutboundMessage) (Receipt, error) {
	d.Logger.Info("delivery (log mode)",
		"to", msg.To,
		"subject", msg.Subject,
		"template_id", msg.TemplateID,
	)
	return Receipt{ExternalID: fmt.Sprintf("log-%s", uuid.New())}, nil
}

// UnavailableDelivery — Delivery-маркер "провайдер не настроен".
type UnavailableDelivery struct{}

// Send всегда возвращает ErrUnavailable.
func (UnavailableDelivery) Send(ctx context.Context, msg OutboundMessage) (Receipt, error) {
	return Receipt{}, ErrUnavailable
}

// LogStorefront — dev-реализация Storefront.
type LogStorefront struct {
	Logger *slog.Logger
}

// TagCustomer логирует зеркалирование тега.
func (s *LogStorefront) TagCustomer(ctx context.Context, externalID, tag string) error {
	s.Logger.Info("storefront tag (log mode)", "external_id", externalID, "tag", tag)
	return nil
}

// UnavailableStorefront — Storefront-маркер "платформа не настроена".
type UnavailableStorefront struct{}

// TagCustomer всегда возвращает ErrUnavailable.
func (UnavailableStorefront) TagCustomer(ctx context.Context, externalID, tag string) error {
	return ErrUnavailable
}
