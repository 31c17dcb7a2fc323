package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Outreach/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeSendReady MessageType = "send.ready"
	MessageTypeFlowStep  MessageType = "flow.step"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// SendReadyPayload — payload задания на отправку.
// Несёт только job key: всё остальное в ledger'е, он источник истины.
type SendReadyPayload struct {
	JobKey string `json:"job_key"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishSendReady публикует задание на отправку одной записи ledger'а.
// Потребитель: Dispatcher.
func (p *Publisher) PublishSendReady(ctx context.Context, jobKey string) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeSendReady,
		Payload:   SendReadyPayload{JobKey: jobKey},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeSends, RoutingKeyReady, msg)
}

// PublishFlowStep публикует сигнал "обработай шаг N" для execution.
// Потребитель: flow step worker.
//
// Отложенная доставка (wait-шаги) сюда не попадает: execution паркуется
// в waiting с resume_at, а scheduler публикует сигнал когда срок выйдет —
// многодневная пауза не держит ни сообщения в очереди, ни потока.
func (p *Publisher) PublishFlowStep(ctx context.Context, signal domain.StepSignal) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeFlowStep,
		Payload:   signal,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeFlows, RoutingKeyStep, msg)
}
