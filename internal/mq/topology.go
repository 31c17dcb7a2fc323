package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeSends Exchange = "outreach.sends"
	ExchangeFlows Exchange = "outreach.flows"
	ExchangeDLQ   Exchange = "outreach.dlq"
)

// Queues — имена очередей.
const (
	QueueSendsReady Queue = "sends.ready"
	QueueFlowSteps  Queue = "flows.steps"
	QueueDLQSends   Queue = "dlq.sends"
	QueueDLQSteps   Queue = "dlq.steps"
)

// Routing keys.
const (
	RoutingKeyReady    RoutingKey = "ready"
	RoutingKeyStep     RoutingKey = "step"
	RoutingKeyDLQSends RoutingKey = "sends"
	RoutingKeyDLQSteps RoutingKey = "steps"
)

// SetupTopology объявляет exchanges, queues и bindings.
//
// Доставка at-least-once: очереди durable, сообщения persistent,
// ack вручную. Дедупликация — ответственность потребителей
// (ledger claim / completedSteps у execution).
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeSends, "direct"},
		{ExchangeFlows, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// sends.ready — задания на отправку, после retry уходят в DLQ
		{QueueSendsReady, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQSends),
		}},

		// flows.steps — сигналы шагов, после retry уходят в DLQ
		{QueueFlowSteps, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQSteps),
		}},

		// DLQ очереди — ручной разбор
		{QueueDLQSends, nil},
		{QueueDLQSteps, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueSendsReady, RoutingKeyReady, ExchangeSends},
		{QueueFlowSteps, RoutingKeyStep, ExchangeFlows},
		{QueueDLQSends, RoutingKeyDLQSends, ExchangeDLQ},
		{QueueDLQSteps, RoutingKeyDLQSteps, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}
