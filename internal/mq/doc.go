// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - send.ready — запись send ledger'а готова к отправке
//   - flow.step  — сигнал "обработай шаг N" для flow execution
//
// Exchanges:
//   - outreach.sends — задания на отправку кампаний
//   - outreach.flows — сигналы шагов автоматизаций
//   - outreach.dlq   — dead letter queue
//
// Доставка at-least-once; дедупликация лежит на потребителях:
// атомарный claim в ledger'е и completedSteps у execution.
package mq
