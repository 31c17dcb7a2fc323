// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go           — Handler с DI (репозитории, publisher, logger)
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — middleware (logging, recovery)
//   - response.go          — унифицированные JSON-ответы и обработка ошибок
//   - dto.go               — Data Transfer Objects (request/response)
//   - campaign_handler.go  — обработчики для /campaigns и /sends
//   - flow_handler.go      — обработчики для /flows
//   - execution_handler.go — обработчики для /executions и триггеров
//
// API предоставляет REST endpoints для кампаний, send ledger'а,
// автоматизаций и их executions.
package api
