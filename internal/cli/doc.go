// Package cli реализует инструмент командной строки Outreach.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Outreach API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для управления кампаниями, flows и executions.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Outreach API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	campaigns, err := client.ListFlows()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: outreach flow list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - campaign:  create, show, register, recipients
//   - flow:      list, create, show, delete, activate, trigger
//   - execution: show, list, cancel
//   - send:      show
//
// Каждая группа создаётся через фабричную функцию (NewFlowCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
