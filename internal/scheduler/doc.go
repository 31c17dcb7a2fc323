// Package scheduler реализует периодический тик системы.
//
// Тик состоит из трёх фаз: снятие протухших lock'ов send ledger'а с
// re-publish заданий отправки, возобновление due waiting executions и
// запуск flows с cron-расписанием. Тикает только лидер — выборы через
// pg advisory lock в main — но каждая фаза и сама по себе идемпотентна:
// повторное срабатывание схлопывается условным UPDATE'ом или
// уникальным ключом триггера.
package scheduler
