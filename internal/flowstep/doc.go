// Package flowstep реализует воркер шагов автоматизаций.
//
// Воркер получает сигналы "обработай шаг N" из очереди flows.steps,
// валидирует каждый против durable-состояния execution'а и выполняет
// ровно шаг current_step: send_email, wait, condition, add_tag или
// create_discount. Переходы сохраняются version-guarded UPDATE'ом до
// публикации следующего сигнала, поэтому повторные и устаревшие
// сигналы разрешаются в no-op. Паузы (wait) не держат потоков:
// execution паркуется в waiting, возобновление публикует scheduler.
package flowstep
