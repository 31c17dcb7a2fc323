// Package dispatch реализует пул воркеров отправки кампаний.
//
// Dispatcher захватывает записи send ledger'а (атомарный условный
// UPDATE), вызывает delivery provider и фиксирует результат. Параллелизм
// ограничен фиксированным числом слотов. Задания приходят из очереди
// sends.ready; polling по БД служит fallback'ом на случай потери
// сообщений и подхватывает записи с протухшими lock'ами.
package dispatch
