package domain

// SendStatus — статус записи в send ledger.
//
// Жизненный цикл:
//
//	pending → processing → sending → sent → delivered
//	                               ↘ failed (после исчерпания попыток)
//	                               ↘ bounced
//	        (или) → skipped (бизнес-правило: нет адреса, отписан)
//
// Запись с протухшим lock'ом (processing/sending дольше таймаута)
// считается брошенной и может быть захвачена заново.
type SendStatus string

const (
	// SendStatusPending — запись создана, ожидает захвата воркером.
	SendStatusPending SendStatus = "pending"

	// SendStatusProcessing — запись захвачена воркером (lock установлен).
	SendStatusProcessing SendStatus = "processing"

	// SendStatusSending — воркер вызывает delivery provider.
	SendStatusSending SendStatus = "sending"

	// SendStatusSent — provider принял сообщение.
	SendStatusSent SendStatus = "sent"

	// SendStatusDelivered — provider подтвердил доставку (out-of-band callback).
	SendStatusDelivered SendStatus = "delivered"

	// SendStatusFailed — все попытки исчерпаны.
	SendStatusFailed SendStatus = "failed"

	// SendStatusBounced — адрес отклонён получающей стороной.
	SendStatusBounced SendStatus = "bounced"

	// SendStatusSkipped — отправка пропущена по бизнес-правилу.
	SendStatusSkipped SendStatus = "skipped"
)

// IsTerminal возвращает true, если статус финальный.
func (s SendStatus) IsTerminal() bool {
	switch s {
	case SendStatusSent, SendStatusDelivered, SendStatusFailed, SendStatusBounced, SendStatusSkipped:
		return true
	default:
		return false
	}
}

// IsLocked возвращает true, если статус подразумевает установленный lock.
// Инвариант ledger'а: locked_by != NULL ⇔ status ∈ {processing, sending}.
func (s SendStatus) IsLocked() bool {
	return s == SendStatusProcessing || s == SendStatusSending
}

// ExecutionStatus — статус выполнения flow execution.
//
// Жизненный цикл:
//
//	active → waiting → active → ... → completed
//	                                ↘ failed
//	                                ↘ cancelled (кооперативно, из active или waiting)
type ExecutionStatus string

const (
	// ExecutionStatusActive — execution выполняется, следующий шаг в очереди.
	ExecutionStatusActive ExecutionStatus = "active"

	// ExecutionStatusWaiting — execution приостановлен wait-шагом до resume_at.
	ExecutionStatusWaiting ExecutionStatus = "waiting"

	// ExecutionStatusCompleted — все шаги выполнены.
	ExecutionStatusCompleted ExecutionStatus = "completed"

	// ExecutionStatusCancelled — остановлен явно; следующий сигнал сам себя отбросит.
	ExecutionStatusCancelled ExecutionStatus = "cancelled"

	// ExecutionStatusFailed — необрабатываемая ошибка на одном из шагов.
	ExecutionStatusFailed ExecutionStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusCancelled, ExecutionStatusFailed:
		return true
	default:
		return false
	}
}
