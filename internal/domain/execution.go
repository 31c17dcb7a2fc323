package domain

import (
	"time"

	"github.com/google/uuid"
)

// Execution — один запущенный экземпляр flow для одного customer'а.
//
// Execution — источник истины для state machine: сигналы из очереди
// доставляются at-least-once и могут быть устаревшими, поэтому каждый
// сигнал валидируется против durable-состояния execution'а.
//
// Инварианты:
//   - CurrentStep продвигается только после полного выполнения шага
//     с этим индексом
//   - CompletedSteps растёт монотонно и ⊆ [0, CurrentStep]
type Execution struct {
	// ID — уникальный идентификатор execution.
	ID uuid.UUID `json:"id"`

	// FlowID — ссылка на выполняемый flow.
	FlowID uuid.UUID `json:"flow_id"`

	// CustomerID — customer, для которого запущен flow (снимок на момент триггера).
	CustomerID uuid.UUID `json:"customer_id"`

	// TriggerKey — ключ события-триггера. Уникальный индекс
	// (flow_id, customer_id, trigger_key) гарантирует один execution
	// на customer'а на одно срабатывание триггера.
	TriggerKey string `json:"trigger_key"`

	// Status — текущий статус execution.
	Status ExecutionStatus `json:"status"`

	// CurrentStep — индекс следующего шага к выполнению.
	CurrentStep int `json:"current_step"`

	// CompletedSteps — индексы полностью выполненных шагов (монотонное множество).
	CompletedSteps []int `json:"completed_steps"`

	// Context — данные, передаваемые между шагами.
	Context ExecutionContext `json:"context"`

	// ResumeAt — время возобновления для статуса waiting.
	ResumeAt *time.Time `json:"resume_at,omitempty"`

	// LastError — текст ошибки для статуса failed.
	LastError string `json:"last_error,omitempty"`

	// Version — счётчик версий для optimistic locking.
	Version int `json:"version"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последней мутации.
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionContext — межшаговые данные execution.
//
// Известные поля типизированы; Extra оставлен как открытое расширение
// для данных, не попадающих в известные поля.
type ExecutionContext struct {
	// DiscountCode — код, сгенерированный шагом create_discount.
	DiscountCode string `json:"discount_code,omitempty"`

	// Extra — открытое расширение.
	Extra map[string]any `json:"extra,omitempty"`
}

// NewExecution создаёт execution на шаге 0 в статусе active.
func NewExecution(flowID, customerID uuid.UUID, triggerKey string) *Execution {
	now := time.Now()
	return &Execution{
		ID:          uuid.New(),
		FlowID:      flowID,
		CustomerID:  customerID,
		TriggerKey:  triggerKey,
		Status:      ExecutionStatusActive,
		CurrentStep: 0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasCompleted возвращает true, если шаг с данным индексом уже выполнен.
// Повторная доставка сигнала для такого шага — тихий no-op.
func (e *Execution) HasCompleted(stepIndex int) bool {
	for _, idx := range e.CompletedSteps {
		if idx == stepIndex {
			return true
		}
	}
	return false
}

// RecordCompleted добавляет шаг в CompletedSteps (идемпотентно).
func (e *Execution) RecordCompleted(stepIndex int) {
	if e.HasCompleted(stepIndex) {
		return
	}
	e.CompletedSteps = append(e.CompletedSteps, stepIndex)
}

// Advance продвигает CurrentStep на следующий индекс.
func (e *Execution) Advance(nextStep int) {
	e.CurrentStep = nextStep
	e.Status = ExecutionStatusActive
	e.ResumeAt = nil
}

// Park переводит execution в waiting до указанного времени.
// Возобновление придёт только через отложенный сигнал — никакой
// поток при этом не удерживается.
func (e *Execution) Park(nextStep int, resumeAt time.Time) {
	e.CurrentStep = nextStep
	e.Status = ExecutionStatusWaiting
	e.ResumeAt = &resumeAt
}

// MarkCompleted переводит execution в completed.
func (e *Execution) MarkCompleted() {
	e.Status = ExecutionStatusCompleted
	e.ResumeAt = nil
}

// MarkFailed переводит execution в failed с ошибкой.
func (e *Execution) MarkFailed(err string) {
	e.Status = ExecutionStatusFailed
	e.LastError = err
	e.ResumeAt = nil
}

// MarkCancelled переводит execution в cancelled.
// Отмена кооперативная: уже доставленный сигнал может выполнить
// максимум ещё один шаг, следующий отбросит себя сам.
func (e *Execution) MarkCancelled() {
	e.Status = ExecutionStatusCancelled
	e.ResumeAt = nil
}

// IsFinished возвращает true, если execution завершён.
func (e *Execution) IsFinished() bool {
	return e.Status.IsTerminal()
}

// StepSignal — транзиентный сигнал "обработай шаг N" (payload очереди).
//
// Не авторитативен: может быть доставлен повторно или для уже
// удалённого состояния. Источник истины — Execution.
type StepSignal struct {
	FlowID      uuid.UUID `json:"flow_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	StepIndex   int       `json:"step_index"`
}

// Valid проверяет полноту payload'а. Неполный сигнал перманентно
// некорректен и отбрасывается без retry.
func (s *StepSignal) Valid() bool {
	return s.FlowID != uuid.Nil && s.ExecutionID != uuid.Nil && s.StepIndex >= 0
}
