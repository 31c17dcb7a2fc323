package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Outreach/internal/domain"
)

// TriggerFlow запускает flow для одного customer'а.
// POST /api/v1/flows/{id}/trigger
//
// Ключ триггера делает запуск идемпотентным: повторный вызов с тем же
// ключом возвращает 409 вместо второго execution. Без ключа генерится
// уникальный — каждый вызов даёт новый execution.
func (h *Handler) TriggerFlow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	var req TriggerFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.CustomerID == uuid.Nil {
		BadRequest(w, "customer_id is required")
		return
	}

	flow, err := h.flowRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	if !flow.IsActive {
		InvalidState(w, "flow is not active")
		return
	}
	if len(flow.Steps) == 0 {
		InvalidState(w, "flow has no steps")
		return
	}

	if _, err := h.customerRepo.GetByID(r.Context(), req.CustomerID); HandleRepoError(w, h.logger, err, "customer not found") {
		return
	}

	triggerKey := req.TriggerKey
	if triggerKey == "" {
		triggerKey = fmt.Sprintf("manual:%d", time.Now().UnixNano())
	}

	exec := domain.NewExecution(flow.ID, req.CustomerID, triggerKey)
	if err := h.executionRepo.Create(r.Context(), exec); HandleRepoError(w, h.logger, err, "") {
		return
	}

	if h.publisher != nil {
		signal := domain.StepSignal{
			FlowID:      flow.ID,
			ExecutionID: exec.ID,
			StepIndex:   0,
		}
		if err := h.publisher.PublishFlowStep(r.Context(), signal); err != nil {
			// Execution создан — подберёт polling воркера шагов
			h.logger.Warn("failed to publish trigger signal",
				"execution_id", exec.ID,
				"error", err,
			)
		}
	}

	h.logger.Info("flow triggered",
		"flow_id", flow.ID,
		"customer_id", req.CustomerID,
		"execution_id", exec.ID,
		"trigger_key", triggerKey,
	)

	Created(w, ExecutionFromDomain(*exec))
}

// GetExecution возвращает execution по ID.
// GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	exec, err := h.executionRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}

	Success(w, ExecutionFromDomain(*exec))
}

// ListFlowExecutions возвращает executions одного flow.
// GET /api/v1/flows/{id}/executions?limit=&offset=
func (h *Handler) ListFlowExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	limit, offset := parsePage(r)

	execs, err := h.executionRepo.ListByFlow(r.Context(), id, limit, offset)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ExecutionResponse, len(execs))
	for i, e := range execs {
		result[i] = ExecutionFromDomain(e)
	}

	List(w, result, len(result))
}

// CancelExecution отменяет незавершённый execution.
// POST /api/v1/executions/{id}/cancel
//
// Отмена кооперативная: уже доставленный сигнал может выполнить ещё
// один шаг, следующий отбросит себя по статусу.
func (h *Handler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	exec, err := h.executionRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}

	if exec.IsFinished() {
		InvalidState(w, fmt.Sprintf("execution already %s", exec.Status))
		return
	}

	if err := h.executionRepo.Cancel(r.Context(), id); HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}

	exec, err = h.executionRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}

	Success(w, ExecutionFromDomain(*exec))
}
