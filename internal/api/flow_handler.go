package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Outreach/internal/domain"
	"github.com/shaiso/Outreach/internal/scheduler"
)

// ListFlows возвращает список всех flows.
// GET /api/v1/flows
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.flowRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]FlowResponse, len(flows))
	for i, f := range flows {
		result[i] = FlowFromDomain(f)
	}

	List(w, result, len(result))
}

// CreateFlow создаёт новый flow.
// POST /api/v1/flows
func (h *Handler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var req CreateFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	flow := &domain.Flow{
		ID:          uuid.New(),
		Name:        req.Name,
		IsActive:    req.IsActive,
		Steps:       req.Steps,
		TriggerCron: req.TriggerCron,
		CreatedAt:   time.Now(),
	}

	if err := flow.Validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if flow.TriggerCron != "" {
		if err := scheduler.ValidateCron(flow.TriggerCron); err != nil {
			BadRequest(w, err.Error())
			return
		}
	}

	if err := h.flowRepo.Create(r.Context(), flow); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, FlowFromDomain(*flow))
}

// GetFlow возвращает flow по ID.
// GET /api/v1/flows/{id}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	flow, err := h.flowRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	Success(w, FlowFromDomain(*flow))
}

// DeleteFlow удаляет flow.
// DELETE /api/v1/flows/{id}
//
// Запущенные executions не удаляются: их следующий сигнал увидит
// отсутствие flow и переведёт execution в failed.
func (h *Handler) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	if err := h.flowRepo.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	NoContent(w)
}

// SetFlowActive включает либо выключает flow.
// PUT /api/v1/flows/{id}/active
func (h *Handler) SetFlowActive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	var req SetFlowActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := h.flowRepo.SetActive(r.Context(), id, req.IsActive); HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	flow, err := h.flowRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	Success(w, FlowFromDomain(*flow))
}
