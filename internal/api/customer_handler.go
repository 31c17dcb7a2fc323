package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Outreach/internal/domain"
)

// CreateCustomer загружает снимок customer'а.
// POST /api/v1/customers
//
// Источник истины по покупателям — внешний storefront; этот endpoint —
// путь загрузки снимка, не полноценный CRUD.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		BadRequest(w, "email is required")
		return
	}

	customer := &domain.Customer{
		ID:           uuid.New(),
		Email:        email,
		ExternalID:   req.ExternalID,
		Tags:         req.Tags,
		Unsubscribed: req.Unsubscribed,
		Bounced:      req.Bounced,
		CreatedAt:    time.Now(),
	}

	if err := h.customerRepo.Create(r.Context(), customer); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, CustomerFromDomain(*customer))
}

// GetCustomer возвращает customer'а по ID.
// GET /api/v1/customers/{id}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid customer id")
		return
	}

	customer, err := h.customerRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "customer not found") {
		return
	}

	Success(w, CustomerFromDomain(*customer))
}
