package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Outreach/internal/domain"
)

// maxRecipientsPerRequest — лимит батча одной регистрации.
const maxRecipientsPerRequest = 10000

// CreateCampaign создаёт новую кампанию.
// POST /api/v1/campaigns
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if req.Subject == "" {
		BadRequest(w, "subject is required")
		return
	}

	campaign := &domain.Campaign{
		ID:         uuid.New(),
		Name:       req.Name,
		Subject:    req.Subject,
		TemplateID: req.TemplateID,
		CreatedAt:  time.Now(),
	}

	if err := h.campaignRepo.Create(r.Context(), campaign); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, CampaignFromDomain(*campaign))
}

// GetCampaign возвращает кампанию по ID.
// GET /api/v1/campaigns/{id}
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid campaign id")
		return
	}

	campaign, err := h.campaignRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "campaign not found") {
		return
	}

	Success(w, CampaignFromDomain(*campaign))
}

// RegisterRecipients выполняет bulk-регистрацию получателей кампании.
// POST /api/v1/campaigns/{id}/recipients
//
// Регистрация идемпотентна: повторный вызов с тем же списком не создаёт
// дубликатов (уникальность по (campaign, email)). Для созданных записей
// публикуются задания отправки; ошибка публикации не откатывает
// регистрацию — записи подберёт polling dispatcher'а.
func (h *Handler) RegisterRecipients(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid campaign id")
		return
	}

	var req RegisterRecipientsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if len(req.Recipients) == 0 {
		BadRequest(w, "recipients are required")
		return
	}
	if len(req.Recipients) > maxRecipientsPerRequest {
		BadRequest(w, "too many recipients in one request")
		return
	}

	// Кампания должна существовать
	if _, err := h.campaignRepo.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "campaign not found") {
		return
	}

	result, err := h.ledgerRepo.BulkRegister(r.Context(), id, req.Recipients)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	if h.publisher != nil {
		for _, detail := range result.Details {
			if detail.Outcome != domain.RegisterOutcomeCreated {
				continue
			}
			if err := h.publisher.PublishSendReady(r.Context(), detail.JobKey); err != nil {
				h.logger.Warn("failed to publish send job",
					"job_key", detail.JobKey,
					"error", err,
				)
			}
		}
	}

	h.logger.Info("recipients registered",
		"campaign_id", id,
		"created", result.Created,
		"duplicates", result.Duplicates,
		"errors", result.Errors,
	)

	Created(w, result)
}

// ListRecipients возвращает записи ledger'а одной кампании.
// GET /api/v1/campaigns/{id}/recipients?limit=&offset=
func (h *Handler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid campaign id")
		return
	}

	limit, offset := parsePage(r)

	entries, err := h.ledgerRepo.ListByCampaign(r.Context(), id, limit, offset)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]SendResponse, len(entries))
	for i, e := range entries {
		result[i] = SendFromDomain(e)
	}

	List(w, result, len(result))
}

// GetSend возвращает запись send ledger'а по job key.
// GET /api/v1/sends/{jobKey}
func (h *Handler) GetSend(w http.ResponseWriter, r *http.Request) {
	jobKey := r.PathValue("jobKey")
	if jobKey == "" {
		BadRequest(w, "job key is required")
		return
	}

	entry, err := h.ledgerRepo.GetByJobKey(r.Context(), jobKey)
	if HandleRepoError(w, h.logger, err, "send not found") {
		return
	}

	Success(w, SendFromDomain(*entry))
}

// parsePage извлекает limit/offset из query-параметров.
func parsePage(r *http.Request) (limit, offset int) {
	limit = 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
