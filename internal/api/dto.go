package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Outreach/internal/domain"
)

// Campaign DTOs

// CreateCampaignRequest — запрос на создание кампании.
type CreateCampaignRequest struct {
	Name       string `json:"name"`
	Subject    string `json:"subject"`
	TemplateID string `json:"template_id"`
}

// CampaignResponse — ответ с кампанией.
type CampaignResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	TemplateID  string    `json:"template_id"`
	SentCount   int64     `json:"sent_count"`
	FailedCount int64     `json:"failed_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// CampaignFromDomain конвертирует domain.Campaign в CampaignResponse.
func CampaignFromDomain(c domain.Campaign) CampaignResponse {
	return CampaignResponse{
		ID:          c.ID,
		Name:        c.Name,
		Subject:     c.Subject,
		TemplateID:  c.TemplateID,
		SentCount:   c.SentCount,
		FailedCount: c.FailedCount,
		CreatedAt:   c.CreatedAt,
	}
}

// Recipient DTOs

// RegisterRecipientsRequest — запрос на bulk-регистрацию получателей.
type RegisterRecipientsRequest struct {
	Recipients []domain.Recipient `json:"recipients"`
}

// Send ledger DTOs

// SendResponse — ответ с записью send ledger'а.
type SendResponse struct {
	JobKey            string     `json:"job_key"`
	CampaignID        uuid.UUID  `json:"campaign_id"`
	Email             string     `json:"email"`
	CustomerID        *uuid.UUID `json:"customer_id,omitempty"`
	Status            string     `json:"status"`
	Attempts          int        `json:"attempts"`
	MaxAttempts       int        `json:"max_attempts"`
	LastError         string     `json:"last_error,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// SendFromDomain конвертирует domain.SendLedgerEntry в SendResponse.
func SendFromDomain(e domain.SendLedgerEntry) SendResponse {
	return SendResponse{
		JobKey:            e.JobKey,
		CampaignID:        e.CampaignID,
		Email:             e.Email,
		CustomerID:        e.CustomerID,
		Status:            string(e.Status),
		Attempts:          e.Attempts,
		MaxAttempts:       e.MaxAttempts,
		LastError:         e.LastError,
		ProviderMessageID: e.ProviderMessageID,
		SentAt:            e.SentAt,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

// Flow DTOs

// CreateFlowRequest — запрос на создание flow.
type CreateFlowRequest struct {
	Name        string        `json:"name"`
	Steps       []domain.Step `json:"steps"`
	TriggerCron string        `json:"trigger_cron,omitempty"`
	IsActive    bool          `json:"is_active,omitempty"`
}

// SetFlowActiveRequest — запрос на включение/выключение flow.
type SetFlowActiveRequest struct {
	IsActive bool `json:"is_active"`
}

// FlowResponse — ответ с flow.
type FlowResponse struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	IsActive    bool          `json:"is_active"`
	Steps       []domain.Step `json:"steps"`
	TriggerCron string        `json:"trigger_cron,omitempty"`
	Completions int64         `json:"completions"`
	EmailsSent  int64         `json:"emails_sent"`
	CreatedAt   time.Time     `json:"created_at"`
}

// FlowFromDomain конвертирует domain.Flow в FlowResponse.
func FlowFromDomain(f domain.Flow) FlowResponse {
	return FlowResponse{
		ID:          f.ID,
		Name:        f.Name,
		IsActive:    f.IsActive,
		Steps:       f.Steps,
		TriggerCron: f.TriggerCron,
		Completions: f.Completions,
		EmailsSent:  f.EmailsSent,
		CreatedAt:   f.CreatedAt,
	}
}

// Execution DTOs

// Customer DTOs

// CreateCustomerRequest — запрос на загрузку снимка customer'а.
type CreateCustomerRequest struct {
	Email        string   `json:"email"`
	ExternalID   string   `json:"external_id,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Unsubscribed bool     `json:"unsubscribed"`
	Bounced      bool     `json:"bounced"`
}

// CustomerResponse — ответ с customer'ом.
type CustomerResponse struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	ExternalID   string    `json:"external_id,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Unsubscribed bool      `json:"unsubscribed"`
	Bounced      bool      `json:"bounced"`
	CreatedAt    time.Time `json:"created_at"`
}

// CustomerFromDomain конвертирует domain.Customer в CustomerResponse.
func CustomerFromDomain(c domain.Customer) CustomerResponse {
	return CustomerResponse{
		ID:           c.ID,
		Email:        c.Email,
		ExternalID:   c.ExternalID,
		Tags:         c.Tags,
		Unsubscribed: c.Unsubscribed,
		Bounced:      c.Bounced,
		CreatedAt:    c.CreatedAt,
	}
}

// TriggerFlowRequest — запрос на запуск flow для customer'а.
type TriggerFlowRequest struct {
	CustomerID uuid.UUID `json:"customer_id"`
	TriggerKey string    `json:"trigger_key,omitempty"`
}

// ExecutionResponse — ответ с execution.
type ExecutionResponse struct {
	ID             uuid.UUID               `json:"id"`
	FlowID         uuid.UUID               `json:"flow_id"`
	CustomerID     uuid.UUID               `json:"customer_id"`
	TriggerKey     string                  `json:"trigger_key"`
	Status         string                  `json:"status"`
	CurrentStep    int                     `json:"current_step"`
	CompletedSteps []int                   `json:"completed_steps"`
	Context        domain.ExecutionContext `json:"context"`
	ResumeAt       *time.Time              `json:"resume_at,omitempty"`
	LastError      string                  `json:"last_error,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// ExecutionFromDomain конвертирует domain.Execution в ExecutionResponse.
func ExecutionFromDomain(e domain.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:             e.ID,
		FlowID:         e.FlowID,
		CustomerID:     e.CustomerID,
		TriggerKey:     e.TriggerKey,
		Status:         string(e.Status),
		CurrentStep:    e.CurrentStep,
		CompletedSteps: e.CompletedSteps,
		Context:        e.Context,
		ResumeAt:       e.ResumeAt,
		LastError:      e.LastError,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}
