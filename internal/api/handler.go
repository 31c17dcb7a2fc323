package api

import (
	"log/slog"

	"github.com/shaiso/Outreach/internal/mq"
	"github.com/shaiso/Outreach/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	campaignRepo  *repo.CampaignRepo
	customerRepo  *repo.CustomerRepo
	ledgerRepo    *repo.LedgerRepo
	flowRepo      *repo.FlowRepo
	executionRepo *repo.ExecutionRepo
	publisher     *mq.Publisher
	logger        *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	CampaignRepo  *repo.CampaignRepo
	CustomerRepo  *repo.CustomerRepo
	LedgerRepo    *repo.LedgerRepo
	FlowRepo      *repo.FlowRepo
	ExecutionRepo *repo.ExecutionRepo
	Publisher     *mq.Publisher
	Logger        *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		campaignRepo:  cfg.CampaignRepo,
		customerRepo:  cfg.CustomerRepo,
		ledgerRepo:    cfg.LedgerRepo,
		flowRepo:      cfg.FlowRepo,
		executionRepo: cfg.ExecutionRepo,
		publisher:     cfg.Publisher,
		logger:        cfg.Logger,
	}
}
