package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Outreach/internal/domain"
)

// CampaignRepo — репозиторий кампаний.
type CampaignRepo struct {
	pool *pgxpool.Pool
}

// NewCampaignRepo создаёт новый CampaignRepo.
func NewCampaignRepo(pool *pgxpool.Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

// Create создаёт кампанию.
func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	query := `
		INSERT INTO campaigns (id, name, subject, template_id, sent_count, failed_count, created_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5)
	`
	_, err := r.pool.Exec(ctx, query, c.ID, c.Name, c.Subject, c.TemplateID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetByID возвращает кампанию по ID.
func (r *CampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	query := `
		SELECT id, name, subject, template_id, sent_count, failed_count, created_at
		FROM campaigns
		WHERE id = $1
	`
	var c domain.Campaign
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Subject, &c.TemplateID, &c.SentCount, &c.FailedCount, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	return &c, nil
}

// IncrementSent атомарно увеличивает счётчик отправленных.
func (r *CampaignRepo) IncrementSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE campaigns SET sent_count = sent_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment sent count: %w", err)
	}
	return nil
}

// IncrementFailed атомарно увеличивает счётчик неудачных.
func (r *CampaignRepo) IncrementFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE campaigns SET failed_count = failed_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment failed count: %w", err)
	}
	return nil
}
