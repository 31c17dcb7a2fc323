package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Outreach/internal/domain"
)

// FlowRepo — репозиторий flow-определений.
//
// Определение принадлежит маркетологу; движок читает шаги и мутирует
// только агрегатные счётчики (атомарными инкрементами).
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// Create создаёт flow.
func (r *FlowRepo) Create(ctx context.Context, flow *domain.Flow) error {
	stepsJSON, err := json.Marshal(flow.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	query := `
		INSERT INTO flows (id, name, is_active, steps, trigger_cron, completions, emails_sent, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		flow.ID,
		flow.Name,
		flow.IsActive,
		stepsJSON,
		nullString(flow.TriggerCron),
		flow.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

// GetByID возвращает flow по ID.
func (r *FlowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	query := `
		SELECT id, name, is_active, steps, trigger_cron, completions, emails_sent, created_at
		FROM flows
		WHERE id = $1
	`
	return scanFlow(r.pool.QueryRow(ctx, query, id))
}

// List возвращает все flows.
func (r *FlowRepo) List(ctx context.Context) ([]domain.Flow, error) {
	query := `
		SELECT id, name, is_active, steps, trigger_cron, completions, emails_sent, created_at
		FROM flows
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *flow)
	}
	return flows, rows.Err()
}

// ListScheduled возвращает активные flows с cron-триггером.
func (r *FlowRepo) ListScheduled(ctx context.Context) ([]domain.Flow, error) {
	query := `
		SELECT id, name, is_active, steps, trigger_cron, completions, emails_sent, created_at
		FROM flows
		WHERE is_active = true AND trigger_cron IS NOT NULL
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list scheduled flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *flow)
	}
	return flows, rows.Err()
}

// SetActive включает/выключает flow.
func (r *FlowRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE flows SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set flow active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет flow. Живые executions при этом осиротеют и их
// следующий сигнал переведёт их в failed (referential integrity check
// воркера).
func (r *FlowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementCompletions атомарно увеличивает счётчик завершений.
func (r *FlowRepo) IncrementCompletions(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE flows SET completions = completions + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment completions: %w", err)
	}
	return nil
}

// IncrementEmailsSent атомарно увеличивает счётчик отправленных писем.
func (r *FlowRepo) IncrementEmailsSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE flows SET emails_sent = emails_sent + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment emails sent: %w", err)
	}
	return nil
}

// --- Helpers ---

// scanFlow сканирует одну строку в Flow.
func scanFlow(row pgx.Row) (*domain.Flow, error) {
	var f domain.Flow
	var stepsJSON []byte
	var triggerCron *string

	err := row.Scan(
		&f.ID,
		&f.Name,
		&f.IsActive,
		&stepsJSON,
		&triggerCron,
		&f.Completions,
		&f.EmailsSent,
		&f.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan flow: %w", err)
	}

	if stepsJSON != nil {
		if err := json.Unmarshal(stepsJSON, &f.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	if triggerCron != nil {
		f.TriggerCron = *triggerCron
	}

	return &f, nil
}
