package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Outreach/internal/domain"
)

// ExecutionRepo — репозиторий flow executions.
//
// Execution — единственный источник истины для state machine, поэтому
// каждая мутация — условный UPDATE с guard'ом по версии (optimistic
// locking). Проигранная гонка версий при идемпотентной обработке
// сигнала — это повторная доставка, не ошибка.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

const executionColumns = `
	id, flow_id, customer_id, trigger_key, status, current_step,
	completed_steps, context, resume_at, last_error, version,
	created_at, updated_at
`

// Create создаёт execution.
//
// Уникальный индекс (flow_id, customer_id, trigger_key) гарантирует
// один execution на customer'а на одно срабатывание триггера;
// повторное создание возвращает ErrAlreadyExists.
func (r *ExecutionRepo) Create(ctx context.Context, exec *domain.Execution) error {
	contextJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	query := `
		INSERT INTO flow_executions (
			id, flow_id, customer_id, trigger_key, status, current_step,
			completed_steps, context, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
		ON CONFLICT (flow_id, customer_id, trigger_key) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query,
		exec.ID,
		exec.FlowID,
		exec.CustomerID,
		exec.TriggerKey,
		exec.Status,
		exec.CurrentStep,
		intArray(exec.CompletedSteps),
		contextJSON,
		exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetByID возвращает execution по ID.
func (r *ExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM flow_executions WHERE id = $1`
	return scanExecution(r.pool.QueryRow(ctx, query, id))
}

// Update записывает execution с guard'ом по версии.
//
// exec.Version — версия, прочитанная вызывающим; при успехе она
// инкрементируется и в БД, и в переданной структуре. Несовпадение
// версий возвращает ErrStaleVersion.
func (r *ExecutionRepo) Update(ctx context.Context, exec *domain.Execution) error {
	contextJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	query := `
		UPDATE flow_executions
		SET status = $3,
		    current_step = $4,
		    completed_steps = $5,
		    context = $6,
		    resume_at = $7,
		    last_error = $8,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $2
	`
	tag, err := r.pool.Exec(ctx, query,
		exec.ID,
		exec.Version,
		exec.Status,
		exec.CurrentStep,
		intArray(exec.CompletedSteps),
		contextJSON,
		exec.ResumeAt,
		nullString(exec.LastError),
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion
	}

	exec.Version++
	return nil
}

// ClaimDueResumes атомарно переводит due waiting-executions в active
// и возвращает их. SKIP LOCKED позволяет нескольким экземплярам
// scheduler'а работать по одной таблице без двойной публикации
// (повторная публикация при этом безвредна: сигналы идемпотентны).
func (r *ExecutionRepo) ClaimDueResumes(ctx context.Context, now time.Time, limit int) ([]domain.Execution, error) {
	query := `
		UPDATE flow_executions
		SET status = $1, resume_at = NULL, version = version + 1, updated_at = now()
		WHERE id IN (
			SELECT id FROM flow_executions
			WHERE status = $2 AND resume_at <= $3
			ORDER BY resume_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + executionColumns

	rows, err := r.pool.Query(ctx, query,
		domain.ExecutionStatusActive, domain.ExecutionStatusWaiting, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due resumes: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// Cancel переводит незавершённый execution в cancelled.
// Отмена кооперативная: следующий сигнал увидит статус и отбросит себя.
func (r *ExecutionRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE flow_executions
		SET status = $2, resume_at = NULL, version = version + 1, updated_at = now()
		WHERE id = $1 AND status IN ($3, $4)
	`
	tag, err := r.pool.Exec(ctx, query,
		id, domain.ExecutionStatusCancelled,
		domain.ExecutionStatusActive, domain.ExecutionStatusWaiting,
	)
	if err != nil {
		return fmt.Errorf("cancel execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByFlow возвращает executions одного flow (для дашбордов).
func (r *ExecutionRepo) ListByFlow(ctx context.Context, flowID uuid.UUID, limit, offset int) ([]domain.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM flow_executions
		WHERE flow_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, flowID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list executions by flow: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// ListStalled возвращает active executions, не менявшиеся дольше
// указанного порога — polling fallback flow-воркера на случай
// потерянного сигнала.
func (r *ExecutionRepo) ListStalled(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM flow_executions
		WHERE status = $1 AND updated_at < now() - make_interval(secs => $2)
		ORDER BY updated_at ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, domain.ExecutionStatusActive, olderThan.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// --- Helpers ---

// scanExecution сканирует одну строку в Execution.
func scanExecution(row pgx.Row) (*domain.Execution, error) {
	var e domain.Execution
	var completed []int32
	var contextJSON []byte
	var lastError *string

	err := row.Scan(
		&e.ID,
		&e.FlowID,
		&e.CustomerID,
		&e.TriggerKey,
		&e.Status,
		&e.CurrentStep,
		&completed,
		&contextJSON,
		&e.ResumeAt,
		&lastError,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	e.CompletedSteps = make([]int, len(completed))
	for i, v := range completed {
		e.CompletedSteps[i] = int(v)
	}

	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &e.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if lastError != nil {
		e.LastError = *lastError
	}

	return &e, nil
}

// collectExecutions сканирует все строки результата.
func collectExecutions(rows pgx.Rows) ([]domain.Execution, error) {
	var execs []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *exec)
	}
	return execs, rows.Err()
}

// intArray конвертирует []int в []int32 для int4[] колонок.
func intArray(vals []int) []int32 {
	out := make([]int32, len(vals))
	for i, v := range vals {
		out[i] = int32(v)
	}
	return out
}
