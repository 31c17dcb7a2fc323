package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Outreach/internal/domain"
)

// LedgerRepo — репозиторий send ledger'а.
//
// Все мутации — одиночные атомарные условные UPDATE'ы: ровно поэтому
// два воркера не могут выиграть одну и ту же запись. Уникальный
// констрейнт (campaign_id, email) — независимый второй рубеж против
// любого бага, обходящего логику захвата.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

// NewLedgerRepo создаёт новый LedgerRepo.
func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

const ledgerColumns = `
	job_key, campaign_id, email, customer_id, status,
	locked_by, locked_at, version, attempts, max_attempts,
	last_error, last_attempt_at, sent_at, delivered_at,
	provider_message_id, created_at, updated_at
`

// BulkRegister регистрирует получателей кампании.
//
// Порядок: валидация адреса → дедупликация внутри батча по job key →
// insert-only-if-absent (ON CONFLICT DO NOTHING), так что конкурентные
// пересекающиеся регистрации никогда не создают дублей. Частичные
// ошибки внутри батча не отменяют успешные строки.
func (r *LedgerRepo) BulkRegister(ctx context.Context, campaignID uuid.UUID, recipients []domain.Recipient) (*domain.RegisterResult, error) {
	// 1. Валидация и дедупликация в памяти
	entries, result := prepareRegister(campaignID, recipients)

	if len(entries) == 0 {
		return result, nil
	}

	// 2. Bulk insert-if-absent
	query := `
		INSERT INTO send_ledger (
			job_key, campaign_id, email, customer_id, status,
			version, attempts, max_attempts, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7, $7)
		ON CONFLICT (campaign_id, email) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, e.JobKey, e.CampaignID, e.Email, e.CustomerID, e.Status, e.MaxAttempts, e.CreatedAt)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, e := range entries {
		tag, err := results.Exec()
		if err != nil {
			result.Errors++
			result.Details = append(result.Details, domain.RegisterDetail{
				Email:   e.Email,
				JobKey:  e.JobKey,
				Outcome: domain.RegisterOutcomeInvalid,
				Error:   err.Error(),
			})
			continue
		}

		if tag.RowsAffected() == 0 {
			// Конфликт уникальности — запись уже есть
			result.Duplicates++
			result.Details = append(result.Details, domain.RegisterDetail{
				Email:   e.Email,
				JobKey:  e.JobKey,
				Outcome: domain.RegisterOutcomeDuplicate,
			})
			continue
		}

		result.Created++
		result.Details = append(result.Details, domain.RegisterDetail{
			Email:   e.Email,
			JobKey:  e.JobKey,
			Outcome: domain.RegisterOutcomeCreated,
		})
	}

	return result, nil
}

// prepareRegister валидирует получателей и дедуплицирует их по job key
// в пределах батча. Невалидные адреса и внутрибатчевые дубликаты сразу
// получают свой исход в result; возвращаются только записи для вставки.
func prepareRegister(campaignID uuid.UUID, recipients []domain.Recipient) ([]*domain.SendLedgerEntry, *domain.RegisterResult) {
	result := &domain.RegisterResult{}
	seen := make(map[string]bool, len(recipients))
	entries := make([]*domain.SendLedgerEntry, 0, len(recipients))

	for _, rec := range recipients {
		if err := domain.ValidateEmail(rec.Email); err != nil {
			result.Errors++
			result.Details = append(result.Details, domain.RegisterDetail{
				Email:   rec.Email,
				Outcome: domain.RegisterOutcomeInvalid,
				Error:   err.Error(),
			})
			continue
		}

		entry := domain.NewLedgerEntry(campaignID, rec.Email, rec.CustomerID)
		if seen[entry.JobKey] {
			result.Duplicates++
			result.Details = append(result.Details, domain.RegisterDetail{
				Email:   entry.Email,
				JobKey:  entry.JobKey,
				Outcome: domain.RegisterOutcomeDuplicate,
			})
			continue
		}
		seen[entry.JobKey] = true
		entries = append(entries, entry)
	}

	return entries, result
}

// Claim атомарно захватывает запись для воркера.
//
// Один условный UPDATE: запись захватывается, если она pending, либо
// processing/sending с протухшим lock'ом, либо failed с оставшимися
// попытками. Lock, версия и счётчик попыток меняются той же операцией.
//
// Возвращает (nil, nil), если запись держит другой воркер — для
// вызывающего это "пропустить", не ошибка.
func (r *LedgerRepo) Claim(ctx context.Context, jobKey, workerID string) (*domain.SendLedgerEntry, error) {
	query := `
		UPDATE send_ledger
		SET status = $3,
		    locked_by = $2,
		    locked_at = now(),
		    version = version + 1,
		    attempts = attempts + 1,
		    last_attempt_at = now(),
		    updated_at = now()
		WHERE job_key = $1
		  AND (
		       status = $4
		    OR (status IN ($3, $5) AND locked_at < now() - make_interval(secs => $7))
		    OR (status = $6 AND attempts < max_attempts)
		  )
		RETURNING ` + ledgerColumns

	row := r.pool.QueryRow(ctx, query,
		jobKey,
		workerID,
		domain.SendStatusProcessing,
		domain.SendStatusPending,
		domain.SendStatusSending,
		domain.SendStatusFailed,
		domain.LockTimeout.Seconds(),
	)

	entry, err := scanLedgerEntry(row)
	if errors.Is(err, ErrNotFound) {
		// Захват не удался: запись не существует, терминальна
		// или её держит живой lock другого воркера
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// MarkSending переводит захваченную запись в sending перед вызовом provider'а.
// Guard по владельцу lock'а: чужая запись не трогается.
func (r *LedgerRepo) MarkSending(ctx context.Context, jobKey, workerID string) error {
	query := `
		UPDATE send_ledger
		SET status = $3, version = version + 1, updated_at = now()
		WHERE job_key = $1 AND locked_by = $2 AND status = $4
	`
	_, err := r.pool.Exec(ctx, query, jobKey, workerID, domain.SendStatusSending, domain.SendStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark sending: %w", err)
	}
	return nil
}

// MarkSent переводит запись в sent, записывает внешний id и снимает lock.
//
// Переход происходит только если вызывающий всё ещё владеет lock'ом;
// проигранная гонка за владение — тихий no-op.
func (r *LedgerRepo) MarkSent(ctx context.Context, jobKey, workerID, providerMessageID string) error {
	query := `
		UPDATE send_ledger
		SET status = $3,
		    provider_message_id = $4,
		    sent_at = now(),
		    locked_by = NULL,
		    locked_at = NULL,
		    version = version + 1,
		    updated_at = now()
		WHERE job_key = $1 AND locked_by = $2 AND status IN ($5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		jobKey, workerID, domain.SendStatusSent, nullString(providerMessageID),
		domain.SendStatusProcessing, domain.SendStatusSending,
	)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailed фиксирует неудачную попытку: failed при исчерпанных
// попытках, иначе обратно в pending. Lock снимается в любом случае.
func (r *LedgerRepo) MarkFailed(ctx context.Context, jobKey, workerID, sendErr string) error {
	query := `
		UPDATE send_ledger
		SET status = CASE WHEN attempts >= max_attempts THEN $3 ELSE $4 END,
		    last_error = $5,
		    locked_by = NULL,
		    locked_at = NULL,
		    version = version + 1,
		    updated_at = now()
		WHERE job_key = $1 AND locked_by = $2
	`
	_, err := r.pool.Exec(ctx, query,
		jobKey, workerID, domain.SendStatusFailed, domain.SendStatusPending, nullString(sendErr),
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// MarkSkipped переводит запись в skipped по бизнес-правилу
// (нет адреса, отписан, bounced). Это не ошибка отправки.
func (r *LedgerRepo) MarkSkipped(ctx context.Context, jobKey, workerID, reason string) error {
	query := `
		UPDATE send_ledger
		SET status = $3,
		    last_error = $4,
		    locked_by = NULL,
		    locked_at = NULL,
		    version = version + 1,
		    updated_at = now()
		WHERE job_key = $1 AND locked_by = $2
	`
	_, err := r.pool.Exec(ctx, query, jobKey, workerID, domain.SendStatusSkipped, nullString(reason))
	if err != nil {
		return fmt.Errorf("mark skipped: %w", err)
	}
	return nil
}

// MarkDelivered фиксирует подтверждение доставки (out-of-band callback
// provider'а). Не guard'ится lock'ом: запись уже терминальна в sent.
func (r *LedgerRepo) MarkDelivered(ctx context.Context, jobKey string) error {
	query := `
		UPDATE send_ledger
		SET status = $2, delivered_at = now(), version = version + 1, updated_at = now()
		WHERE job_key = $1 AND status = $3
	`
	_, err := r.pool.Exec(ctx, query, jobKey, domain.SendStatusDelivered, domain.SendStatusSent)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// MarkBounced переводит запись в bounced.
func (r *LedgerRepo) MarkBounced(ctx context.Context, jobKey string) error {
	query := `
		UPDATE send_ledger
		SET status = $2,
		    locked_by = NULL,
		    locked_at = NULL,
		    version = version + 1,
		    updated_at = now()
		WHERE job_key = $1
	`
	_, err := r.pool.Exec(ctx, query, jobKey, domain.SendStatusBounced)
	if err != nil {
		return fmt.Errorf("mark bounced: %w", err)
	}
	return nil
}

// RecoverExpiredLocks сбрасывает протухшие processing/sending записи
// обратно в pending и возвращает их job keys для повторной публикации.
// Безопасно выполняется конкурентно с захватами: и то и другое —
// атомарные условные UPDATE'ы над одними и теми же условиями.
func (r *LedgerRepo) RecoverExpiredLocks(ctx context.Context, timeout time.Duration) ([]string, error) {
	query := `
		UPDATE send_ledger
		SET status = $1,
		    locked_by = NULL,
		    locked_at = NULL,
		    version = version + 1,
		    updated_at = now()
		WHERE status IN ($2, $3) AND locked_at < now() - make_interval(secs => $4)
		RETURNING job_key
	`
	rows, err := r.pool.Query(ctx, query,
		domain.SendStatusPending, domain.SendStatusProcessing, domain.SendStatusSending, timeout.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("recover expired locks: %w", err)
	}
	defer rows.Close()

	var jobKeys []string
	for rows.Next() {
		var jobKey string
		if err := rows.Scan(&jobKey); err != nil {
			return nil, fmt.Errorf("scan job key: %w", err)
		}
		jobKeys = append(jobKeys, jobKey)
	}
	return jobKeys, rows.Err()
}

// GetByJobKey возвращает запись по job key.
func (r *LedgerRepo) GetByJobKey(ctx context.Context, jobKey string) (*domain.SendLedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM send_ledger WHERE job_key = $1`
	return scanLedgerEntry(r.pool.QueryRow(ctx, query, jobKey))
}

// ListByCampaign возвращает записи кампании (для дашбордов).
func (r *LedgerRepo) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]domain.SendLedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM send_ledger
		WHERE campaign_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, campaignID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list ledger by campaign: %w", err)
	}
	defer rows.Close()

	return collectLedgerEntries(rows)
}

// ListClaimable возвращает записи, доступные для захвата
// (polling fallback dispatch-воркера).
func (r *LedgerRepo) ListClaimable(ctx context.Context, limit int) ([]domain.SendLedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM send_ledger
		WHERE status = $1
		   OR (status IN ($2, $3) AND locked_at < now() - make_interval(secs => $5))
		   OR (status = $4 AND attempts < max_attempts)
		ORDER BY created_at ASC
		LIMIT $6
	`
	rows, err := r.pool.Query(ctx, query,
		domain.SendStatusPending, domain.SendStatusProcessing, domain.SendStatusSending,
		domain.SendStatusFailed, domain.LockTimeout.Seconds(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list claimable: %w", err)
	}
	defer rows.Close()

	return collectLedgerEntries(rows)
}

// --- Helpers ---

// scanLedgerEntry сканирует одну строку в SendLedgerEntry.
func scanLedgerEntry(row pgx.Row) (*domain.SendLedgerEntry, error) {
	var e domain.SendLedgerEntry
	var lastError, providerMessageID *string

	err := row.Scan(
		&e.JobKey,
		&e.CampaignID,
		&e.Email,
		&e.CustomerID,
		&e.Status,
		&e.LockedBy,
		&e.LockedAt,
		&e.Version,
		&e.Attempts,
		&e.MaxAttempts,
		&lastError,
		&e.LastAttemptAt,
		&e.SentAt,
		&e.DeliveredAt,
		&providerMessageID,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}

	if lastError != nil {
		e.LastError = *lastError
	}
	if providerMessageID != nil {
		e.ProviderMessageID = *providerMessageID
	}

	return &e, nil
}

// collectLedgerEntries сканирует все строки результата.
func collectLedgerEntries(rows pgx.Rows) ([]domain.SendLedgerEntry, error) {
	var entries []domain.SendLedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
