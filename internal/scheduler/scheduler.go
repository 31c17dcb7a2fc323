package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Outreach/internal/domain"
	"github.com/shaiso/Outreach/internal/repo"
	"github.com/shaiso/Outreach/internal/telemetry"
)

// defaultBatchSize — количество записей за один тик.
const defaultBatchSize = 100

// LedgerStore — операции send ledger'а, нужные scheduler'у.
type LedgerStore interface {
	RecoverExpiredLocks(ctx context.Context, timeout time.Duration) ([]string, error)
}

// ExecutionStore — операции execution'ов, нужные scheduler'у.
type ExecutionStore interface {
	ClaimDueResumes(ctx context.Context, now time.Time, limit int) ([]domain.Execution, error)
	Create(ctx context.Context, exec *domain.Execution) error
}

// FlowStore — чтение flows с периодическим триггером.
type FlowStore interface {
	ListScheduled(ctx context.Context) ([]domain.Flow, error)
}

// CustomerStore — выборка получателей для периодических триггеров.
type CustomerStore interface {
	ListMailable(ctx context.Context, limit, offset int) ([]domain.Customer, error)
}

// Publisher — публикация заданий и сигналов.
type Publisher interface {
	PublishSendReady(ctx context.Context, jobKey string) error
	PublishFlowStep(ctx context.Context, signal domain.StepSignal) error
}

// Scheduler — периодический тик системы.
//
// Один тик:
//   - Снимает протухшие lock'и ledger'а и переиздаёт задания отправки
//   - Переводит due executions из waiting в active и публикует
//     сигнал следующего шага
//   - Триггерит flows с cron-расписанием
//
// Scheduler запускается на нескольких инстансах, но тикает только
// лидер (pg advisory lock в main); ключ триггера делает создание
// executions идемпотентным и при потере лидерства посреди тика.
type Scheduler struct {
	ledger     LedgerStore
	executions ExecutionStore
	flows      FlowStore
	customers  CustomerStore
	publisher  Publisher

	lockTimeout time.Duration
	batchSize   int
	logger      *slog.Logger

	// lastCronCheck — граница окна (lastCronCheck, now] для поиска
	// наступивших cron-срабатываний
	lastCronCheck time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Ledger     LedgerStore
	Executions ExecutionStore
	Flows      FlowStore
	Customers  CustomerStore
	Publisher  Publisher

	// LockTimeout — таймаут lock'ов ledger'а (default: domain.LockTimeout).
	LockTimeout time.Duration

	// BatchSize — количество записей за один тик (default: 100).
	BatchSize int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = domain.LockTimeout
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		ledger:        cfg.Ledger,
		executions:    cfg.Executions,
		flows:         cfg.Flows,
		customers:     cfg.Customers,
		publisher:     cfg.Publisher,
		lockTimeout:   lockTimeout,
		batchSize:     batchSize,
		logger:        logger,
		lastCronCheck: time.Now(),
	}
}

// Tick выполняет один тик планировщика.
//
// Ошибки одной фазы не блокируют остальные.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	var errs []error
	if err := s.recoverLocks(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.resumeDueWaits(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if err := s.triggerScheduledFlows(ctx, now); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// recoverLocks снимает протухшие lock'и и переиздаёт задания отправки.
//
// Записи с протухшим lock'ом и так захватываемы (SQL-условие захвата
// учитывает возраст lock'а): сброс плюс re-publish ускоряет подбор,
// не дожидаясь polling fallback'а.
func (s *Scheduler) recoverLocks(ctx context.Context) error {
	jobKeys, err := s.ledger.RecoverExpiredLocks(ctx, s.lockTimeout)
	if err != nil {
		return fmt.Errorf("recover expired locks: %w", err)
	}

	if len(jobKeys) == 0 {
		return nil
	}

	telemetry.RecoveredLocksTotal.Add(float64(len(jobKeys)))
	s.logger.Info("recovered expired locks", "count", len(jobKeys))

	if s.publisher == nil {
		return nil
	}

	for _, jobKey := range jobKeys {
		if err := s.publisher.PublishSendReady(ctx, jobKey); err != nil {
			// Не фатально — запись уже pending, подберёт polling
			s.logger.Warn("failed to republish recovered job",
				"job_key", jobKey,
				"error", err,
			)
		}
	}
	return nil
}

// resumeDueWaits переводит due executions из waiting в active и
// публикует сигнал следующего шага.
//
// Перевод атомарный (FOR UPDATE SKIP LOCKED): конкурирующий тик
// другого инстанса не возобновит execution дважды.
func (s *Scheduler) resumeDueWaits(ctx context.Context, now time.Time) error {
	execs, err := s.executions.ClaimDueResumes(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("claim due resumes: %w", err)
	}

	if len(execs) == 0 {
		return nil
	}

	s.logger.Info("resuming due executions", "count", len(execs))

	if s.publisher == nil {
		// Executions уже active — подберёт polling воркера шагов
		return nil
	}

	for i := range execs {
		exec := &execs[i]
		signal := domain.StepSignal{
			FlowID:      exec.FlowID,
			ExecutionID: exec.ID,
			StepIndex:   exec.CurrentStep,
		}
		if err := s.publisher.PublishFlowStep(ctx, signal); err != nil {
			// Execution уже active — подберёт polling воркера шагов
			s.logger.Warn("failed to publish resume signal",
				"execution_id", exec.ID,
				"error", err,
			)
		}
	}
	return nil
}

// triggerScheduledFlows создаёт executions для flows, чьё
// cron-расписание сработало с прошлого тика.
//
// Ключ триггера содержит время срабатывания: уникальный индекс
// (flow, customer, trigger_key) схлопывает повторное срабатывание
// при рестарте или смене лидера в no-op.
func (s *Scheduler) triggerScheduledFlows(ctx context.Context, now time.Time) error {
	flows, err := s.flows.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled flows: %w", err)
	}

	since := s.lastCronCheck
	s.lastCronCheck = now

	for i := range flows {
		flow := &flows[i]

		due, occurrence, err := DueSince(flow.TriggerCron, since, now)
		if err != nil {
			s.logger.Error("invalid trigger cron, skipping flow",
				"flow_id", flow.ID,
				"cron", flow.TriggerCron,
				"error", err,
			)
			continue
		}
		if !due {
			continue
		}

		if err := s.triggerFlow(ctx, flow, occurrence); err != nil {
			s.logger.Error("failed to trigger scheduled flow",
				"flow_id", flow.ID,
				"error", err,
			)
		}
	}
	return nil
}

// triggerFlow создаёт executions одного срабатывания для всех
// mailable customers, страницами.
func (s *Scheduler) triggerFlow(ctx context.Context, flow *domain.Flow, occurrence time.Time) error {
	triggerKey := fmt.Sprintf("cron:%d", occurrence.Unix())
	var created int

	for offset := 0; ; offset += s.batchSize {
		customers, err := s.customers.ListMailable(ctx, s.batchSize, offset)
		if err != nil {
			return fmt.Errorf("list customers: %w", err)
		}
		if len(customers) == 0 {
			break
		}

		for j := range customers {
			exec := domain.NewExecution(flow.ID, customers[j].ID, triggerKey)
			if err := s.executions.Create(ctx, exec); err != nil {
				if errors.Is(err, repo.ErrAlreadyExists) {
					continue
				}
				return fmt.Errorf("create execution: %w", err)
			}
			created++

			if s.publisher == nil {
				continue
			}

			signal := domain.StepSignal{
				FlowID:      flow.ID,
				ExecutionID: exec.ID,
				StepIndex:   0,
			}
			if err := s.publisher.PublishFlowStep(ctx, signal); err != nil {
				s.logger.Warn("failed to publish trigger signal",
					"execution_id", exec.ID,
					"error", err,
				)
			}
		}

		if len(customers) < s.batchSize {
			break
		}
	}

	s.logger.Info("triggered scheduled flow",
		"flow_id", flow.ID,
		"flow_name", flow.Name,
		"trigger_key", triggerKey,
		"executions_created", created,
	)
	return nil
}
