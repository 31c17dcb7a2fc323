package flowstep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Outreach/internal/domain"
	"github.com/shaiso/Outreach/internal/mq"
	"github.com/shaiso/Outreach/internal/provider"
)

// Default configuration values.
const (
	defaultPollInterval = 15 * time.Second
	defaultStallAge     = time.Minute
	defaultBatchSize    = 50
	defaultPrefetch     = 10
)

// ExecutionStore — операции execution'ов, нужные воркеру.
// Реализуется repo.ExecutionRepo; в тестах — in-memory фейком.
type ExecutionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error)
	Update(ctx context.Context, exec *domain.Execution) error
	ListStalled(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Execution, error)
}

// FlowStore — чтение определений flow и агрегатные счётчики.
type FlowStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error)
	IncrementCompletions(ctx context.Context, id uuid.UUID) error
	IncrementEmailsSent(ctx context.Context, id uuid.UUID) error
}

// CustomerStore — чтение и мутация customer'ов для шагов.
type CustomerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
	AddTag(ctx context.Context, id uuid.UUID, tag string) error
}

// OrderStore — чтение заказов для condition-предикатов.
type OrderStore interface {
	CountByCustomer(ctx context.Context, customerID uuid.UUID) (int, error)
	TotalSpendByCustomer(ctx context.Context, customerID uuid.UUID) (int64, error)
}

// SignalPublisher — публикация сигналов следующего шага.
type SignalPublisher interface {
	PublishFlowStep(ctx context.Context, signal domain.StepSignal) error
}

// Worker — воркер шагов flow.
//
// Worker:
//   - Получает сигналы из очереди flows.steps (event-driven)
//   - Периодически проверяет застрявшие active executions (polling fallback)
//   - Валидирует каждый сигнал против durable-состояния execution'а
//     и выполняет ровно шаг current_step
//
// Сигналы доставляются at-least-once: дубликаты и устаревшие сигналы
// разрешаются в no-op по состоянию execution'а, а не по содержимому
// сообщения.
type Worker struct {
	executions ExecutionStore
	flows      FlowStore
	customers  CustomerStore
	orders     OrderStore
	delivery   provider.Delivery
	storefront provider.Storefront
	publisher  SignalPublisher

	conn     *mq.Connection
	consumer *mq.Consumer

	pollInterval time.Duration
	stallAge     time.Duration
	batchSize    int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Executions ExecutionStore
	Flows      FlowStore
	Customers  CustomerStore
	Orders     OrderStore
	Delivery   provider.Delivery
	Storefront provider.Storefront
	Publisher  SignalPublisher

	// MQ (опционально; без него работает только polling)
	Conn *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 15s)
	StallAge     time.Duration // возраст execution'а для re-publish (default: 1m)
	BatchSize    int           // количество executions за один poll (default: 50)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	stallAge := cfg.StallAge
	if stallAge <= 0 {
		stallAge = defaultStallAge
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		executions:   cfg.Executions,
		flows:        cfg.Flows,
		customers:    cfg.Customers,
		orders:       cfg.Orders,
		delivery:     cfg.Delivery,
		storefront:   cfg.Storefront,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		stallAge:     stallAge,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для flows.steps (если MQ доступен)
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting flow step worker",
		"poll_interval", w.pollInterval,
		"stall_age", w.stallAge,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueFlowSteps),
			Handler:  w.handleFlowStep,
			Prefetch: defaultPrefetch,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("flow step consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("flow step worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping flow step worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()

	w.logger.Info("flow step worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll переиздаёт сигналы для active executions, по которым давно не
// было мутаций. Застрять execution может при потере сообщения или при
// неудачной публикации следующего сигнала — re-publish безопасен,
// дубликат разрешится как no-op.
func (w *Worker) poll(ctx context.Context) {
	if w.publisher == nil {
		return
	}

	execs, err := w.executions.ListStalled(ctx, w.stallAge, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list stalled executions", "error", err)
		return
	}

	if len(execs) == 0 {
		return
	}

	w.logger.Debug("poll found stalled executions", "count", len(execs))

	for i := range execs {
		exec := &execs[i]
		signal := domain.StepSignal{
			FlowID:      exec.FlowID,
			ExecutionID: exec.ID,
			StepIndex:   exec.CurrentStep,
		}
		if err := w.publisher.PublishFlowStep(ctx, signal); err != nil {
			w.logger.Error("failed to republish step signal",
				"execution_id", exec.ID,
				"error", err,
			)
		}
	}
}
