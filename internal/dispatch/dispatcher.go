package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/shaiso/Outreach/internal/domain"
	"github.com/shaiso/Outreach/internal/mq"
	"github.com/shaiso/Outreach/internal/provider"
)

// Default configuration values.
const (
	defaultSlots        = 5
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 5
)

// LedgerStore — операции send ledger'а, нужные dispatcher'у.
// Реализуется repo.LedgerRepo; в тестах — in-memory фейком.
type LedgerStore interface {
	Claim(ctx context.Context, jobKey, workerID string) (*domain.SendLedgerEntry, error)
	MarkSending(ctx context.Context, jobKey, workerID string) error
	MarkSent(ctx context.Context, jobKey, workerID, providerMessageID string) error
	MarkFailed(ctx context.Context, jobKey, workerID, sendErr string) error
	MarkSkipped(ctx context.Context, jobKey, workerID, reason string) error
	ListClaimable(ctx context.Context, limit int) ([]domain.SendLedgerEntry, error)
}

// CampaignStore — операции кампаний, нужные dispatcher'у.
type CampaignStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	IncrementSent(ctx context.Context, id uuid.UUID) error
	IncrementFailed(ctx context.Context, id uuid.UUID) error
}

// CustomerStore — чтение customer'а для skip-правил.
type CustomerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
}

// Dispatcher — пул воркеров отправки кампаний.
//
// Dispatcher:
//   - Получает задания из очереди sends.ready (event-driven)
//   - Периодически проверяет захватываемые записи в БД (polling fallback)
//   - Захватывает запись атомарным условным UPDATE и вызывает delivery provider
//   - Ограничивает параллелизм фиксированным числом слотов
//     (rate limit провайдера)
//
// Несколько экземпляров могут работать с одной очередью: захват в
// ledger'е гарантирует, что запись выигрывает ровно один воркер.
// Упавший экземпляр не требует специального восстановления — его
// брошенные lock'и протухают и записи захватываются заново.
type Dispatcher struct {
	ledger    LedgerStore
	campaigns CampaignStore
	customers CustomerStore
	delivery  provider.Delivery

	conn     *mq.Connection
	consumer *mq.Consumer

	workerID string
	slots    *semaphore.Weighted

	pollInterval time.Duration
	batchSize    int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Dispatcher.
type Config struct {
	Ledger    LedgerStore
	Campaigns CampaignStore
	Customers CustomerStore
	Delivery  provider.Delivery

	// MQ (опционально; без него работает только polling)
	Conn *mq.Connection

	// WorkerID — идентификатор экземпляра для lock'ов
	// (default: hostname + случайный суффикс).
	WorkerID string

	// Slots — число параллельных отправок (default: 5).
	Slots int

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество записей за один poll (default: 50)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Dispatcher.
func New(cfg Config) *Dispatcher {
	slots := cfg.Slots
	if slots <= 0 {
		slots = defaultSlots
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	return &Dispatcher{
		ledger:       cfg.Ledger,
		campaigns:    cfg.Campaigns,
		customers:    cfg.Customers,
		delivery:     cfg.Delivery,
		conn:         cfg.Conn,
		workerID:     workerID,
		slots:        semaphore.NewWeighted(int64(slots)),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// defaultWorkerID строит идентификатор экземпляра.
func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "dispatcher"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

// WorkerID возвращает идентификатор экземпляра.
func (d *Dispatcher) WorkerID() string {
	return d.workerID
}

// Start запускает Dispatcher.
//
// Запускает:
//   - Consumer для sends.ready (если MQ доступен)
//   - Polling горутину для fallback
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancelFunc = cancel

	d.logger.Info("starting dispatcher",
		"worker_id", d.workerID,
		"poll_interval", d.pollInterval,
		"batch_size", d.batchSize,
	)

	if d.conn != nil {
		d.consumer = mq.NewConsumer(d.conn, d.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueSendsReady),
			Handler:  d.handleSendReady,
			Prefetch: defaultPrefetch,
		})

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("send consumer error", "error", err)
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pollLoop(ctx)
	}()

	d.logger.Info("dispatcher started")
	return nil
}

// Stop останавливает Dispatcher.
func (d *Dispatcher) Stop() {
	d.stoppedMu.Lock()
	d.stopped = true
	d.stoppedMu.Unlock()

	d.logger.Info("stopping dispatcher...")

	if d.cancelFunc != nil {
		d.cancelFunc()
	}

	if d.consumer != nil {
		d.consumer.Stop()
	}

	d.wg.Wait()

	d.logger.Info("dispatcher stopped")
}

// IsStopped проверяет, остановлен ли Dispatcher.
func (d *Dispatcher) IsStopped() bool {
	d.stoppedMu.RLock()
	defer d.stoppedMu.RUnlock()
	return d.stopped
}

// pollLoop — цикл polling для fallback.
func (d *Dispatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем записи,
	// созданные пока dispatcher был выключен)
	d.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (d *Dispatcher) poll(ctx context.Context) {
	entries, err := d.ledger.ListClaimable(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to list claimable entries", "error", err)
		return
	}

	if len(entries) == 0 {
		return
	}

	d.logger.Debug("poll found claimable entries", "count", len(entries))

	for i := range entries {
		entry := &entries[i]

		if err := d.withSlot(ctx, entry.JobKey); err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("failed to process entry from poll",
				"job_key", entry.JobKey,
				"error", err,
			)
		}
	}
}

// withSlot выполняет processJob под семафором слотов.
func (d *Dispatcher) withSlot(ctx context.Context, jobKey string) error {
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.slots.Release(1)

	return d.processJob(ctx, jobKey)
}
