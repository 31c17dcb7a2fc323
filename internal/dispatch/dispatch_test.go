package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Outreach/internal/domain"
	"github.com/shaiso/Outreach/internal/provider"
	"github.com/shaiso/Outreach/internal/repo"
)

// --- Fakes ---

// fakeLedger — in-memory реализация LedgerStore с той же семантикой
// захвата, что и у SQL-версии: условный переход под мьютексом.
type fakeLedger struct {
	mu      sync.Mutex
	entries map[string]*domain.SendLedgerEntry
}

func newFakeLedger(entries ...*domain.SendLedgerEntry) *fakeLedger {
	f := &fakeLedger{entries: make(map[string]*domain.SendLedgerEntry)}
	for _, e := range entries {
		f.entries[e.JobKey] = e
	}
	return f
}

func (f *fakeLedger) Claim(_ context.Context, jobKey, workerID string) (*domain.SendLedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[jobKey]
	if !ok {
		return nil, nil
	}
	if !e.Claimable(time.Now()) {
		return nil, nil
	}

	now := time.Now()
	e.Status = domain.SendStatusProcessing
	e.LockedBy = &workerID
	e.LockedAt = &now
	e.Attempts++
	e.Version++

	copied := *e
	return &copied, nil
}

func (f *fakeLedger) MarkSending(_ context.Context, jobKey, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[jobKey]
	if !ok || e.LockedBy == nil || *e.LockedBy != workerID {
		return nil
	}
	e.Status = domain.SendStatusSending
	e.Version++
	return nil
}

func (f *fakeLedger) MarkSent(_ context.Context, jobKey, workerID, providerMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[jobKey]
	if !ok || e.LockedBy == nil || *e.LockedBy != workerID {
		// Потерянное владение — молчаливый no-op, как в SQL-версии
		return nil
	}
	now := time.Now()
	e.Status = domain.SendStatusSent
	e.SentAt = &now
	e.ProviderMessageID = providerMessageID
	e.LockedBy = nil
	e.LockedAt = nil
	e.Version++
	return nil
}

func (f *fakeLedger) MarkFailed(_ context.Context, jobKey, workerID, sendErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[jobKey]
	if !ok || e.LockedBy == nil || *e.LockedBy != workerID {
		return nil
	}
	if e.Attempts >= e.MaxAttempts {
		e.Status = domain.SendStatusFailed
	} else {
		e.Status = domain.SendStatusPending
	}
	e.LastError = sendErr
	e.LockedBy = nil
	e.LockedAt = nil
	e.Version++
	return nil
}

func (f *fakeLedger) MarkSkipped(_ context.Context, jobKey, workerID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[jobKey]
	if !ok || e.LockedBy == nil || *e.LockedBy != workerID {
		return nil
	}
	e.Status = domain.SendStatusSkipped
	e.LastError = reason
	e.LockedBy = nil
	e.LockedAt = nil
	e.Version++
	return nil
}

func (f *fakeLedger) ListClaimable(_ context.Context, limit int) ([]domain.SendLedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.SendLedgerEntry
	now := time.Now()
	for _, e := range f.entries {
		if e.Claimable(now) {
			out = append(out, *e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeLedger) get(jobKey string) domain.SendLedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.entries[jobKey]
}

// fakeCampaigns — in-memory реализация CampaignStore.
type fakeCampaigns struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*domain.Campaign
}

func newFakeCampaigns(campaigns ...*domain.Campaign) *fakeCampaigns {
	f := &fakeCampaigns{campaigns: make(map[uuid.UUID]*domain.Campaign)}
	for _, c := range campaigns {
		f.campaigns[c.ID] = c
	}
	return f
}

func (f *fakeCampaigns) GetByID(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCampaigns) IncrementSent(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[id]; ok {
		c.SentCount++
	}
	return nil
}

func (f *fakeCampaigns) IncrementFailed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[id]; ok {
		c.FailedCount++
	}
	return nil
}

// fakeCustomers — in-memory реализация CustomerStore.
type fakeCustomers struct {
	customers map[uuid.UUID]*domain.Customer
}

func (f *fakeCustomers) GetByID(_ context.Context, id uuid.UUID) (*domain.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return c, nil
}

// countingDelivery считает вызовы Send и может эмулировать ошибку.
type countingDelivery struct {
	sends   atomic.Int64
	sendErr error
}

func (d *countingDelivery) Send(_ context.Context, _ provider.OutboundMessage) (provider.Receipt, error) {
	d.sends.Add(1)
	if d.sendErr != nil {
		return provider.Receipt{}, d.sendErr
	}
	return provider.Receipt{ExternalID: "msg-ext-1"}, nil
}

// --- Helpers ---

func testSetup(t *testing.T) (*domain.Campaign, *domain.SendLedgerEntry) {
	t.Helper()
	campaign := &domain.Campaign{
		ID:         uuid.New(),
		Name:       "summer-sale",
		Subject:    "Summer Sale",
		TemplateID: "tpl-summer",
	}
	entry := domain.NewLedgerEntry(campaign.ID, "user@example.com", nil)
	return campaign, entry
}

func newTestDispatcher(ledger LedgerStore, campaigns CampaignStore, customers CustomerStore, delivery provider.Delivery) *Dispatcher {
	return New(Config{
		Ledger:    ledger,
		Campaigns: campaigns,
		Customers: customers,
		Delivery:  delivery,
		WorkerID:  "test-worker",
	})
}

// --- Dispatch Tests ---

func TestProcessJob_Success(t *testing.T) {
	campaign, entry := testSetup(t)
	ledger := newFakeLedger(entry)
	campaigns := newFakeCampaigns(campaign)
	delivery := &countingDelivery{}

	d := newTestDispatcher(ledger, campaigns, nil, delivery)

	if err := d.processJob(context.Background(), entry.JobKey); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	got := ledger.get(entry.JobKey)
	if got.Status != domain.SendStatusSent {
		t.Errorf("status = %s, want %s", got.Status, domain.SendStatusSent)
	}
	if got.ProviderMessageID != "msg-ext-1" {
		t.Errorf("provider message id = %q", got.ProviderMessageID)
	}
	if got.LockedBy != nil {
		t.Error("lock not released after send")
	}
	if delivery.sends.Load() != 1 {
		t.Errorf("provider called %d times, want 1", delivery.sends.Load())
	}

	c, _ := campaigns.GetByID(context.Background(), campaign.ID)
	if c.SentCount != 1 {
		t.Errorf("sent_count = %d, want 1", c.SentCount)
	}
}

func TestProcessJob_ClaimLost(t *testing.T) {
	campaign, entry := testSetup(t)
	other := "other-worker"
	now := time.Now()
	entry.Status = domain.SendStatusProcessing
	entry.LockedBy = &other
	entry.LockedAt = &now

	ledger := newFakeLedger(entry)
	delivery := &countingDelivery{}
	d := newTestDispatcher(ledger, newFakeCampaigns(campaign), nil, delivery)

	if err := d.processJob(context.Background(), entry.JobKey); err != nil {
		t.Fatalf("lost claim must not be an error, got: %v", err)
	}
	if delivery.sends.Load() != 0 {
		t.Error("provider called despite lost claim")
	}
}

func TestProcessJob_TerminalEntrySkipped(t *testing.T) {
	campaign, entry := testSetup(t)
	entry.Status = domain.SendStatusSent

	ledger := newFakeLedger(entry)
	delivery := &countingDelivery{}
	d := newTestDispatcher(ledger, newFakeCampaigns(campaign), nil, delivery)

	// Повторная доставка сообщения для уже отправленной записи —
	// штатный случай at-least-once очереди
	if err := d.processJob(context.Background(), entry.JobKey); err != nil {
		t.Fatalf("processJob: %v", err)
	}
	if delivery.sends.Load() != 0 {
		t.Error("terminal entry was sent again")
	}
}

func TestProcessJob_ProviderFailureRequeues(t *testing.T) {
	campaign, entry := testSetup(t)
	ledger := newFakeLedger(entry)
	delivery := &countingDelivery{sendErr: provider.ErrUnavailable}
	d := newTestDispatcher(ledger, newFakeCampaigns(campaign), nil, delivery)

	err := d.processJob(context.Background(), entry.JobKey)
	if err == nil {
		t.Fatal("expected error for retryable failure")
	}

	got := ledger.get(entry.JobKey)
	if got.Status != domain.SendStatusPending {
		t.Errorf("status = %s, want %s", got.Status, domain.SendStatusPending)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.LastError == "" {
		t.Error("last error not recorded")
	}
	if got.LockedBy != nil {
		t.Error("lock not released after failure")
	}
}

func TestProcessJob_AttemptsExhausted(t *testing.T) {
	campaign, entry := testSetup(t)
	entry.Status = domain.SendStatusFailed
	entry.Attempts = domain.DefaultMaxAttempts - 1

	ledger := newFakeLedger(entry)
	campaigns := newFakeCampaigns(campaign)
	delivery := &countingDelivery{sendErr: errors.New("mailbox full")}
	d := newTestDispatcher(ledger, campaigns, nil, delivery)

	// Последняя попытка проваливается — запись терминальна,
	// сообщение подтверждается (nil)
	if err := d.processJob(context.Background(), entry.JobKey); err != nil {
		t.Fatalf("exhausted entry must ack, got: %v", err)
	}

	got := ledger.get(entry.JobKey)
	if got.Status != domain.SendStatusFailed {
		t.Errorf("status = %s, want %s", got.Status, domain.SendStatusFailed)
	}
	if got.Attempts != domain.DefaultMaxAttempts {
		t.Errorf("attempts = %d, want %d", got.Attempts, domain.DefaultMaxAttempts)
	}

	c, _ := campaigns.GetByID(context.Background(), campaign.ID)
	if c.FailedCount != 1 {
		t.Errorf("failed_count = %d, want 1", c.FailedCount)
	}

	// Захват больше невозможен
	if claimed, _ := ledger.Claim(context.Background(), entry.JobKey, "w2"); claimed != nil {
		t.Error("terminal failed entry was claimed again")
	}
}

func TestProcessJob_SkipsUnsubscribed(t *testing.T) {
	campaign, _ := testSetup(t)
	customerID := uuid.New()
	entry := domain.NewLedgerEntry(campaign.ID, "user@example.com", &customerID)

	ledger := newFakeLedger(entry)
	customers := &fakeCustomers{customers: map[uuid.UUID]*domain.Customer{
		customerID: {ID: customerID, Email: "user@example.com", Unsubscribed: true},
	}}
	delivery := &countingDelivery{}
	d := newTestDispatcher(ledger, newFakeCampaigns(campaign), customers, delivery)

	if err := d.processJob(context.Background(), entry.JobKey); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	got := ledger.get(entry.JobKey)
	if got.Status != domain.SendStatusSkipped {
		t.Errorf("status = %s, want %s", got.Status, domain.SendStatusSkipped)
	}
	if delivery.sends.Load() != 0 {
		t.Error("unsubscribed customer received mail")
	}
}

func TestProcessJob_CampaignGone(t *testing.T) {
	_, entry := testSetup(t)
	ledger := newFakeLedger(entry)
	delivery := &countingDelivery{}
	d := newTestDispatcher(ledger, newFakeCampaigns(), nil, delivery)

	if err := d.processJob(context.Background(), entry.JobKey); err != nil {
		t.Fatalf("processJob: %v", err)
	}
	if got := ledger.get(entry.JobKey); got.Status != domain.SendStatusSkipped {
		t.Errorf("status = %s, want %s", got.Status, domain.SendStatusSkipped)
	}
}

// Одна запись, много воркеров: письмо уходит ровно один раз.
func TestProcessJob_ConcurrentClaimSingleSend(t *testing.T) {
	campaign, entry := testSetup(t)
	ledger := newFakeLedger(entry)
	campaigns := newFakeCampaigns(campaign)
	delivery := &countingDelivery{}

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		d := New(Config{
			Ledger:    ledger,
			Campaigns: campaigns,
			Delivery:  delivery,
			WorkerID:  uuid.New().String(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.processJob(context.Background(), entry.JobKey)
		}()
	}
	wg.Wait()

	if delivery.sends.Load() != 1 {
		t.Fatalf("provider called %d times, want exactly 1", delivery.sends.Load())
	}
	if got := ledger.get(entry.JobKey); got.Status != domain.SendStatusSent {
		t.Errorf("status = %s, want %s", got.Status, domain.SendStatusSent)
	}
}

// --- Config Tests ---

func TestNewAppliesDefaults(t *testing.T) {
	d := New(Config{})

	if d.workerID == "" {
		t.Error("worker id not generated")
	}
	if d.pollInterval != defaultPollInterval {
		t.Errorf("poll interval = %v, want %v", d.pollInterval, defaultPollInterval)
	}
	if d.batchSize != defaultBatchSize {
		t.Errorf("batch size = %d, want %d", d.batchSize, defaultBatchSize)
	}
	if !d.slots.TryAcquire(defaultSlots) {
		t.Errorf("expected %d slots available", defaultSlots)
	}
	if d.slots.TryAcquire(1) {
		t.Error("semaphore larger than configured slots")
	}
}
