package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Outreach/internal/domain"
	"github.com/shaiso/Outreach/internal/repo"
)

// --- Fakes ---

type fakeLedger struct {
	recovered  []string
	gotTimeout time.Duration
}

func (f *fakeLedger) RecoverExpiredLocks(_ context.Context, timeout time.Duration) ([]string, error) {
	f.gotTimeout = timeout
	return f.recovered, nil
}

type fakeExecutions struct {
	due      []domain.Execution
	created  []*domain.Execution
	existing map[string]bool // trigger keys, по которым Create отдаёт ErrAlreadyExists
}

func (f *fakeExecutions) ClaimDueResumes(_ context.Context, _ time.Time, _ int) ([]domain.Execution, error) {
	due := f.due
	f.due = nil
	return due, nil
}

func (f *fakeExecutions) Create(_ context.Context, exec *domain.Execution) error {
	if f.existing[exec.TriggerKey+":"+exec.CustomerID.String()] {
		return repo.ErrAlreadyExists
	}
	f.created = append(f.created, exec)
	return nil
}

type fakeFlows struct {
	scheduled []domain.Flow
}

func (f *fakeFlows) ListScheduled(_ context.Context) ([]domain.Flow, error) {
	return f.scheduled, nil
}

type fakeCustomers struct {
	customers []domain.Customer
}

func (f *fakeCustomers) ListMailable(_ context.Context, limit, offset int) ([]domain.Customer, error) {
	if offset >= len(f.customers) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.customers) {
		end = len(f.customers)
	}
	return f.customers[offset:end], nil
}

type recordingPublisher struct {
	sendJobs []string
	signals  []domain.StepSignal
}

func (p *recordingPublisher) PublishSendReady(_ context.Context, jobKey string) error {
	p.sendJobs = append(p.sendJobs, jobKey)
	return nil
}

func (p *recordingPublisher) PublishFlowStep(_ context.Context, signal domain.StepSignal) error {
	p.signals = append(p.signals, signal)
	return nil
}

func newTestScheduler(ledger *fakeLedger, execs *fakeExecutions, flows *fakeFlows, customers *fakeCustomers, pub *recordingPublisher) *Scheduler {
	return New(Config{
		Ledger:     ledger,
		Executions: execs,
		Flows:      flows,
		Customers:  customers,
		Publisher:  pub,
	})
}

// --- Tick Tests ---

func TestTick_RecoversLocksAndRepublishes(t *testing.T) {
	campaignID := uuid.New()
	keys := []string{
		domain.JobKey(campaignID, "a@example.com"),
		domain.JobKey(campaignID, "b@example.com"),
	}
	ledger := &fakeLedger{recovered: keys}
	pub := &recordingPublisher{}

	s := newTestScheduler(ledger, &fakeExecutions{}, &fakeFlows{}, &fakeCustomers{}, pub)
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if ledger.gotTimeout != domain.LockTimeout {
		t.Errorf("timeout = %v, want %v", ledger.gotTimeout, domain.LockTimeout)
	}
	if len(pub.sendJobs) != 2 {
		t.Fatalf("republished %d jobs, want 2", len(pub.sendJobs))
	}
	if pub.sendJobs[0] != keys[0] || pub.sendJobs[1] != keys[1] {
		t.Errorf("republished keys = %v, want %v", pub.sendJobs, keys)
	}
}

func TestTick_ResumesDueWaits(t *testing.T) {
	exec := domain.NewExecution(uuid.New(), uuid.New(), "signup")
	exec.CurrentStep = 2
	execs := &fakeExecutions{due: []domain.Execution{*exec}}
	pub := &recordingPublisher{}

	s := newTestScheduler(&fakeLedger{}, execs, &fakeFlows{}, &fakeCustomers{}, pub)
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(pub.signals) != 1 {
		t.Fatalf("published %d signals, want 1", len(pub.signals))
	}
	got := pub.signals[0]
	if got.ExecutionID != exec.ID || got.FlowID != exec.FlowID || got.StepIndex != 2 {
		t.Errorf("signal = %+v, want step 2 of %s", got, exec.ID)
	}
}

func TestTick_EmptyIsQuiet(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestScheduler(&fakeLedger{}, &fakeExecutions{}, &fakeFlows{}, &fakeCustomers{}, pub)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(pub.sendJobs) != 0 || len(pub.signals) != 0 {
		t.Error("empty tick published something")
	}
}

// --- Scheduled Flow Tests ---

func TestTriggerScheduledFlows_CreatesExecutions(t *testing.T) {
	flow := domain.Flow{
		ID:          uuid.New(),
		Name:        "weekly-digest",
		IsActive:    true,
		TriggerCron: "* * * * *",
	}
	customers := &fakeCustomers{customers: []domain.Customer{
		{ID: uuid.New(), Email: "a@example.com"},
		{ID: uuid.New(), Email: "b@example.com"},
	}}
	execs := &fakeExecutions{}
	pub := &recordingPublisher{}

	s := newTestScheduler(&fakeLedger{}, execs, &fakeFlows{scheduled: []domain.Flow{flow}}, customers, pub)
	// Окно, внутри которого поминутный cron гарантированно сработал
	s.lastCronCheck = time.Now().Add(-2 * time.Minute)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(execs.created) != 2 {
		t.Fatalf("created %d executions, want 2", len(execs.created))
	}
	if execs.created[0].TriggerKey != execs.created[1].TriggerKey {
		t.Error("trigger keys differ within one occurrence")
	}
	if len(pub.signals) != 2 {
		t.Fatalf("published %d signals, want 2", len(pub.signals))
	}
	for _, sig := range pub.signals {
		if sig.StepIndex != 0 {
			t.Errorf("trigger signal step = %d, want 0", sig.StepIndex)
		}
	}
}

func TestTriggerScheduledFlows_DuplicateOccurrenceIsNoop(t *testing.T) {
	flow := domain.Flow{ID: uuid.New(), IsActive: true, TriggerCron: "* * * * *"}
	customerID := uuid.New()
	customers := &fakeCustomers{customers: []domain.Customer{{ID: customerID, Email: "a@example.com"}}}
	pub := &recordingPublisher{}

	// Первый прогон вычисляет ключ срабатывания
	first := &fakeExecutions{}
	s := newTestScheduler(&fakeLedger{}, first, &fakeFlows{scheduled: []domain.Flow{flow}}, customers, pub)
	s.lastCronCheck = time.Now().Add(-2 * time.Minute)
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if len(first.created) != 1 {
		t.Fatalf("created %d executions, want 1", len(first.created))
	}
	key := first.created[0].TriggerKey

	// Повтор того же окна (смена лидера): Create отдаёт ErrAlreadyExists
	second := &fakeExecutions{existing: map[string]bool{key + ":" + customerID.String(): true}}
	pub2 := &recordingPublisher{}
	s2 := newTestScheduler(&fakeLedger{}, second, &fakeFlows{scheduled: []domain.Flow{flow}}, customers, pub2)
	s2.lastCronCheck = s.lastCronCheck
	if err := s2.Tick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if len(second.created) != 0 {
		t.Errorf("duplicate occurrence created %d executions", len(second.created))
	}
	if len(pub2.signals) != 0 {
		t.Error("duplicate occurrence published signals")
	}
}

func TestTriggerScheduledFlows_NotDueYet(t *testing.T) {
	flow := domain.Flow{ID: uuid.New(), IsActive: true, TriggerCron: "0 0 1 1 *"}
	execs := &fakeExecutions{}
	customers := &fakeCustomers{customers: []domain.Customer{{ID: uuid.New()}}}

	s := newTestScheduler(&fakeLedger{}, execs, &fakeFlows{scheduled: []domain.Flow{flow}}, customers, &recordingPublisher{})
	s.lastCronCheck = time.Now().Add(-time.Minute)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(execs.created) != 0 {
		t.Error("yearly cron fired inside a one-minute window")
	}
}

// --- Cron Tests ---

func TestValidateCron(t *testing.T) {
	if err := ValidateCron("0 9 * * 1"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := ValidateCron("not a cron"); err == nil {
		t.Error("invalid expression accepted")
	}
}

func TestDueSince(t *testing.T) {
	// Ежедневно в 09:00
	since := time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	due, occurrence, err := DueSince("0 9 * * *", since, now)
	if err != nil {
		t.Fatalf("DueSince: %v", err)
	}
	if !due {
		t.Fatal("expected occurrence inside window")
	}
	want := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	if !occurrence.Equal(want) {
		t.Errorf("occurrence = %v, want %v", occurrence, want)
	}

	// Окно до срабатывания
	due, _, err = DueSince("0 9 * * *", since, since.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("DueSince: %v", err)
	}
	if due {
		t.Error("occurrence reported outside window")
	}
}
