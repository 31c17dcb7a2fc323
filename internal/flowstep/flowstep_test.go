package flowstep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Outreach/internal/domain"
	"github.com/shaiso/Outreach/internal/provider"
	"github.com/shaiso/Outreach/internal/repo"
)

// --- Fakes ---

// fakeExecutions — in-memory реализация ExecutionStore с той же
// семантикой optimistic locking, что и у SQL-версии.
type fakeExecutions struct {
	mu         sync.Mutex
	executions map[uuid.UUID]*domain.Execution

	// conflictNext — следующий Update вернёт ErrStaleVersion
	// (эмуляция конкурентного писателя между чтением и записью)
	conflictNext bool
}

func newFakeExecutions(execs ...*domain.Execution) *fakeExecutions {
	f := &fakeExecutions{executions: make(map[uuid.UUID]*domain.Execution)}
	for _, e := range execs {
		copied := *e
		f.executions[e.ID] = &copied
	}
	return f
}

func (f *fakeExecutions) GetByID(_ context.Context, id uuid.UUID) (*domain.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.executions[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (f *fakeExecutions) Update(_ context.Context, exec *domain.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.executions[exec.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if f.conflictNext {
		f.conflictNext = false
		return repo.ErrStaleVersion
	}
	if stored.Version != exec.Version {
		return repo.ErrStaleVersion
	}
	exec.Version++
	copied := *exec
	f.executions[exec.ID] = &copied
	return nil
}

func (f *fakeExecutions) ListStalled(_ context.Context, _ time.Duration, limit int) ([]domain.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Execution
	for _, e := range f.executions {
		if e.Status == domain.ExecutionStatusActive {
			out = append(out, *e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeExecutions) get(id uuid.UUID) domain.Execution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.executions[id]
}

// fakeFlows — in-memory реализация FlowStore.
type fakeFlows struct {
	mu          sync.Mutex
	flows       map[uuid.UUID]*domain.Flow
	completions int
	emailsSent  int
}

func newFakeFlows(flows ...*domain.Flow) *fakeFlows {
	f := &fakeFlows{flows: make(map[uuid.UUID]*domain.Flow)}
	for _, fl := range flows {
		f.flows[fl.ID] = fl
	}
	return f
}

func (f *fakeFlows) GetByID(_ context.Context, id uuid.UUID) (*domain.Flow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.flows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return fl, nil
}

func (f *fakeFlows) IncrementCompletions(_ context.Context, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions++
	return nil
}

func (f *fakeFlows) IncrementEmailsSent(_ context.Context, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emailsSent++
	return nil
}

// fakeCustomers — in-memory реализация CustomerStore.
type fakeCustomers struct {
	mu        sync.Mutex
	customers map[uuid.UUID]*domain.Customer
}

func newFakeCustomers(customers ...*domain.Customer) *fakeCustomers {
	f := &fakeCustomers{customers: make(map[uuid.UUID]*domain.Customer)}
	for _, c := range customers {
		f.customers[c.ID] = c
	}
	return f
}

func (f *fakeCustomers) GetByID(_ context.Context, id uuid.UUID) (*domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCustomers) AddTag(_ context.Context, id uuid.UUID, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return repo.ErrNotFound
	}
	for _, t := range c.Tags {
		if t == tag {
			return nil
		}
	}
	c.Tags = append(c.Tags, tag)
	return nil
}

// fakeOrders — фиксированные ответы для предикатов.
type fakeOrders struct {
	count int
	total int64
}

func (f *fakeOrders) CountByCustomer(_ context.Context, _ uuid.UUID) (int, error) {
	return f.count, nil
}

func (f *fakeOrders) TotalSpendByCustomer(_ context.Context, _ uuid.UUID) (int64, error) {
	return f.total, nil
}

// recordingPublisher собирает опубликованные сигналы.
type recordingPublisher struct {
	mu      sync.Mutex
	signals []domain.StepSignal
}

func (p *recordingPublisher) PublishFlowStep(_ context.Context, signal domain.StepSignal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, signal)
	return nil
}

func (p *recordingPublisher) pop() (domain.StepSignal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.signals) == 0 {
		return domain.StepSignal{}, false
	}
	s := p.signals[0]
	p.signals = p.signals[1:]
	return s, true
}

// countingDelivery считает отправки и может эмулировать ошибку.
type countingDelivery struct {
	mu      sync.Mutex
	sent    []provider.OutboundMessage
	sendErr error
}

func (d *countingDelivery) Send(_ context.Context, msg provider.OutboundMessage) (provider.Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return provider.Receipt{}, d.sendErr
	}
	d.sent = append(d.sent, msg)
	return provider.Receipt{ExternalID: "ext-1"}, nil
}

func (d *countingDelivery) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

// failingStorefront всегда отдаёт ошибку.
type failingStorefront struct{ calls int }

func (s *failingStorefront) TagCustomer(_ context.Context, _, _ string) error {
	s.calls++
	return provider.ErrUnavailable
}

// --- Helpers ---

type fixture struct {
	worker     *Worker
	executions *fakeExecutions
	flows      *fakeFlows
	customers  *fakeCustomers
	orders     *fakeOrders
	delivery   *countingDelivery
	publisher  *recordingPublisher
	exec       *domain.Execution
	flow       *domain.Flow
	customer   *domain.Customer
}

func newFixture(t *testing.T, steps []domain.Step) *fixture {
	t.Helper()

	flow := &domain.Flow{
		ID:       uuid.New(),
		Name:     "welcome-series",
		IsActive: true,
		Steps:    steps,
	}
	customer := &domain.Customer{
		ID:         uuid.New(),
		Email:      "user@example.com",
		ExternalID: "shop-42",
	}
	exec := domain.NewExecution(flow.ID, customer.ID, "signup")

	fx := &fixture{
		executions: newFakeExecutions(exec),
		flows:      newFakeFlows(flow),
		customers:  newFakeCustomers(customer),
		orders:     &fakeOrders{},
		delivery:   &countingDelivery{},
		publisher:  &recordingPublisher{},
		exec:       exec,
		flow:       flow,
		customer:   customer,
	}
	fx.worker = New(Config{
		Executions: fx.executions,
		Flows:      fx.flows,
		Customers:  fx.customers,
		Orders:     fx.orders,
		Delivery:   fx.delivery,
		Storefront: &provider.LogStorefront{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
		Publisher:  fx.publisher,
	})
	return fx
}

func (fx *fixture) signal(stepIndex int) domain.StepSignal {
	return domain.StepSignal{
		FlowID:      fx.flow.ID,
		ExecutionID: fx.exec.ID,
		StepIndex:   stepIndex,
	}
}

// drain обрабатывает сигналы из publisher'а до опустошения очереди.
func (fx *fixture) drain(t *testing.T) {
	t.Helper()
	for {
		s, ok := fx.publisher.pop()
		if !ok {
			return
		}
		if err := fx.worker.HandleSignal(context.Background(), s); err != nil {
			t.Fatalf("drain signal %+v: %v", s, err)
		}
	}
}

func emailStep(subject string) domain.Step {
	return domain.Step{
		Type:      domain.StepTypeSendEmail,
		SendEmail: &domain.SendEmailConfig{Subject: subject, TemplateID: "tpl-1"},
	}
}

func waitStep(minutes int) domain.Step {
	return domain.Step{Type: domain.StepTypeWait, Wait: &domain.WaitConfig{Minutes: minutes}}
}

// --- Signal Handling Tests ---

func TestHandleSignal_LinearFlowCompletes(t *testing.T) {
	fx := newFixture(t, []domain.Step{
		emailStep("Welcome"),
		{Type: domain.StepTypeAddTag, AddTag: &domain.AddTagConfig{Tag: "welcomed"}},
	})

	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("step 0: %v", err)
	}
	fx.drain(t)

	got := fx.executions.get(fx.exec.ID)
	if got.Status != domain.ExecutionStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if !got.HasCompleted(0) || !got.HasCompleted(1) {
		t.Errorf("completed steps = %v, want [0 1]", got.CompletedSteps)
	}
	if fx.delivery.count() != 1 {
		t.Errorf("emails sent = %d, want 1", fx.delivery.count())
	}
	if fx.flows.completions != 1 {
		t.Errorf("completions = %d, want 1", fx.flows.completions)
	}
	if c, _ := fx.customers.GetByID(context.Background(), fx.customer.ID); !c.HasTag("welcomed") {
		t.Error("tag not added")
	}
}

// Flow с wait посередине: до паузы шаги выполняются, на wait execution
// паркуется с resume_at и не держит поток; после возобновления (которое
// публикует scheduler) хвост выполняется до конца.
func TestHandleSignal_WaitParksAndResumes(t *testing.T) {
	fx := newFixture(t, []domain.Step{
		emailStep("Day 0"),
		waitStep(3 * 24 * 60),
		emailStep("Day 3"),
	})

	before := time.Now()
	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("step 0: %v", err)
	}
	fx.drain(t)

	got := fx.executions.get(fx.exec.ID)
	if got.Status != domain.ExecutionStatusWaiting {
		t.Fatalf("status = %s, want waiting", got.Status)
	}
	if got.CurrentStep != 2 {
		t.Errorf("current step = %d, want 2", got.CurrentStep)
	}
	if got.ResumeAt == nil {
		t.Fatal("resume_at not set")
	}
	wantResume := before.Add(3 * 24 * time.Hour)
	if got.ResumeAt.Before(wantResume) || got.ResumeAt.After(wantResume.Add(time.Minute)) {
		t.Errorf("resume_at = %v, want ~%v", got.ResumeAt, wantResume)
	}
	if fx.delivery.count() != 1 {
		t.Fatalf("emails before resume = %d, want 1", fx.delivery.count())
	}

	// Дубликат сигнала во время паузы — no-op
	if err := fx.worker.HandleSignal(context.Background(), fx.signal(1)); err != nil {
		t.Fatalf("duplicate during wait: %v", err)
	}
	if fx.delivery.count() != 1 {
		t.Error("duplicate signal executed during wait")
	}

	// Scheduler переводит due execution в active и публикует сигнал
	resumed := fx.executions.get(fx.exec.ID)
	resumed.Advance(resumed.CurrentStep)
	if err := fx.executions.Update(context.Background(), &resumed); err != nil {
		t.Fatalf("resume update: %v", err)
	}
	if err := fx.worker.HandleSignal(context.Background(), fx.signal(2)); err != nil {
		t.Fatalf("step 2: %v", err)
	}

	got = fx.executions.get(fx.exec.ID)
	if got.Status != domain.ExecutionStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if fx.delivery.count() != 2 {
		t.Errorf("emails total = %d, want 2", fx.delivery.count())
	}
}

func TestHandleSignal_DuplicateRedeliveryIsNoop(t *testing.T) {
	fx := newFixture(t, []domain.Step{
		emailStep("Welcome"),
		waitStep(60),
	})

	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("step 0: %v", err)
	}
	after := fx.executions.get(fx.exec.ID)

	// Повторная доставка того же сигнала
	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	got := fx.executions.get(fx.exec.ID)
	if fx.delivery.count() != 1 {
		t.Errorf("emails = %d, want 1 (duplicate executed)", fx.delivery.count())
	}
	if got.Version != after.Version {
		t.Errorf("version changed on duplicate: %d -> %d", after.Version, got.Version)
	}
}

func TestHandleSignal_MalformedDropped(t *testing.T) {
	fx := newFixture(t, []domain.Step{emailStep("Welcome")})

	bad := domain.StepSignal{ExecutionID: fx.exec.ID, StepIndex: -1}
	if err := fx.worker.HandleSignal(context.Background(), bad); err != nil {
		t.Fatalf("malformed signal must be dropped, got: %v", err)
	}
	if fx.delivery.count() != 0 {
		t.Error("malformed signal executed a step")
	}
}

func TestHandleSignal_ExecutionGoneDropped(t *testing.T) {
	fx := newFixture(t, []domain.Step{emailStep("Welcome")})

	gone := domain.StepSignal{FlowID: fx.flow.ID, ExecutionID: uuid.New(), StepIndex: 0}
	if err := fx.worker.HandleSignal(context.Background(), gone); err != nil {
		t.Fatalf("signal for missing execution must be dropped, got: %v", err)
	}
}

// Отмена кооперативная: сигнал для cancelled execution отбрасывается.
func TestHandleSignal_CancelledDropped(t *testing.T) {
	fx := newFixture(t, []domain.Step{emailStep("Welcome")})

	cancelled := fx.executions.get(fx.exec.ID)
	cancelled.MarkCancelled()
	if err := fx.executions.Update(context.Background(), &cancelled); err != nil {
		t.Fatalf("cancel update: %v", err)
	}

	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("signal for cancelled execution: %v", err)
	}
	if fx.delivery.count() != 0 {
		t.Error("cancelled execution ran a step")
	}
	if got := fx.executions.get(fx.exec.ID); got.Status != domain.ExecutionStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestHandleSignal_FlowGoneFailsExecution(t *testing.T) {
	fx := newFixture(t, []domain.Step{emailStep("Welcome")})
	delete(fx.flows.flows, fx.flow.ID)

	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("flow gone: %v", err)
	}

	got := fx.executions.get(fx.exec.ID)
	if got.Status != domain.ExecutionStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestHandleSignal_CustomerGoneFailsExecution(t *testing.T) {
	fx := newFixture(t, []domain.Step{emailStep("Welcome")})
	delete(fx.customers.customers, fx.customer.ID)

	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("customer gone: %v", err)
	}
	if got := fx.executions.get(fx.exec.ID); got.Status != domain.ExecutionStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestHandleSignal_StepErrorFailsExecution(t *testing.T) {
	fx := newFixture(t, []domain.Step{emailStep("Welcome")})
	fx.delivery.sendErr = provider.ErrUnavailable

	err := fx.worker.HandleSignal(context.Background(), fx.signal(0))
	if err == nil {
		t.Fatal("expected error from failing step")
	}
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable in chain", err)
	}
	if got := fx.executions.get(fx.exec.ID); got.Status != domain.ExecutionStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestHandleSignal_VersionConflictIsNoop(t *testing.T) {
	fx := newFixture(t, []domain.Step{emailStep("Welcome"), waitStep(60)})

	// Конкурентный писатель успевает между чтением и записью:
	// Update упадёт с ErrStaleVersion
	fx.executions.conflictNext = true

	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("version conflict must drop, got: %v", err)
	}
}

func TestHandleSignal_UnmailableCustomerSkipsEmail(t *testing.T) {
	fx := newFixture(t, []domain.Step{emailStep("Welcome")})
	fx.customers.customers[fx.customer.ID].Unsubscribed = true

	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("step 0: %v", err)
	}

	got := fx.executions.get(fx.exec.ID)
	if got.Status != domain.ExecutionStatusCompleted {
		t.Errorf("status = %s, want completed (skip is not a failure)", got.Status)
	}
	if fx.delivery.count() != 0 {
		t.Error("unsubscribed customer received step email")
	}
}

// --- Condition Tests ---

func conditionFlow(cfg domain.ConditionConfig) []domain.Step {
	return []domain.Step{{Type: domain.StepTypeCondition, Condition: &cfg}}
}

func TestHandleSignal_ConditionThenBranch(t *testing.T) {
	fx := newFixture(t, conditionFlow(domain.ConditionConfig{
		Predicate: domain.PredicateHasPurchased,
		Then: []domain.Step{
			{Type: domain.StepTypeAddTag, AddTag: &domain.AddTagConfig{Tag: "buyer"}},
		},
		Else: []domain.Step{
			{Type: domain.StepTypeAddTag, AddTag: &domain.AddTagConfig{Tag: "prospect"}},
		},
	}))
	fx.orders.count = 2

	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("condition step: %v", err)
	}

	c, _ := fx.customers.GetByID(context.Background(), fx.customer.ID)
	if !c.HasTag("buyer") || c.HasTag("prospect") {
		t.Errorf("tags = %v, want [buyer]", c.Tags)
	}
}

func TestHandleSignal_ConditionElseBranch(t *testing.T) {
	fx := newFixture(t, conditionFlow(domain.ConditionConfig{
		Predicate: domain.PredicateTotalSpendAtLeast,
		Amount:    10000,
		Then:      []domain.Step{emailStep("VIP offer")},
	}))
	fx.orders.total = 500

	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("condition step: %v", err)
	}

	// Else пуст — валидный no-op, execution завершён
	if fx.delivery.count() != 0 {
		t.Error("then branch ran despite false predicate")
	}
	if got := fx.executions.get(fx.exec.ID); got.Status != domain.ExecutionStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestEvalPredicate_HasTag(t *testing.T) {
	fx := newFixture(t, nil)
	fx.customer.Tags = []string{"vip"}

	matched, err := fx.worker.evalPredicate(context.Background(), fx.customer, &domain.ConditionConfig{
		Predicate: domain.PredicateHasTag,
		Tag:       "vip",
	})
	if err != nil {
		t.Fatalf("evalPredicate: %v", err)
	}
	if !matched {
		t.Error("has_tag did not match existing tag")
	}
}

func TestEvalPredicate_Unknown(t *testing.T) {
	fx := newFixture(t, nil)
	if _, err := fx.worker.evalPredicate(context.Background(), fx.customer, &domain.ConditionConfig{
		Predicate: "is_lucky",
	}); err == nil {
		t.Fatal("expected error for unknown predicate")
	}
}

// --- Discount Tests ---

func TestDiscountCodeDeterministic(t *testing.T) {
	id := uuid.New()
	a := DiscountCode("WELCOME", id)
	b := DiscountCode("WELCOME", id)
	if a != b {
		t.Errorf("codes differ for same inputs: %q vs %q", a, b)
	}
	if DiscountCode("WELCOME", uuid.New()) == a {
		t.Error("codes collide for different customers")
	}
}

func TestHandleSignal_CreateDiscountStoresCode(t *testing.T) {
	fx := newFixture(t, []domain.Step{
		{Type: domain.StepTypeCreateDiscount, CreateDiscount: &domain.CreateDiscountConfig{Prefix: "COMEBACK", Percent: 10}},
	})

	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("discount step: %v", err)
	}

	got := fx.executions.get(fx.exec.ID)
	want := DiscountCode("COMEBACK", fx.customer.ID)
	if got.Context.DiscountCode != want {
		t.Errorf("discount code = %q, want %q", got.Context.DiscountCode, want)
	}
}

// --- Storefront Tests ---

// Ошибка зеркалирования тега в storefront не проваливает шаг.
func TestStepAddTag_StorefrontFailureIsBestEffort(t *testing.T) {
	fx := newFixture(t, []domain.Step{
		{Type: domain.StepTypeAddTag, AddTag: &domain.AddTagConfig{Tag: "loyal"}},
	})
	sf := &failingStorefront{}
	fx.worker.storefront = sf

	if err := fx.worker.HandleSignal(context.Background(), fx.signal(0)); err != nil {
		t.Fatalf("add_tag step: %v", err)
	}
	if sf.calls != 1 {
		t.Errorf("storefront calls = %d, want 1", sf.calls)
	}
	c, _ := fx.customers.GetByID(context.Background(), fx.customer.ID)
	if !c.HasTag("loyal") {
		t.Error("local tag lost after storefront failure")
	}
	if got := fx.executions.get(fx.exec.ID); got.Status != domain.ExecutionStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}
