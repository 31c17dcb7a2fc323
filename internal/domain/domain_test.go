package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- Send Ledger Tests ---

func TestJobKey_Deterministic(t *testing.T) {
	campaignID := uuid.New()

	e1 := NewLedgerEntry(campaignID, "User@Example.COM", nil)
	e2 := NewLedgerEntry(campaignID, "  user@example.com ", nil)

	// Нормализация адреса должна давать одинаковый job key
	if e1.JobKey != e2.JobKey {
		t.Errorf("job keys differ: %q vs %q", e1.JobKey, e2.JobKey)
	}
	if e1.Email != "user@example.com" {
		t.Errorf("email not normalized: %q", e1.Email)
	}
}

func TestJobKey_DiffersPerCampaign(t *testing.T) {
	e1 := NewLedgerEntry(uuid.New(), "a@x.com", nil)
	e2 := NewLedgerEntry(uuid.New(), "a@x.com", nil)

	if e1.JobKey == e2.JobKey {
		t.Error("job keys for different campaigns must differ")
	}
}

func TestValidateEmail(t *testing.T) {
	valid := []string{"a@x.com", "User.Name+tag@sub.example.org"}
	for _, email := range valid {
		if err := ValidateEmail(email); err != nil {
			t.Errorf("ValidateEmail(%q): unexpected error %v", email, err)
		}
	}

	invalid := []string{"", "no-at-sign", "@x.com", "a@", "a@nodot"}
	for _, email := range invalid {
		if err := ValidateEmail(email); err == nil {
			t.Errorf("ValidateEmail(%q): expected error", email)
		}
	}
}

func TestSendStatus_IsTerminal(t *testing.T) {
	terminal := []SendStatus{SendStatusSent, SendStatusDelivered, SendStatusFailed, SendStatusBounced, SendStatusSkipped}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	live := []SendStatus{SendStatusPending, SendStatusProcessing, SendStatusSending}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestLedgerEntry_Claimable(t *testing.T) {
	now := time.Now()

	entry := NewLedgerEntry(uuid.New(), "a@x.com", nil)
	if !entry.Claimable(now) {
		t.Error("pending entry should be claimable")
	}

	// Свежий lock — не захватывается
	locked := now.Add(-time.Minute)
	worker := "w1"
	entry.Status = SendStatusProcessing
	entry.LockedBy = &worker
	entry.LockedAt = &locked
	if entry.Claimable(now) {
		t.Error("freshly locked entry should not be claimable")
	}

	// Протухший lock — захватывается
	stale := now.Add(-LockTimeout - time.Second)
	entry.LockedAt = &stale
	if !entry.Claimable(now) {
		t.Error("entry with expired lock should be claimable")
	}

	// failed с оставшимися попытками — захватывается
	entry.Status = SendStatusFailed
	entry.LockedBy = nil
	entry.LockedAt = nil
	entry.Attempts = 1
	if !entry.Claimable(now) {
		t.Error("failed entry with attempts left should be claimable")
	}

	// failed с исчерпанными попытками — нет
	entry.Attempts = entry.MaxAttempts
	if entry.Claimable(now) {
		t.Error("failed entry with exhausted attempts should not be claimable")
	}

	// Терминальные статусы — нет
	entry.Status = SendStatusSent
	if entry.Claimable(now) {
		t.Error("sent entry should not be claimable")
	}
}

// --- Step Tests ---

func TestStep_JSONRoundTrip(t *testing.T) {
	flow := &Flow{
		ID:   uuid.New(),
		Name: "welcome",
		Steps: []Step{
			{Type: StepTypeSendEmail, SendEmail: &SendEmailConfig{Subject: "Hi", TemplateID: "welcome-1"}},
			{Type: StepTypeWait, Wait: &WaitConfig{Minutes: 60}},
			{Type: StepTypeCondition, Condition: &ConditionConfig{
				Predicate: PredicateHasPurchased,
				Then:      []Step{{Type: StepTypeAddTag, AddTag: &AddTagConfig{Tag: "buyer"}}},
			}},
			{Type: StepTypeCreateDiscount, CreateDiscount: &CreateDiscountConfig{Prefix: "WELCOME", Percent: 10}},
		},
	}

	data, err := json.Marshal(flow.Steps)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var restored []Step
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(restored) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(restored))
	}
	if restored[0].Type != StepTypeSendEmail || restored[0].SendEmail == nil {
		t.Error("send_email step lost its config")
	}
	if restored[1].Wait == nil || restored[1].Wait.Minutes != 60 {
		t.Error("wait step lost its minutes")
	}
	if restored[2].Condition == nil || len(restored[2].Condition.Then) != 1 {
		t.Error("condition step lost its then-branch")
	}
	if restored[2].Condition.Then[0].AddTag == nil || restored[2].Condition.Then[0].AddTag.Tag != "buyer" {
		t.Error("nested add_tag lost its tag")
	}
	if restored[3].CreateDiscount == nil || restored[3].CreateDiscount.Prefix != "WELCOME" {
		t.Error("create_discount step lost its prefix")
	}
}

func TestStep_UnmarshalUnknownType(t *testing.T) {
	var step Step
	err := json.Unmarshal([]byte(`{"type":"teleport","config":{}}`), &step)
	if err == nil {
		t.Error("expected error for unknown step type")
	}
}

func TestStep_Validate(t *testing.T) {
	bad := []Step{
		{Type: StepTypeWait, Wait: &WaitConfig{Minutes: 0}},
		{Type: StepTypeAddTag, AddTag: &AddTagConfig{}},
		{Type: StepTypeCondition, Condition: &ConditionConfig{Predicate: "unknown"}},
		// wait внутри ветки condition запрещён
		{Type: StepTypeCondition, Condition: &ConditionConfig{
			Predicate: PredicateHasTag,
			Tag:       "vip",
			Then:      []Step{{Type: StepTypeWait, Wait: &WaitConfig{Minutes: 5}}},
		}},
	}
	for i, s := range bad {
		if err := s.Validate(); err == nil {
			t.Errorf("step %d: expected validation error", i)
		}
	}

	good := Step{Type: StepTypeCondition, Condition: &ConditionConfig{
		Predicate: PredicateTotalSpendAtLeast,
		Amount:    5000,
		// Пустые ветки валидны
	}}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// --- Execution Tests ---

func TestExecution_CompletedStepsMonotonic(t *testing.T) {
	exec := NewExecution(uuid.New(), uuid.New(), "trigger-1")

	exec.RecordCompleted(0)
	exec.RecordCompleted(1)
	exec.RecordCompleted(1) // дубликат — no-op

	if len(exec.CompletedSteps) != 2 {
		t.Errorf("expected 2 completed steps, got %d", len(exec.CompletedSteps))
	}
	if !exec.HasCompleted(0) || !exec.HasCompleted(1) {
		t.Error("steps 0 and 1 should be completed")
	}
	if exec.HasCompleted(2) {
		t.Error("step 2 should not be completed")
	}
}

func TestExecution_Park(t *testing.T) {
	exec := NewExecution(uuid.New(), uuid.New(), "trigger-1")
	resumeAt := time.Now().Add(time.Hour)

	exec.RecordCompleted(0)
	exec.Park(1, resumeAt)

	if exec.Status != ExecutionStatusWaiting {
		t.Errorf("expected waiting, got %s", exec.Status)
	}
	if exec.CurrentStep != 1 {
		t.Errorf("expected current step 1, got %d", exec.CurrentStep)
	}
	if exec.ResumeAt == nil || !exec.ResumeAt.Equal(resumeAt) {
		t.Error("resume_at should be set")
	}

	// Возобновление снимает waiting
	exec.Advance(1)
	if exec.Status != ExecutionStatusActive || exec.ResumeAt != nil {
		t.Error("advance should reactivate and clear resume_at")
	}
}

func TestExecution_Terminal(t *testing.T) {
	exec := NewExecution(uuid.New(), uuid.New(), "trigger-1")

	exec.MarkFailed("boom")
	if !exec.IsFinished() || exec.LastError != "boom" {
		t.Error("failed execution should be finished with error")
	}

	exec = NewExecution(uuid.New(), uuid.New(), "trigger-1")
	exec.MarkCancelled()
	if exec.Status != ExecutionStatusCancelled || !exec.IsFinished() {
		t.Error("cancelled execution should be terminal")
	}
}

func TestStepSignal_Valid(t *testing.T) {
	ok := StepSignal{FlowID: uuid.New(), ExecutionID: uuid.New(), StepIndex: 0}
	if !ok.Valid() {
		t.Error("complete signal should be valid")
	}

	bad := []StepSignal{
		{ExecutionID: uuid.New(), StepIndex: 0},
		{FlowID: uuid.New(), StepIndex: 0},
		{FlowID: uuid.New(), ExecutionID: uuid.New(), StepIndex: -1},
	}
	for i, s := range bad {
		if s.Valid() {
			t.Errorf("signal %d should be invalid", i)
		}
	}
}
