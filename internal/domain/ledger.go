package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Значения по умолчанию для send ledger.
const (
	// DefaultMaxAttempts — максимальное количество попыток отправки.
	DefaultMaxAttempts = 3

	// LockTimeout — таймаут, после которого lock считается брошенным
	// (воркер умер, не завершив обработку).
	LockTimeout = 5 * time.Minute
)

// SendLedgerEntry — durable запись о состоянии отправки для одной пары
// (campaign, recipient).
//
// Ровно одна живая запись на пару — уникальный констрейнт
// (campaign_id, email) в БД. Это второй рубеж защиты от дублей,
// независимый от логики захвата.
type SendLedgerEntry struct {
	// JobKey — детерминированный ключ задачи, primary key.
	// Выводится из campaign_id и нормализованного адреса,
	// поэтому повторная регистрация даёт тот же ключ.
	JobKey string `json:"job_key"`

	// CampaignID — ссылка на кампанию.
	CampaignID uuid.UUID `json:"campaign_id"`

	// Email — нормализованный адрес получателя.
	Email string `json:"email"`

	// CustomerID — ссылка на customer (опционально).
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`

	// Status — текущий статус отправки.
	Status SendStatus `json:"status"`

	// LockedBy — идентификатор воркера, держащего lock.
	// Не NULL тогда и только тогда, когда Status ∈ {processing, sending}.
	LockedBy *string `json:"locked_by,omitempty"`

	// LockedAt — время установки lock'а.
	LockedAt *time.Time `json:"locked_at,omitempty"`

	// Version — счётчик версий, увеличивается при каждой мутации.
	Version int `json:"version"`

	// Attempts — количество попыток отправки (увеличивается при захвате).
	Attempts int `json:"attempts"`

	// MaxAttempts — лимит попыток.
	MaxAttempts int `json:"max_attempts"`

	// LastError — текст последней ошибки отправки.
	LastError string `json:"last_error,omitempty"`

	// LastAttemptAt — время последней попытки.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// SentAt — время успешной отправки.
	SentAt *time.Time `json:"sent_at,omitempty"`

	// DeliveredAt — время подтверждённой доставки.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	// ProviderMessageID — внешний id сообщения у delivery provider'а.
	ProviderMessageID string `json:"provider_message_id,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последней мутации.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLedgerEntry создаёт запись в статусе pending.
func NewLedgerEntry(campaignID uuid.UUID, email string, customerID *uuid.UUID) *SendLedgerEntry {
	now := time.Now()
	normalized := NormalizeEmail(email)
	return &SendLedgerEntry{
		JobKey:      JobKey(campaignID, normalized),
		CampaignID:  campaignID,
		Email:       normalized,
		CustomerID:  customerID,
		Status:      SendStatusPending,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// JobKey выводит детерминированный ключ задачи из кампании и адреса.
// Адрес должен быть уже нормализован.
func JobKey(campaignID uuid.UUID, email string) string {
	return fmt.Sprintf("send:%s:%s", campaignID, email)
}

// NormalizeEmail приводит адрес к каноническому виду для дедупликации.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail проверяет, что адрес пригоден для регистрации.
// Это не полная RFC-валидация — только отсечение заведомо битых значений.
func ValidateEmail(email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("empty email")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return fmt.Errorf("malformed email %q", email)
	}
	if strings.ContainsAny(email, " \t\n") {
		return fmt.Errorf("email %q contains whitespace", email)
	}
	if !strings.Contains(email[at+1:], ".") {
		return fmt.Errorf("email %q has no domain", email)
	}
	return nil
}

// LockExpired возвращает true, если lock установлен и протух.
func (e *SendLedgerEntry) LockExpired(now time.Time, timeout time.Duration) bool {
	return e.LockedAt != nil && now.Sub(*e.LockedAt) > timeout
}

// Claimable возвращает true, если запись может быть захвачена воркером:
// pending, либо processing/sending с протухшим lock'ом, либо failed
// с оставшимися попытками. Это зеркало SQL-условия захвата — используется
// в polling fallback, сам захват всегда идёт одним атомарным UPDATE.
func (e *SendLedgerEntry) Claimable(now time.Time) bool {
	switch e.Status {
	case SendStatusPending:
		return true
	case SendStatusProcessing, SendStatusSending:
		return e.LockExpired(now, LockTimeout)
	case SendStatusFailed:
		return e.Attempts < e.MaxAttempts
	default:
		return false
	}
}

// IsFinished возвращает true, если запись в финальном статусе.
func (e *SendLedgerEntry) IsFinished() bool {
	return e.Status.IsTerminal()
}

// --- Результаты bulk-регистрации ---

// RegisterOutcome — исход регистрации одного получателя.
type RegisterOutcome string

const (
	// RegisterOutcomeCreated — запись создана.
	RegisterOutcomeCreated RegisterOutcome = "created"

	// RegisterOutcomeDuplicate — запись уже существовала (в батче или в БД).
	RegisterOutcomeDuplicate RegisterOutcome = "duplicate"

	// RegisterOutcomeInvalid — адрес не прошёл валидацию.
	RegisterOutcomeInvalid RegisterOutcome = "invalid"
)

// Recipient — входной получатель для bulk-регистрации.
type Recipient struct {
	Email      string     `json:"email"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
}

// RegisterDetail — результат регистрации одного получателя.
type RegisterDetail struct {
	Email   string          `json:"email"`
	JobKey  string          `json:"job_key,omitempty"`
	Outcome RegisterOutcome `json:"outcome"`
	Error   string          `json:"error,omitempty"`
}

// RegisterResult — итог bulk-регистрации получателей кампании.
// Частичные ошибки внутри батча не отменяют успешные строки.
type RegisterResult struct {
	Created    int              `json:"created"`
	Duplicates int              `json:"duplicates"`
	Errors     int              `json:"errors"`
	Details    []RegisterDetail `json:"details"`
}
