package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Flow — определение автоматизации, авторизуемое маркетологом.
//
// Flow — упорядоченный список типизированных шагов. Для движка
// определение read-only: engine читает шаги, но меняет только
// агрегатные счётчики.
type Flow struct {
	// ID — уникальный идентификатор flow.
	ID uuid.UUID `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name"`

	// IsActive — неактивные flows не триггерятся.
	IsActive bool `json:"is_active"`

	// Steps — упорядоченные шаги. Индекс шага — его позиция в списке.
	Steps []Step `json:"steps"`

	// TriggerCron — опциональное cron-выражение для периодического триггера.
	// Пустая строка — flow триггерится только событиями.
	TriggerCron string `json:"trigger_cron,omitempty"`

	// Completions — количество executions, дошедших до конца.
	Completions int64 `json:"completions"`

	// EmailsSent — количество писем, отправленных шагами этого flow.
	EmailsSent int64 `json:"emails_sent"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// StepType — тип шага flow.
type StepType string

// Типы шагов.
const (
	StepTypeSendEmail      StepType = "send_email"
	StepTypeWait           StepType = "wait"
	StepTypeCondition      StepType = "condition"
	StepTypeAddTag         StepType = "add_tag"
	StepTypeCreateDiscount StepType = "create_discount"
)

// Step — один шаг flow: тег типа плюс конфигурация этого типа.
//
// Ровно один из конфигурационных указателей должен быть не-nil,
// в соответствии с Type. Диспетчеризация — исчерпывающий switch
// по Type, а не поиск полей в открытой map'е.
type Step struct {
	Type StepType

	SendEmail      *SendEmailConfig
	Wait           *WaitConfig
	Condition      *ConditionConfig
	AddTag         *AddTagConfig
	CreateDiscount *CreateDiscountConfig
}

// SendEmailConfig — конфигурация шага send_email.
type SendEmailConfig struct {
	// Subject — тема письма.
	Subject string `json:"subject"`

	// TemplateID — шаблон содержимого (рендеринг — вне движка).
	TemplateID string `json:"template_id"`
}

// WaitConfig — конфигурация шага wait.
type WaitConfig struct {
	// Minutes — длительность паузы в минутах.
	Minutes int `json:"minutes"`
}

// AddTagConfig — конфигурация шага add_tag.
type AddTagConfig struct {
	// Tag — тег, добавляемый customer'у. Зеркалирование в storefront —
	// best-effort.
	Tag string `json:"tag"`
}

// CreateDiscountConfig — конфигурация шага create_discount.
type CreateDiscountConfig struct {
	// Prefix — префикс кода скидки.
	Prefix string `json:"prefix"`

	// Percent — размер скидки.
	Percent int `json:"percent,omitempty"`
}

// PredicateKind — вид предиката condition-шага.
type PredicateKind string

// Виды предикатов.
const (
	PredicateHasPurchased      PredicateKind = "has_purchased"
	PredicateHasTag            PredicateKind = "has_tag"
	PredicateTotalSpendAtLeast PredicateKind = "total_spend_at_least"
	PredicateOrderCountAtLeast PredicateKind = "order_count_at_least"
)

// ConditionConfig — конфигурация шага condition.
//
// Предикат вычисляется по атрибутам customer'а; выполняется список
// действий совпавшей ветки. Пустая ветка — валидный no-op.
type ConditionConfig struct {
	// Predicate — вид проверки.
	Predicate PredicateKind `json:"predicate"`

	// Tag — аргумент для has_tag.
	Tag string `json:"tag,omitempty"`

	// Amount — порог для total_spend_at_least (в минимальных единицах валюты).
	Amount int64 `json:"amount,omitempty"`

	// Count — порог для order_count_at_least.
	Count int `json:"count,omitempty"`

	// Then — действия при истинном предикате.
	Then []Step `json:"then,omitempty"`

	// Else — действия при ложном предикате.
	Else []Step `json:"else,omitempty"`
}

// stepJSON — представление шага на диске: {"type": ..., "config": {...}}.
type stepJSON struct {
	Type   StepType        `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// MarshalJSON сериализует Step в вид {"type": ..., "config": {...}}.
func (s Step) MarshalJSON() ([]byte, error) {
	var cfg any
	switch s.Type {
	case StepTypeSendEmail:
		cfg = s.SendEmail
	case StepTypeWait:
		cfg = s.Wait
	case StepTypeCondition:
		cfg = s.Condition
	case StepTypeAddTag:
		cfg = s.AddTag
	case StepTypeCreateDiscount:
		cfg = s.CreateDiscount
	default:
		return nil, fmt.Errorf("unknown step type %q", s.Type)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s config: %w", s.Type, err)
	}
	return json.Marshal(stepJSON{Type: s.Type, Config: raw})
}

// UnmarshalJSON восстанавливает tagged union из {"type": ..., "config": {...}}.
func (s *Step) UnmarshalJSON(data []byte) error {
	var sj stepJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return err
	}

	*s = Step{Type: sj.Type}

	cfg := sj.Config
	if cfg == nil {
		cfg = []byte("{}")
	}

	switch sj.Type {
	case StepTypeSendEmail:
		s.SendEmail = &SendEmailConfig{}
		return json.Unmarshal(cfg, s.SendEmail)
	case StepTypeWait:
		s.Wait = &WaitConfig{}
		return json.Unmarshal(cfg, s.Wait)
	case StepTypeCondition:
		s.Condition = &ConditionConfig{}
		return json.Unmarshal(cfg, s.Condition)
	case StepTypeAddTag:
		s.AddTag = &AddTagConfig{}
		return json.Unmarshal(cfg, s.AddTag)
	case StepTypeCreateDiscount:
		s.CreateDiscount = &CreateDiscountConfig{}
		return json.Unmarshal(cfg, s.CreateDiscount)
	default:
		return fmt.Errorf("unknown step type %q", sj.Type)
	}
}

// Validate проверяет корректность шага.
func (s *Step) Validate() error {
	switch s.Type {
	case StepTypeSendEmail:
		if s.SendEmail == nil {
			return fmt.Errorf("send_email step has no config")
		}
	case StepTypeWait:
		if s.Wait == nil || s.Wait.Minutes <= 0 {
			return fmt.Errorf("wait step requires positive minutes")
		}
	case StepTypeCondition:
		if s.Condition == nil {
			return fmt.Errorf("condition step has no config")
		}
		switch s.Condition.Predicate {
		case PredicateHasPurchased, PredicateHasTag, PredicateTotalSpendAtLeast, PredicateOrderCountAtLeast:
		default:
			return fmt.Errorf("unknown predicate %q", s.Condition.Predicate)
		}
		for i := range s.Condition.Then {
			if err := validateAction(&s.Condition.Then[i]); err != nil {
				return fmt.Errorf("then[%d]: %w", i, err)
			}
		}
		for i := range s.Condition.Else {
			if err := validateAction(&s.Condition.Else[i]); err != nil {
				return fmt.Errorf("else[%d]: %w", i, err)
			}
		}
	case StepTypeAddTag:
		if s.AddTag == nil || s.AddTag.Tag == "" {
			return fmt.Errorf("add_tag step requires a tag")
		}
	case StepTypeCreateDiscount:
		if s.CreateDiscount == nil || s.CreateDiscount.Prefix == "" {
			return fmt.Errorf("create_discount step requires a prefix")
		}
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	return nil
}

// validateAction проверяет шаг внутри ветки condition.
// Вложенные wait и condition не поддерживаются — ветка состоит из действий.
func validateAction(s *Step) error {
	switch s.Type {
	case StepTypeSendEmail, StepTypeAddTag, StepTypeCreateDiscount:
		return s.Validate()
	default:
		return fmt.Errorf("step type %q is not allowed inside a condition branch", s.Type)
	}
}

// Validate проверяет определение flow целиком.
func (f *Flow) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("flow name is required")
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}
	for i := range f.Steps {
		if err := f.Steps[i].Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}
