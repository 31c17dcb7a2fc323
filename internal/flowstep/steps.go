package flowstep

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Outreach/internal/domain"
	"github.com/shaiso/Outreach/internal/provider"
	"github.com/shaiso/Outreach/internal/telemetry"
)

// executeStep выполняет один шаг flow.
//
// Диспетчеризация — исчерпывающий switch по типу шага. Wait не делает
// ничего сам по себе: пауза реализуется переходом в waiting при
// advance.
func (w *Worker) executeStep(ctx context.Context, flow *domain.Flow, exec *domain.Execution, customer *domain.Customer, step *domain.Step) error {
	switch step.Type {
	case domain.StepTypeSendEmail:
		return w.stepSendEmail(ctx, flow, exec, customer, step.SendEmail)

	case domain.StepTypeWait:
		return nil

	case domain.StepTypeCondition:
		return w.stepCondition(ctx, flow, exec, customer, step.Condition)

	case domain.StepTypeAddTag:
		return w.stepAddTag(ctx, customer, step.AddTag)

	case domain.StepTypeCreateDiscount:
		return w.stepCreateDiscount(exec, customer, step.CreateDiscount)

	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}

// stepSendEmail отправляет письмо шага.
//
// Неотправляемый получатель (отписан, bounce) — не ошибка: шаг
// считается выполненным, flow продолжается.
func (w *Worker) stepSendEmail(ctx context.Context, flow *domain.Flow, exec *domain.Execution, customer *domain.Customer, cfg *domain.SendEmailConfig) error {
	if !customer.Mailable() {
		w.logger.Info("skipping step email, customer not mailable",
			"execution_id", exec.ID,
			"customer_id", customer.ID,
		)
		return nil
	}

	_, err := w.delivery.Send(ctx, provider.OutboundMessage{
		To:         customer.Email,
		Subject:    cfg.Subject,
		TemplateID: cfg.TemplateID,
	})
	if err != nil {
		return fmt.Errorf("send step email: %w", err)
	}

	if err := w.flows.IncrementEmailsSent(ctx, flow.ID); err != nil {
		w.logger.Error("failed to increment emails sent", "error", err)
	}
	return nil
}

// stepCondition вычисляет предикат и выполняет действия совпавшей
// ветки. Пустая ветка — валидный no-op.
func (w *Worker) stepCondition(ctx context.Context, flow *domain.Flow, exec *domain.Execution, customer *domain.Customer, cfg *domain.ConditionConfig) error {
	matched, err := w.evalPredicate(ctx, customer, cfg)
	if err != nil {
		return fmt.Errorf("evaluate predicate %s: %w", cfg.Predicate, err)
	}

	branch := cfg.Else
	if matched {
		branch = cfg.Then
	}

	w.logger.Debug("condition evaluated",
		"execution_id", exec.ID,
		"predicate", cfg.Predicate,
		"matched", matched,
		"actions", len(branch),
	)

	for i := range branch {
		if err := w.runAction(ctx, flow, exec, customer, &branch[i]); err != nil {
			return fmt.Errorf("branch action %d: %w", i, err)
		}
	}
	return nil
}

// runAction выполняет вложенное действие condition-ветки.
// Управляющие типы (wait, condition) внутри веток запрещены
// валидацией flow.
func (w *Worker) runAction(ctx context.Context, flow *domain.Flow, exec *domain.Execution, customer *domain.Customer, action *domain.Step) error {
	switch action.Type {
	case domain.StepTypeSendEmail:
		return w.stepSendEmail(ctx, flow, exec, customer, action.SendEmail)
	case domain.StepTypeAddTag:
		return w.stepAddTag(ctx, customer, action.AddTag)
	case domain.StepTypeCreateDiscount:
		return w.stepCreateDiscount(exec, customer, action.CreateDiscount)
	default:
		return fmt.Errorf("step type %q not allowed in branch", action.Type)
	}
}

// stepAddTag добавляет тег customer'у и зеркалирует его в storefront.
//
// Зеркалирование best-effort: ошибка storefront'а логируется и
// считается в метрике, но шаг не проваливается и не ретраится.
// Сверки с storefront'ом нет — локальный тег остаётся источником истины.
func (w *Worker) stepAddTag(ctx context.Context, customer *domain.Customer, cfg *domain.AddTagConfig) error {
	if err := w.customers.AddTag(ctx, customer.ID, cfg.Tag); err != nil {
		return fmt.Errorf("add tag %q: %w", cfg.Tag, err)
	}

	if w.storefront != nil && customer.ExternalID != "" {
		if err := w.storefront.TagCustomer(ctx, customer.ExternalID, cfg.Tag); err != nil {
			telemetry.StorefrontTagFailuresTotal.Inc()
			w.logger.Warn("storefront tag mirroring failed",
				"customer_id", customer.ID,
				"tag", cfg.Tag,
				"error", err,
			)
		}
	}
	return nil
}

// stepCreateDiscount кладёт код скидки в контекст execution'а.
//
// Код детерминирован по (prefix, customer): повторная доставка шага
// порождает тот же код, но для одного customer'а в разных flows с
// одинаковым префиксом код тоже совпадёт.
func (w *Worker) stepCreateDiscount(exec *domain.Execution, customer *domain.Customer, cfg *domain.CreateDiscountConfig) error {
	exec.Context.DiscountCode = DiscountCode(cfg.Prefix, customer.ID)
	return nil
}

// DiscountCode строит код скидки: prefix + суффикс из customer id.
func DiscountCode(prefix string, customerID uuid.UUID) string {
	compact := strings.ReplaceAll(customerID.String(), "-", "")
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(compact[:8]))
}
