package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/Outreach/internal/domain"
	"github.com/shaiso/Outreach/internal/mq"
	"github.com/shaiso/Outreach/internal/provider"
	"github.com/shaiso/Outreach/internal/repo"
	"github.com/shaiso/Outreach/internal/telemetry"
)

// handleSendReady обрабатывает сообщение send.ready из очереди.
func (d *Dispatcher) handleSendReady(ctx context.Context, msg *mq.Delivery) error {
	if msg.Message.Type != mq.MessageTypeSendReady {
		d.logger.Warn("unexpected message type", "type", msg.Message.Type)
		return nil
	}

	payload, err := mq.ParsePayload[mq.SendReadyPayload](&msg.Message)
	if err != nil {
		d.logger.Error("failed to parse send.ready payload", "error", err)
		// Некорректный payload — retry не поможет
		return nil
	}

	if payload.JobKey == "" {
		d.logger.Error("send.ready without job_key", "message_id", msg.Message.ID)
		return nil
	}

	return d.withSlot(ctx, payload.JobKey)
}

// processJob выполняет одну отправку: захват записи, вызов провайдера,
// фиксация результата.
//
// Возвращает nil, если запись обработана или захват проигран другому
// воркеру (сообщение подтверждается). Возвращает error только когда
// повторная доставка имеет смысл — тогда очередь применит свой retry
// с backoff поверх счётчика attempts в ledger'е.
func (d *Dispatcher) processJob(ctx context.Context, jobKey string) error {
	logger := telemetry.WithJobKey(d.logger, jobKey)

	entry, err := d.ledger.Claim(ctx, jobKey, d.workerID)
	if err != nil {
		return fmt.Errorf("claim %s: %w", jobKey, err)
	}

	if entry == nil {
		// Захват проигран: запись уже взял другой воркер, либо она
		// в терминальном статусе. Дубликат сообщения — штатная
		// ситуация при at-least-once доставке.
		telemetry.ClaimConflictsTotal.Inc()
		logger.Debug("claim lost, skipping")
		return nil
	}

	logger = logger.With("attempt", entry.Attempts, "campaign_id", entry.CampaignID)

	campaign, err := d.campaigns.GetByID(ctx, entry.CampaignID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn("campaign gone, skipping entry")
			telemetry.SendsTotal.WithLabelValues(string(domain.SendStatusSkipped)).Inc()
			return d.ledger.MarkSkipped(ctx, jobKey, d.workerID, "campaign deleted")
		}
		return fmt.Errorf("load campaign: %w", err)
	}

	if reason := d.skipReason(ctx, entry); reason != "" {
		logger.Info("skipping send", "reason", reason)
		telemetry.SendsTotal.WithLabelValues(string(domain.SendStatusSkipped)).Inc()
		return d.ledger.MarkSkipped(ctx, jobKey, d.workerID, reason)
	}

	if err := d.ledger.MarkSending(ctx, jobKey, d.workerID); err != nil {
		return fmt.Errorf("mark sending: %w", err)
	}

	receipt, err := d.delivery.Send(ctx, provider.OutboundMessage{
		To:         entry.Email,
		Subject:    campaign.Subject,
		TemplateID: campaign.TemplateID,
	})
	if err != nil {
		return d.recordFailure(ctx, logger, entry, err)
	}

	if err := d.ledger.MarkSent(ctx, jobKey, d.workerID, receipt.ExternalID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}

	if err := d.campaigns.IncrementSent(ctx, entry.CampaignID); err != nil {
		// Письмо ушло, счётчик не критичен — не откатываем
		logger.Error("failed to increment sent counter", "error", err)
	}

	telemetry.SendsTotal.WithLabelValues(string(domain.SendStatusSent)).Inc()
	logger.Info("send completed", "provider_message_id", receipt.ExternalID)
	return nil
}

// skipReason проверяет, можно ли слать письмо этому получателю.
// Пустая строка — слать можно.
func (d *Dispatcher) skipReason(ctx context.Context, entry *domain.SendLedgerEntry) string {
	if entry.CustomerID == nil || d.customers == nil {
		return ""
	}

	customer, err := d.customers.GetByID(ctx, *entry.CustomerID)
	if err != nil {
		// Нет профиля — шлём по одному email'у
		return ""
	}

	switch {
	case customer.Unsubscribed:
		return "customer unsubscribed"
	case customer.Bounced:
		return "address bounced"
	}
	return ""
}

// recordFailure фиксирует ошибку отправки.
//
// markFailed либо возвращает запись в pending (attempts < max), либо
// переводит в терминальный failed. Ошибка провайдера пробрасывается
// дальше, чтобы очередь применила свой retry с backoff.
func (d *Dispatcher) recordFailure(ctx context.Context, logger *slog.Logger, entry *domain.SendLedgerEntry, sendErr error) error {
	if err := d.ledger.MarkFailed(ctx, entry.JobKey, d.workerID, sendErr.Error()); err != nil {
		logger.Error("failed to record send failure", "error", err)
		return fmt.Errorf("mark failed: %w", err)
	}

	if entry.Attempts >= entry.MaxAttempts {
		// Попытки исчерпаны — запись ушла в терминальный failed
		telemetry.SendsTotal.WithLabelValues(string(domain.SendStatusFailed)).Inc()
		if err := d.campaigns.IncrementFailed(ctx, entry.CampaignID); err != nil {
			logger.Error("failed to increment failed counter", "error", err)
		}
		logger.Error("send failed permanently", "error", sendErr)
		return nil
	}

	logger.Error("send failed, will retry", "error", sendErr)
	return fmt.Errorf("send %s: %w", entry.JobKey, sendErr)
}
