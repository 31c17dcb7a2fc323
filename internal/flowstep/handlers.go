package flowstep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Outreach/internal/domain"
	"github.com/shaiso/Outreach/internal/mq"
	"github.com/shaiso/Outreach/internal/repo"
	"github.com/shaiso/Outreach/internal/telemetry"
)

// handleFlowStep обрабатывает сообщение flow.step из очереди.
func (w *Worker) handleFlowStep(ctx context.Context, msg *mq.Delivery) error {
	if msg.Message.Type != mq.MessageTypeFlowStep {
		w.logger.Warn("unexpected message type", "type", msg.Message.Type)
		return nil
	}

	signal, err := mq.ParsePayload[domain.StepSignal](&msg.Message)
	if err != nil {
		w.logger.Error("failed to parse flow.step payload", "error", err)
		// Некорректный payload — retry не поможет
		return nil
	}

	return w.HandleSignal(ctx, signal)
}

// HandleSignal обрабатывает один сигнал шага.
//
// Сигнал не авторитативен: он валидируется против durable-состояния
// execution'а и молча отбрасывается, если состояние ушло вперёд. Ошибка
// возвращается только когда повторная доставка имеет смысл.
func (w *Worker) HandleSignal(ctx context.Context, signal domain.StepSignal) error {
	logger := telemetry.WithExecutionID(w.logger, signal.ExecutionID.String())

	if !signal.Valid() {
		// Неполный сигнал перманентно некорректен
		telemetry.StaleSignalsTotal.WithLabelValues("malformed").Inc()
		logger.Error("dropping malformed step signal",
			"flow_id", signal.FlowID,
			"step_index", signal.StepIndex,
		)
		return nil
	}

	exec, err := w.executions.GetByID(ctx, signal.ExecutionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			telemetry.StaleSignalsTotal.WithLabelValues("execution_gone").Inc()
			logger.Warn("execution gone, dropping signal")
			return nil
		}
		return fmt.Errorf("load execution: %w", err)
	}

	if exec.IsFinished() {
		// Терминальный execution: сигнал пережил cancel/fail/complete
		telemetry.StaleSignalsTotal.WithLabelValues("terminal").Inc()
		logger.Debug("execution finished, dropping signal", "status", exec.Status)
		return nil
	}

	if exec.Status == domain.ExecutionStatusWaiting {
		// Дубликат, приехавший во время паузы: возобновление придёт
		// отдельным сигналом от scheduler'а
		telemetry.StaleSignalsTotal.WithLabelValues("waiting").Inc()
		logger.Debug("execution waiting, dropping signal")
		return nil
	}

	if signal.StepIndex != exec.CurrentStep || exec.HasCompleted(signal.StepIndex) {
		// Повторная доставка уже выполненного шага — тихий no-op
		telemetry.StaleSignalsTotal.WithLabelValues("duplicate").Inc()
		logger.Debug("stale step index, dropping signal",
			"signal_step", signal.StepIndex,
			"current_step", exec.CurrentStep,
		)
		return nil
	}

	flow, err := w.flows.GetByID(ctx, exec.FlowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return w.failExecution(ctx, logger, exec, "flow deleted")
		}
		return fmt.Errorf("load flow: %w", err)
	}

	if exec.CurrentStep >= len(flow.Steps) {
		// Flow укоротили под ногами — дальше идти некуда
		return w.completeExecution(ctx, logger, exec, flow)
	}

	customer, err := w.customers.GetByID(ctx, exec.CustomerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return w.failExecution(ctx, logger, exec, "customer deleted")
		}
		return fmt.Errorf("load customer: %w", err)
	}

	step := flow.Steps[exec.CurrentStep]
	logger = logger.With("step_index", exec.CurrentStep, "step_type", step.Type)

	if err := w.executeStep(ctx, flow, exec, customer, &step); err != nil {
		telemetry.StepsTotal.WithLabelValues(string(step.Type), "error").Inc()
		logger.Error("step failed", "error", err)
		if ferr := w.failExecution(ctx, logger, exec, err.Error()); ferr != nil {
			return ferr
		}
		return fmt.Errorf("execute step %d: %w", signal.StepIndex, err)
	}

	telemetry.StepsTotal.WithLabelValues(string(step.Type), "ok").Inc()
	return w.advance(ctx, logger, exec, flow, &step)
}

// advance фиксирует выполненный шаг и переводит execution дальше:
// park для wait, completed после последнего шага, иначе следующий
// active-шаг с публикацией сигнала.
//
// Переход сохраняется version-guarded Update'ом ДО публикации
// следующего сигнала: упавшая публикация оставляет durable-состояние
// корректным, polling fallback переиздаст сигнал.
func (w *Worker) advance(ctx context.Context, logger *slog.Logger, exec *domain.Execution, flow *domain.Flow, step *domain.Step) error {
	exec.RecordCompleted(exec.CurrentStep)
	nextStep := exec.CurrentStep + 1

	switch {
	case step.Type == domain.StepTypeWait:
		resumeAt := time.Now().Add(time.Duration(step.Wait.Minutes) * time.Minute)
		exec.Park(nextStep, resumeAt)
		logger.Info("execution parked", "resume_at", resumeAt)

	case nextStep >= len(flow.Steps):
		exec.MarkCompleted()
		logger.Info("execution completed")

	default:
		exec.Advance(nextStep)
	}

	if err := w.executions.Update(ctx, exec); err != nil {
		if errors.Is(err, repo.ErrStaleVersion) {
			// Конкурентная доставка того же сигнала успела первой
			telemetry.StaleSignalsTotal.WithLabelValues("version_conflict").Inc()
			logger.Debug("version conflict on advance, dropping")
			return nil
		}
		return fmt.Errorf("persist transition: %w", err)
	}

	if exec.Status == domain.ExecutionStatusCompleted {
		if err := w.flows.IncrementCompletions(ctx, flow.ID); err != nil {
			logger.Error("failed to increment completions", "error", err)
		}
		return nil
	}

	if exec.Status == domain.ExecutionStatusActive && w.publisher != nil {
		signal := domain.StepSignal{
			FlowID:      exec.FlowID,
			ExecutionID: exec.ID,
			StepIndex:   exec.CurrentStep,
		}
		if err := w.publisher.PublishFlowStep(ctx, signal); err != nil {
			// Состояние уже сохранено; polling fallback переиздаст
			logger.Error("failed to publish next step signal", "error", err)
		}
	}

	return nil
}

// failExecution переводит execution в failed.
func (w *Worker) failExecution(ctx context.Context, logger *slog.Logger, exec *domain.Execution, reason string) error {
	exec.MarkFailed(reason)
	if err := w.executions.Update(ctx, exec); err != nil {
		if errors.Is(err, repo.ErrStaleVersion) {
			logger.Debug("version conflict on fail, dropping")
			return nil
		}
		return fmt.Errorf("persist failure: %w", err)
	}
	logger.Warn("execution failed", "reason", reason)
	return nil
}

// completeExecution переводит execution в completed.
func (w *Worker) completeExecution(ctx context.Context, logger *slog.Logger, exec *domain.Execution, flow *domain.Flow) error {
	exec.MarkCompleted()
	if err := w.executions.Update(ctx, exec); err != nil {
		if errors.Is(err, repo.ErrStaleVersion) {
			logger.Debug("version conflict on complete, dropping")
			return nil
		}
		return fmt.Errorf("persist completion: %w", err)
	}
	if err := w.flows.IncrementCompletions(ctx, flow.ID); err != nil {
		logger.Error("failed to increment completions", "error", err)
	}
	logger.Info("execution completed")
	return nil
}
