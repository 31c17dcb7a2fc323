package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики dispatch-подсистемы и flow-движка.
// Экспортируются через /metrics (promhttp) в каждом бинарнике.
var (
	// SendsTotal — терминальные исходы отправок по статусу
	// (sent/failed/bounced/skipped).
	SendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "dispatch",
		Name:      "sends_total",
		Help:      "Terminal send outcomes by status.",
	}, []string{"status"})

	// ClaimConflictsTotal — захваты, проигранные другому воркеру.
	// Ожидаемая величина под конкуренцией, не ошибка.
	ClaimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "dispatch",
		Name:      "claim_conflicts_total",
		Help:      "Claims lost to another worker.",
	})

	// RecoveredLocksTotal — записи, возвращённые в pending после
	// протухания lock'а.
	RecoveredLocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "dispatch",
		Name:      "recovered_locks_total",
		Help:      "Ledger entries reclaimed after lock timeout.",
	})

	// StepsTotal — обработанные шаги по типу и исходу
	// (completed/skipped/failed).
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "flow",
		Name:      "steps_total",
		Help:      "Processed flow steps by type and outcome.",
	}, []string{"type", "outcome"})

	// StaleSignalsTotal — отброшенные сигналы (дубликаты, удалённые
	// flow/execution, терминальные executions).
	StaleSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "flow",
		Name:      "stale_signals_total",
		Help:      "Discarded step signals by reason.",
	}, []string{"reason"})

	// StorefrontTagFailuresTotal — неудачные best-effort зеркалирования
	// тегов. Ошибки глотаются, но считаются.
	StorefrontTagFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "outreach",
		Subsystem: "flow",
		Name:      "storefront_tag_failures_total",
		Help:      "Swallowed storefront tag mirroring failures.",
	})
)
