// Outreach Dispatcher — пул воркеров отправки кампаний.
//
// Dispatcher:
//   - Получает задания send.ready из RabbitMQ
//   - Захватывает записи send ledger'а атомарным условным UPDATE
//   - Вызывает delivery provider с ограниченным параллелизмом
//   - Фиксирует исход в ledger'е и счётчиках кампании
//
// Dispatchers масштабируются горизонтально: захват в ledger'е
// гарантирует, что каждую запись обрабатывает один воркер.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Outreach/internal/dispatch"
	"github.com/shaiso/Outreach/internal/mq"
	"github.com/shaiso/Outreach/internal/provider"
	"github.com/shaiso/Outreach/internal/repo"
	"github.com/shaiso/Outreach/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting outreach-dispatcher")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	ledgerRepo := repo.NewLedgerRepo(pool)
	campaignRepo := repo.NewCampaignRepo(pool)
	customerRepo := repo.NewCustomerRepo(pool)

	// RabbitMQ
	var mqConn *mq.Connection
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
	}

	// Delivery provider: пока только лог-реализация для разработки
	var delivery provider.Delivery = &provider.LogDelivery{Logger: logger}

	slots := 0
	if v := os.Getenv("DISPATCH_SLOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			slots = n
		}
	}

	// Создаём dispatcher
	d := dispatch.New(dispatch.Config{
		Ledger:    ledgerRepo,
		Campaigns: campaignRepo,
		Customers: customerRepo,
		Delivery:  delivery,
		Conn:      mqConn,
		Slots:     slots,
		Logger:    logger,
	})

	// Запускаем dispatcher
	if err := d.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if mqConn != nil && mqConn.IsConnected() {
			w.Write([]byte("ok"))
		} else {
			w.Write([]byte("ok (polling-only)"))
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("DISPATCHER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем dispatcher
	d.Stop()
	logger.Info("outreach-dispatcher stopped")
}
