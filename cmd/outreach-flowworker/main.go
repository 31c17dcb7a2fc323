// Outreach Flow Worker — воркер шагов automation flow.
//
// Flow Worker:
//   - Получает сигналы шагов из RabbitMQ
//   - Валидирует каждый сигнал против durable-состояния execution'а
//   - Выполняет шаг ровно один раз (send_email, wait, condition,
//     add_tag, create_discount) и продвигает execution
//
// Дубликаты сигналов безопасны: состояние execution'а разрешает
// повторную доставку в no-op.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Outreach/internal/flowstep"
	"github.com/shaiso/Outreach/internal/mq"
	"github.com/shaiso/Outreach/internal/provider"
	"github.com/shaiso/Outreach/internal/repo"
	"github.com/shaiso/Outreach/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting outreach-flowworker")

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
	executionRepo := repo.NewExecutionRepo(pool)
	flowRepo := repo.NewFlowRepo(pool)
	customerRepo := repo.NewCustomerRepo(pool)
	orderRepo := repo.NewOrderRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
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

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Providers: пока только лог-реализации для разработки
	var delivery provider.Delivery = &provider.LogDelivery{Logger: logger}
	var storefront provider.Storefront = &provider.LogStorefront{Logger: logger}

	// Создаём воркер
	cfg := flowstep.Config{
		Executions: executionRepo,
		Flows:      flowRepo,
		Customers:  customerRepo,
		Orders:     orderRepo,
		Delivery:   delivery,
		Storefront: storefront,
		Conn:       mqConn,
		Logger:     logger,
	}
	if publisher != nil {
		cfg.Publisher = publisher
	}
	w := flowstep.New(cfg)

	// Запускаем воркер
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start flow worker", "error", err)
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

	port := ":8083"
	if v := os.Getenv("FLOWWORKER_PORT"); v != "" {
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

	// Останавливаем воркер
	w.Stop()
	logger.Info("outreach-flowworker stopped")
}
