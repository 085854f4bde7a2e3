package main

import (
	"context"
	"net/http"
	"time"

	"github.com/novadent/platform/libs/config"
	"github.com/novadent/platform/libs/db"
	"github.com/novadent/platform/libs/httpx"
	"github.com/novadent/platform/libs/kafkax"
	otelx "github.com/novadent/platform/libs/otel"
	"github.com/novadent/platform/libs/outbox"
	"github.com/novadent/platform/libs/runtime"
	"github.com/novadent/platform/services/clinic-service/internal/handlers"
	"github.com/novadent/platform/services/clinic-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "clinic-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	httpHandler := handlers.New(repo, outboxRepo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/clinic/settings", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			httpHandler.GetSettings(w, r)
			return
		}
		if r.Method == http.MethodPut {
			httpHandler.UpdateSettings(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/clinic/services", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			httpHandler.CreateService(w, r)
			return
		}
		if r.Method == http.MethodGet {
			httpHandler.ListServices(w, r)
			return
		}
		if r.Method == http.MethodPut {
			httpHandler.SetServiceActive(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/clinic/providers", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			httpHandler.CreateProvider(w, r)
			return
		}
		if r.Method == http.MethodGet {
			httpHandler.ListProviders(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/clinic/providers/schedule", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			httpHandler.ListSchedule(w, r)
			return
		}
		if r.Method == http.MethodPut {
			httpHandler.UpsertSchedule(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/clinic/providers/time-off", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			httpHandler.CreateTimeOff(w, r)
			return
		}
		if r.Method == http.MethodGet {
			httpHandler.ListTimeOff(w, r)
			return
		}
		if r.Method == http.MethodDelete {
			httpHandler.DeleteTimeOff(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "clinic")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	if err := startGrpcServer(ctx, logger, pool, repo); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
