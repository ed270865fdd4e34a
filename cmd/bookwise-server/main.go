package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"bookwise/backend/internal/cache/redis"
	"bookwise/backend/internal/config"
	"bookwise/backend/internal/events"
	"bookwise/backend/internal/kafkax"
	"bookwise/backend/internal/notify"
	"bookwise/backend/internal/observability/metrics"
	"bookwise/backend/internal/service/availability"
	"bookwise/backend/internal/service/booking"
	"bookwise/backend/internal/store"
	"bookwise/backend/internal/store/memory"
	"bookwise/backend/internal/store/postgres"
	grpcTransport "bookwise/backend/internal/transport/grpc"
	httpTransport "bookwise/backend/internal/transport/http"
)

const serviceName = "bookwise-server"

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup completes before exiting.
func run() int {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		return 1
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPC.Addr()),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("storage", cfg.Storage),
		slog.String("log_level", cfg.LogLevel),
	)

	var (
		appointmentRepo store.AppointmentRepository
		rulesRepo       store.AvailabilityRepository
		checks          []httpTransport.ReadyCheck
	)

	switch cfg.Storage {
	case config.StorageMemory:
		mem := memory.New()
		appointmentRepo, rulesRepo = mem, mem
		checks = append(checks, httpTransport.ReadyCheck{Name: "storage", Check: mem.Check})
	default:
		if cfg.Database.AutoMigrate {
			log.Info("applying migrations", databaseLogArgs(cfg.Database.URL)...)
			if err := postgres.MigrateUp(cfg.Database.URL); err != nil {
				log.Error("migrations failed", slog.Any("err", err))
				return 1
			}
		}

		log.Info("connecting to database", databaseLogArgs(cfg.Database.URL)...)
		db, err := postgres.Open(cfg.Database.URL, postgres.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		})
		if err != nil {
			args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.Database.URL)...)
			log.Error("database connection failed", args...)
			return 1
		}
		defer func() {
			if err := postgres.Close(db); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		}()

		appointmentRepo = postgres.NewAppointmentRepo(db)
		rulesRepo = postgres.NewAvailabilityRepo(db)
		checks = append(checks, httpTransport.ReadyCheck{Name: "database", Check: postgres.Check(db)})
	}

	if cfg.Redis.URL != "" {
		opts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Error("redis url invalid", slog.Any("err", err))
			return 1
		}
		rdb := goredis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		rulesRepo = redis.NewAvailabilityCache(rulesRepo, rdb, cfg.Redis.AvailabilityTTL, log)
		checks = append(checks, httpTransport.ReadyCheck{Name: "redis", Check: redis.Check(rdb)})
		log.Info("availability cache enabled", slog.Duration("ttl", cfg.Redis.AvailabilityTTL))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bookingMetrics := metrics.NewBookingMetrics(reg)

	var publisher notify.Publisher
	var kafkaPublisher *notify.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher = notify.NewKafkaPublisher(notify.NewKafkaWriter(cfg.Kafka.Brokers), cfg.Kafka.NotificationsTopic)
		publisher = kafkaPublisher
		checks = append(checks, httpTransport.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.Kafka.Brokers)})
	} else {
		log.Warn("no kafka brokers configured; notifications are logged only")
		publisher = notify.NewLogPublisher(log)
	}
	dispatcher := notify.NewDispatcher(publisher, cfg.NotifyQueueSize, bookingMetrics, log)

	directory, err := booking.NewStaticDirectory(
		cfg.Booking.DefaultHourlyRateCents,
		cfg.Booking.Currency,
		cfg.Booking.DefaultTimezone,
		cfg.Booking.ProviderRates,
		cfg.Booking.ProviderTimezones,
	)
	if err != nil {
		log.Error("provider directory invalid", slog.Any("err", err))
		return 1
	}

	rules := availability.NewService(rulesRepo, log)
	bookings := booking.NewService(appointmentRepo, rules, directory,
		booking.WithNotifier(dispatcher),
		booking.WithMetrics(bookingMetrics),
		booking.WithLogger(log),
		booking.WithRetry(cfg.Booking.MaxAttempts, cfg.Booking.RetryBackoff),
		booking.WithPastSlotRejection(cfg.Booking.RejectPastSlots),
	)

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(defaultRequestTimeoutInterceptor(cfg.GRPC.RequestTimeout)),
	)
	grpcTransport.RegisterBookingServiceServer(grpcServer, grpcTransport.NewBookingServer(bookings, rules, log))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(grpcTransport.ServiceName, healthpb.HealthCheckResponse_SERVING)

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpTransport.NewRouter(httpTransport.Config{
			Bookings: bookings,
			Rules:    rules,
			Checks:   checks,
			Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Logger:   log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Addr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPC.Addr()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Workers outlive the transports so notifications from in-flight requests still get queued.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	workers.Add(1)
	go func() {
		defer workers.Done()
		dispatcher.Run(workerCtx)
	}()

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.CallbacksTopic != "" {
		consumer := events.NewConsumer(events.NewKafkaReader(events.Config{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topic:   cfg.Kafka.CallbacksTopic,
		}), bookings, bookingMetrics, log)

		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := consumer.Run(workerCtx); err != nil {
				log.Error("callback consumer stopped", slog.Any("err", err))
			}
		}()
		log.Info("callback consumer started", slog.String("topic", cfg.Kafka.CallbacksTopic))
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("servers started", slog.String("grpc_addr", cfg.GRPC.Addr()), slog.String("http_addr", cfg.HTTPAddr))

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("server stopped with error", slog.Any("err", err))
			exitCode = 1
		}
	}

	healthServer.Shutdown()
	shutdownHTTP(log, httpServer, cfg.ShutdownTimeout)
	shutdown(log, grpcServer, cfg.ShutdownTimeout)

	stopWorkers()
	workers.Wait()
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			log.Warn("kafka writer close failed", slog.Any("err", err))
		}
	}
	log.Info("stopped")

	return exitCode
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func shutdown(log *slog.Logger, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", slog.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func shutdownHTTP(log *slog.Logger, s *http.Server, timeout time.Duration) {
	log.Info("shutting down http server", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown failed; closing", slog.Any("err", err))
		_ = s.Close()
		return
	}
	log.Info("http server stopped")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
