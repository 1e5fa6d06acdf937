package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/timeclock/internal/api"
	"example.com/timeclock/internal/auth"
	"example.com/timeclock/internal/config"
	"example.com/timeclock/internal/domain"
	"example.com/timeclock/internal/outbox"
	"example.com/timeclock/internal/persistence/memory"
	"example.com/timeclock/internal/persistence/postgres"
	"example.com/timeclock/internal/persistence/sqlite"
	httptransport "example.com/timeclock/internal/transport/http"
)

func main() {
	issueFor := flag.String("issue-token", "", "print a development token for this user id and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}

	if *issueFor != "" {
		token, err := auth.Issue(authCfg, *issueFor, []string{auth.ScopeSessionsRead, auth.ScopeSessionsWrite}, *tokenTTL)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := log.New(os.Stderr, "timeclock-api ", log.LstdFlags|log.Lmsgprefix)

	store, pool, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("store: %v", err)
	}
	defer closeStore()

	var dispatcher *outbox.Dispatcher
	if cfg.OutboxEnabled() {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize, outbox.WithLogger(logger))
		go dispatcher.Start(ctx)
		logger.Printf("outbox dispatcher relaying to %v", cfg.KafkaBrokers)
	}

	var opts []domain.Option
	if cfg.ResumeClearsPause {
		opts = append(opts, domain.WithClearPauseOnResume())
	}
	service := domain.NewService(store, opts...)

	handler := api.NewHandler(service, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(authCfg)
	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.Chain(mux,
			httptransport.RequestLogger(logger),
			httptransport.CORS(cfg.CORSOrigin),
			authMiddleware.Wrap,
		),
	)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s (store=%s)", cfg.HTTPAddress, cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if dispatcher != nil {
		dispatcher.Wait()
	}
}

// openStore returns the configured store. The pool is non-nil only for postgres.
func openStore(ctx context.Context, cfg config.Config) (domain.Store, *pgxpool.Pool, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return postgres.NewRepository(pool), pool, pool.Close, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, func() { _ = store.Close() }, nil
	}
	return memory.NewStore(), nil, func() {}, nil
}
