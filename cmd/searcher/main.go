package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/feedback"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	load := flag.Bool("load", true, "clear the index and load the catalogue on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, *load)
	stop()
	if err != nil {
		slog.Error("prefix search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("prefix search service stopped")
}

func run(ctx context.Context, cfg *config.Config, load bool) error {
	slog.Info("starting prefix search service", "port", cfg.Server.Port)

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
	}
	defer redisClient.Close()

	m := metrics.New()
	shutdownMetrics := metrics.StartServer(cfg.Metrics)
	idx := search.New(redisClient, redisClient, cfg.Search, search.WithMetrics(m))

	checker := health.NewChecker()
	checker.Register("redis", health.PingCheck(redisClient, ""))
	checker.Register("index", health.IndexCheck(redisClient, idx.Keys().Data))

	var source catalog.Source = catalog.SampleMovies()
	if cfg.Postgres.Enabled() {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		source = catalog.NewPostgresSource(db)
		checker.Register("postgres", health.PingCheck(db, ""))
		slog.Info("catalogue source: postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	} else {
		checker.Register("postgres", health.PingCheck(nil, "not configured, serving sample movies"))
	}

	if load {
		records, err := source.Records(ctx)
		if err != nil {
			return fmt.Errorf("reading catalogue: %w", err)
		}
		if err := idx.ClearAndReload(ctx, records); err != nil {
			return fmt.Errorf("loading index: %w", err)
		}
	}

	agg := feedback.NewAggregator()
	var tracker feedback.Tracker = agg
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.QueryEvents)
		defer producer.Close()
		collector := feedback.NewCollector(producer, 10000)
		collector.Start(ctx)
		defer collector.Close()
		tracker = collector

		queryConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.QueryEvents, feedback.HandleQueryEvent(agg))
		defer queryConsumer.Close()
		bumpConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ScoreBumps, feedback.HandleBump(idx, m))
		defer bumpConsumer.Close()
		for _, c := range []*kafka.Consumer{queryConsumer, bumpConsumer} {
			go func(c *kafka.Consumer) {
				if err := c.Start(ctx); err != nil {
					slog.Error("kafka consumer error", "error", err)
				}
			}(c)
		}
		slog.Info("kafka feedback enabled",
			"brokers", cfg.Kafka.Brokers,
			"score_bumps", cfg.Kafka.Topics.ScoreBumps,
			"query_events", cfg.Kafka.Topics.QueryEvents,
		)
	}

	h := handler.New(idx, source,
		handler.WithTracker(tracker),
		handler.WithStats(agg),
		handler.WithMetrics(m),
	)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.WriteRateLimit > 0 {
		limiter := middleware.NewLimiter(cfg.Server.WriteRateLimit, time.Minute)
		defer limiter.Close()
		chain = middleware.RateLimit(limiter)(chain)
	}
	chain = middleware.CORS(middleware.CORSConfig{AllowOrigins: cfg.Server.AllowOrigins, MaxAge: 600})(chain)
	chain = middleware.Metrics(m, append(handler.Paths(), "/health/live", "/health/ready")...)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}()

	slog.Info("prefix search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}
