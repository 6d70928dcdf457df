package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/distribution-market/internal/api"
	"github.com/atmx/distribution-market/internal/config"
	"github.com/atmx/distribution-market/internal/events"
	"github.com/atmx/distribution-market/internal/ledger"
	"github.com/atmx/distribution-market/internal/market"
	"github.com/atmx/distribution-market/internal/metrics"
	"github.com/atmx/distribution-market/internal/oracle"
	"github.com/atmx/distribution-market/internal/pricing"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("distribution-market exited", "err", err)
		os.Exit(1)
	}
	fmt.Println("distribution-market stopped")
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Ledger ---
	var led ledger.Minter
	if cfg.Ledger.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Ledger.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()
		pl := ledger.NewPostgresLedger(pool)
		if err := pl.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
		led = pl
		slog.Info("connected to PostgreSQL ledger")
	} else {
		slog.Warn("ledger.database_url not set, using in-memory ledger (balances will not persist)")
		led = ledger.NewMemoryLedger()
	}

	// --- Event sinks ---
	hub := events.NewHub()
	sinks := events.Multi{events.NewMemoryLog(), hub}
	var stream *events.RedisStream
	if cfg.Events.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Events.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid events.redis_url: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		stream = events.NewRedisStream(rdb, cfg.Events.Stream, cfg.Events.StreamMaxLen)
		sinks = append(sinks, stream)
		slog.Info("Redis event stream enabled", "stream", cfg.Events.Stream)
	}

	// --- Market ---
	finder := &pricing.MultiStart{
		GradientTolerance: 1e-6,
		MaxIterations:     200,
		Observe:           metrics.ObserveSeed,
	}
	m := market.New(led, sinks,
		market.WithAddress(cfg.Market.Address),
		market.WithWorstCaseFinder(finder),
		market.WithLogger(logger),
	)
	if err := openMarket(ctx, m, led, cfg.Market); err != nil {
		return err
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"distribution-market"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	svc := api.NewService(m)
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feed of market events.
		r.Get("/events", hub.HandleWS)
		svc.Routes(r)
	})

	port := strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	if stream != nil {
		g.Go(func() error { return stream.Run(gctx) })
	}
	g.Go(func() error {
		slog.Info("distribution-market listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if cfg.Oracle.Enabled {
		resolver := oracle.NewResolver(
			oracle.NewStatic(cfg.Oracle.ResolutionValue),
			m,
			cfg.Oracle.PollInterval,
			logger.With("component", "resolver"),
		)
		g.Go(func() error { return resolver.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down distribution-market...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openMarket tops the provider up to the configured funding and initializes
// the market with the configured curve.
func openMarket(ctx context.Context, m *market.Market, l ledger.Minter, mc config.MarketConfig) error {
	backing, err := mc.Backing()
	if err != nil {
		return err
	}
	funding, err := mc.Funding()
	if err != nil {
		return err
	}

	bal, err := l.BalanceOf(ctx, mc.Provider)
	if err != nil {
		return fmt.Errorf("provider balance: %w", err)
	}
	if short := funding.Sub(bal); short.IsPositive() {
		if err := l.Mint(ctx, mc.Provider, short); err != nil {
			return fmt.Errorf("fund provider: %w", err)
		}
	}

	if _, err := m.Initialize(ctx, market.InitParams{
		Mean:     mc.InitialMean,
		StdDev:   mc.InitialStdDev,
		Backing:  backing,
		K:        mc.K,
		Provider: mc.Provider,
	}); err != nil {
		return fmt.Errorf("initialize market: %w", err)
	}
	return nil
}
