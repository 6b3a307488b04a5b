package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/thejerf/suture/v4"

	"github.com/avykov/telescan/internal/api"
	"github.com/avykov/telescan/internal/bus"
	"github.com/avykov/telescan/internal/classify"
	"github.com/avykov/telescan/internal/config"
	"github.com/avykov/telescan/internal/dedup"
	"github.com/avykov/telescan/internal/governor"
	"github.com/avykov/telescan/internal/pipeline"
	"github.com/avykov/telescan/internal/resolver"
	"github.com/avykov/telescan/internal/secrets"
	"github.com/avykov/telescan/internal/sessionpool"
	"github.com/avykov/telescan/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("telescan starting", "port", cfg.Port)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// NATS
	busClient, err := bus.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, cfg.LogSubject, cfg.BusLogging, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer busClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Credential secrets
	if cfg.EncryptionKey == "" {
		slog.Error("ENCRYPTION_KEY is required")
		os.Exit(1)
	}
	box, err := secrets.New(cfg.EncryptionKey)
	if err != nil {
		slog.Error("invalid encryption key", "error", err)
		os.Exit(1)
	}

	// Telegram client factory
	factory, err := newClientFactory(cfg, slog.Default())
	if err != nil {
		slog.Error("failed to build telegram client factory", "error", err)
		os.Exit(1)
	}

	// Session pool. Claims left over from a dead process are cleared
	// before the slots claim theirs.
	pool := sessionpool.New(db, sessionpool.Config{
		RequestCap:  cfg.RequestCap,
		QuotaWindow: cfg.QuotaWindow,
	}, slog.Default())
	if err := pool.ReleaseAll(ctx); err != nil {
		slog.Error("failed to release stale claims", "error", err)
		os.Exit(1)
	}

	// One governed slot per concern, each bound to its own account.
	monitorSlot := governor.New(governor.Config{Slot: "monitoring", Backoff: cfg.Backoff}, pool, factory, box, promptCode, slog.Default())
	seederSlot := governor.New(governor.Config{Slot: "seeder", Backoff: cfg.Backoff}, pool, factory, box, promptCode, slog.Default())

	if err := monitorSlot.Start(ctx); err != nil {
		slog.Error("failed to start monitoring slot", "error", err)
		os.Exit(1)
	}
	defer monitorSlot.Stop(context.Background())
	if err := seederSlot.Start(ctx); err != nil {
		slog.Error("failed to start seeder slot", "error", err)
		os.Exit(1)
	}
	defer seederSlot.Stop(context.Background())

	// Classification rules are compiled once; a bad pattern is a
	// deployment error.
	registry, err := classify.NewRegistry(classify.DefaultWhitelist(), classify.DefaultRules())
	if err != nil {
		slog.Error("failed to compile classification rules", "error", err)
		os.Exit(1)
	}

	engine := dedup.NewEngine(db)

	monitorIngestor := pipeline.NewIngestor(db, registry, engine, resolver.New(db, monitorSlot, slog.Default()), busClient, slog.Default())
	seederIngestor := pipeline.NewIngestor(db, registry, engine, resolver.New(db, seederSlot, slog.Default()), busClient, slog.Default())

	monitor := pipeline.NewMonitor(monitorSlot, db, monitorIngestor, slog.Default())
	seeder := pipeline.NewSeeder(seederSlot, db, seederIngestor, cfg.PageDelay, slog.Default())
	listener := pipeline.NewSeedListener(busClient, cfg.SeedSubject, seeder, slog.Default())
	srv := api.NewServer(cfg.Port, pool, map[string]api.SlotReporter{
		"monitoring": monitorSlot,
		"seeder":     seederSlot,
	}, busClient, cfg.SeedSubject, slog.Default())

	sup := suture.NewSimple("telescan")
	sup.Add(monitor)
	sup.Add(listener)
	sup.Add(srv)

	// Initial sweep: backfill whatever onboarding added while the
	// process was down. Triggered sources queue behind it on the
	// seeder's lock.
	go func() {
		if err := seeder.SeedAll(ctx); err != nil && ctx.Err() == nil {
			slog.Error("initial seeding sweep failed", "error", err)
		}
	}()

	slog.Info("telescan ready", "port", cfg.Port)
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		slog.Error("supervisor exited", "error", err)
		os.Exit(1)
	}
	slog.Info("telescan stopped")
}

// promptCode reads a login code from stdin during interactive first-run
// authentication.
func promptCode(ctx context.Context) (string, error) {
	slog.Info("login code required, waiting for input on stdin")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
