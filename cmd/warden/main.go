// Command warden wires the request workflow engine against the
// configured backends and verifies the deployment is sound: reason-code
// registry complete, stores reachable and migrated, policy profile
// parseable. Transports mount the engine separately; this binary is the
// bootstrap and health gate.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/warden-labs/warden/pkg/config"
	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/hitl"
	"github.com/warden-labs/warden/pkg/metrics"
	"github.com/warden-labs/warden/pkg/reason"
	"github.com/warden-labs/warden/pkg/store"
	"github.com/warden-labs/warden/pkg/workflow"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("service", cfg.ServiceName)

	// A registry defect must stop the process before any decision is
	// ever produced.
	if err := reason.Validate(); err != nil {
		logger.Error("reason code registry invalid", "error", err)
		os.Exit(1)
	}

	var (
		wfStore   workflow.Store
		hitlStore hitl.Store
	)
	switch cfg.StoreDriver {
	case "memory":
		wfStore = store.NewMemoryStore()
		hitlStore = store.NewMemoryHITLStore()
	case "postgres":
		pg, hs, err := store.OpenPostgresPair(cfg.DatabaseURL)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		wfStore = pg
		hitlStore = hs
	default:
		sq, hs, err := store.OpenSQLitePair(cfg.DatabaseURL)
		if err != nil {
			logger.Error("sqlite open failed", "error", err)
			os.Exit(1)
		}
		wfStore = sq
		hitlStore = hs
	}

	svc := workflow.New(wfStore, hitlStore)
	svc.SetLogger(logger)

	provider := sdkmetric.NewMeterProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	svc.SetMetrics(metrics.NewOTel(provider.Meter(cfg.ServiceName)))

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		svc.SetReservations(store.NewRedisReservations(client))
		svc.SetEscalationWindow(store.NewRedisEscalationWindow(client))
	}

	defaultPolicy := contracts.DefaultPolicy()
	if cfg.PolicyProfile != "" {
		profile, err := config.LoadProfile(cfg.PolicyProfile)
		if err != nil {
			logger.Error("policy profile load failed", "path", cfg.PolicyProfile, "error", err)
			os.Exit(1)
		}
		defaultPolicy = profile.Policy
	}

	logger.Info("warden engine ready",
		"store", cfg.StoreDriver,
		"redis", cfg.RedisAddr != "",
		"policy_version", defaultPolicy.Version,
		"reason_codes", len(reason.Codes()),
	)
}
