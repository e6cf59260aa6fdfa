package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/makkenzo/entitlement-service-api/internal/clock"
	"github.com/makkenzo/entitlement-service-api/internal/config"
	"github.com/makkenzo/entitlement-service-api/internal/service"
	"github.com/makkenzo/entitlement-service-api/internal/storage/postgres"
	"github.com/makkenzo/entitlement-service-api/pkg/logger"
)

func main() {
	configPath := flag.String("config", "./configs/config.dev.yaml", "Path to configuration file")
	count := flag.Int("count", 1, "Number of keys to generate")
	days := flag.Int("days", 30, "Days of entitlement each key grants")
	expiry := flag.String("expires", "", "Optional redeem-by date (YYYY-MM-DD, UTC)")
	note := flag.String("note", "", "Optional note stored with every key")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	params := service.GenerateKeysParams{Count: *count, DurationDays: *days, Note: *note}
	if *expiry != "" {
		t, err := time.Parse("2006-01-02", *expiry)
		if err != nil {
			log.Fatalf("Invalid -expires value %q: %v", *expiry, err)
		}
		params.KeyExpiry = &t
	}

	ctx := context.Background()
	pool, err := postgres.NewPgxPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pool.Close()

	admin := service.NewAdminService(postgres.NewStore(pool, appLogger), clock.Real{}, cfg.Entitlement, appLogger)
	res, err := admin.GenerateKeys(ctx, params)
	if err != nil {
		log.Fatalf("Failed to generate keys: %v", err)
	}

	for _, k := range res.Keys {
		fmt.Fprintln(os.Stdout, k.Code)
	}
	if res.Failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d keys could not be generated\n", res.Failed, res.Requested)
		os.Exit(1)
	}
}
