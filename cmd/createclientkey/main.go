package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/makkenzo/entitlement-service-api/internal/domain/clientkey"
	"github.com/makkenzo/entitlement-service-api/internal/storage/postgres"
	"github.com/makkenzo/entitlement-service-api/internal/util"
	"go.uber.org/zap"
)

func main() {
	description := flag.String("description", "Default desktop client", "Label stored with the key")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	fullKey, prefix, keyHash, err := util.GenerateClientKey()
	if err != nil {
		log.Fatalf("Failed to generate client key: %v", err)
	}

	fmt.Printf("Generated client key (SAVE THIS securely!):\n%s\n\n", fullKey)
	fmt.Printf("Prefix: %s\n", prefix)

	logger, _ := zap.NewDevelopment()
	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer pool.Close()

	repo := postgres.NewClientKeyRepository(pool, logger)

	keyID, err := repo.Create(context.Background(), &clientkey.ClientKey{
		KeyHash:     keyHash,
		Prefix:      prefix,
		Description: *description,
		IsEnabled:   true,
	})
	if err != nil {
		log.Fatalf("Failed to save client key to database: %v", err)
	}

	fmt.Printf("\nClient key saved to database with ID: %s\n", keyID)
}
