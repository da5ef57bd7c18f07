package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"manito/internal/config"
	"manito/internal/database"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		catalogPath = flag.String("catalog", "configs/catalog.yaml", "path to catalog.yaml")
		dbPath      = flag.String("db", "./data/manito.db", "path to sqlite db")
	)
	flag.Parse()

	seed, err := config.LoadCatalogSeed(*catalogPath)
	if err != nil {
		return err
	}
	if len(seed.Services) == 0 {
		return fmt.Errorf("no services in yaml")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.SeedCatalog(ctx, seed); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	logger.Info().
		Int("categories", len(seed.Categories)).
		Int("pros", len(seed.Pros)).
		Int("services", len(seed.Services)).
		Msg("catalog seeded")
	return nil
}
