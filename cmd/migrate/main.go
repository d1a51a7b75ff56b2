package main

import (
	"PortfolioLedger/internal/observability"
	"PortfolioLedger/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|version|status>")
		fmt.Println("  up      - apply all pending migrations")
		fmt.Println("  down    - roll back the last migration")
		fmt.Println("  version - print the latest applied migration")
		fmt.Println("  status  - list every migration and when it was applied")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  PORTFOLIO_POSTGRES_DSN    - Postgres connection string")
		fmt.Println("  PORTFOLIO_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	pgURL := os.Getenv("PORTFOLIO_POSTGRES_DSN")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/portfolioledger?sslmode=disable"
	}

	migrationsDir := os.Getenv("PORTFOLIO_MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, migrationsDir, logger)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "version":
		version, err := migrator.Version(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("read version")
		}
		if version == "" {
			version = "none"
		}
		fmt.Println(version)

	case "status":
		status, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("read status")
		}
		for _, s := range status {
			applied := "pending"
			if s.Applied {
				applied = s.AppliedAt.Format(time.RFC3339)
			}
			fmt.Printf("%s  %-24s %s\n", s.Version, s.Name, applied)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use up, down, version or status)\n", os.Args[1])
		os.Exit(1)
	}
}
