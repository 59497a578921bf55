// Package main applies the embedded database migrations.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./cmd/migrate [up|down|status]
//
// The default command is "up". Migrations are embedded into the binary, so
// the same artifact can migrate any environment without a checkout.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"medremind/internal/config"
	"medremind/internal/db/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	conn, err := sql.Open("pgx", cfg.Database.URL.Unmask())
	if err != nil {
		return fmt.Errorf("opening database connection: %w", err)
	}
	defer conn.Close()

	ctx := context.Background()
	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	logger.Info("running migrations", "command", command)

	switch command {
	case "up":
		err = goose.UpContext(ctx, conn, ".")
	case "down":
		err = goose.DownContext(ctx, conn, ".")
	case "status":
		err = goose.StatusContext(ctx, conn, ".")
	default:
		return fmt.Errorf("unknown command %q (expected up, down, or status)", command)
	}
	if err != nil {
		return fmt.Errorf("running goose %s: %w", command, err)
	}

	logger.Info("migrations complete", "command", command)
	return nil
}
