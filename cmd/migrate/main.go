// Command migrate applies the goose migrations to DISPATCH_DATABASE_URL.
//
//	migrate [up|down|status|redo|version] [args...]
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/alanyang/dispatch-mesh/internal/adapter/postgres"
	"github.com/alanyang/dispatch-mesh/internal/config"
	"github.com/alanyang/dispatch-mesh/internal/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{
		ServiceName: "dispatch-mesh-migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})

	command, args := "up", []string(nil)
	if len(os.Args) > 1 {
		command, args = os.Args[1], os.Args[2:]
	}

	ctx := log.WithFields(context.Background(), map[string]any{
		"command": command,
		"dir":     cfg.DB.MigrationsDir,
	})

	if cfg.DB.URL == "" {
		log.Error(ctx, "migrations need a database", fmt.Errorf("DISPATCH_DATABASE_URL is not set"))
		os.Exit(1)
	}
	pool, err := postgres.Connect(ctx, cfg.DB)
	if err != nil {
		log.Error(ctx, "failed to connect", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool, cfg.DB.MigrationsDir, command, args...); err != nil {
		log.Error(ctx, "migration failed", err)
		pool.Close()
		os.Exit(1)
	}
	log.Info(ctx, "migrations applied")
}
