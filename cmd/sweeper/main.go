// Command sweeper runs the maintenance sweep once and exits. It is spawned
// by the intake daemon after every hook except SessionStart, and may also
// be invoked standalone (e.g. from cron) for hosts with low hook volume.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/apomarinov/workio/internal/config"
	"github.com/apomarinov/workio/internal/database"
	"github.com/apomarinov/workio/internal/logger"
	"github.com/apomarinov/workio/internal/store"
	"github.com/apomarinov/workio/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	st := store.NewPostgresStore(db)
	defer st.Close()

	if err := sweep.Run(ctx, cfg.Sweep, cfg.Daemon.InstallDir, st, log); err != nil {
		log.WithError(err).Error("sweep failed")
		os.Exit(1)
	}

	log.Debug("sweep complete", zap.String("install_dir", cfg.Daemon.InstallDir))
}
