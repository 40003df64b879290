// Command daemon runs the intake daemon: a single long-lived process that
// binds the hook Unix socket and serializes the database writes of hook
// processing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/apomarinov/workio/internal/config"
	"github.com/apomarinov/workio/internal/database"
	"github.com/apomarinov/workio/internal/intake"
	"github.com/apomarinov/workio/internal/logger"
	"github.com/apomarinov/workio/internal/store"
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

	log.Info("starting intake daemon", zap.String("socket", cfg.Daemon.SocketPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	st := store.NewPostgresStore(db)
	defer st.Close()

	d := intake.New(cfg.Daemon, cfg.Reconcile, st, log)
	defer d.Close()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.Serve(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutting down intake daemon")
		cancel()
		<-serveErr
	case err := <-serveErr:
		if err != nil {
			log.Error("daemon serve error", zap.Error(err))
		}
	}

	d.Wait()
	log.Info("intake daemon stopped")
}
