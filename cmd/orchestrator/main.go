package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/app"
)

func main() {
	os.Exit(run())
}

// run поднимает orchestrator и возвращает код завершения процесса.
func run() int {
	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		return 1
	}
	app.SetupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"role":          app.RoleOrchestrator,
		"kafka_brokers": cfg.KafkaBrokers,
		"storage":       cfg.StorageDriver,
	}).Info("starting orchestrator")

	if err := app.Run(ctx, app.RoleOrchestrator, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("orchestrator stopped with error")
		return 1
	}

	log.Info("orchestrator stopped")
	return 0
}
