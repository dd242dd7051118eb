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

// run поднимает payment-service и возвращает код завершения процесса.
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
		"role":          app.RolePayment,
		"kafka_brokers": cfg.KafkaBrokers,
		"storage":       cfg.StorageDriver,
	}).Info("starting payment-service")

	if err := app.Run(ctx, app.RolePayment, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("payment-service stopped with error")
		return 1
	}

	log.Info("payment-service stopped")
	return 0
}
