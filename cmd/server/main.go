// Command server runs the user service HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/user_service/internal/app"
	"github.com/R3E-Network/user_service/internal/config"
	"github.com/R3E-Network/user_service/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	log := logging.New(cfg.Service, cfg.Logging.Level, cfg.Logging.Format)
	log.WithFields(logrus.Fields{
		"environment": cfg.Environment(),
		"version":     cfg.Version,
	}).Info("Starting service")

	application, err := app.New(cfg, app.Dependencies{Logger: log})
	if err != nil {
		log.WithError(err).Fatal("Failed to build application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := application.Run(ctx)
	if runErr != nil {
		log.WithError(runErr).Error("Service stopped with error")
	} else {
		log.Info("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Shutdown error")
	}

	log.Info("Service stopped")
	if runErr != nil {
		os.Exit(1)
	}
}
