package managersim

import (
	"context"
	"time"

	"pump-control/internal/general/config"
	"pump-control/internal/general/logger"
	"pump-control/internal/general/rabbitmq"
	"pump-control/internal/software/simulator"
)

// Run starts the simulated microcontroller manager and blocks until ctx is cancelled.
func Run(ctx context.Context, configPath string, delay time.Duration, errorMessage string) error {
	logger := logger.New("manager-sim")
	ctx = logger.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}

	rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer rmq.Close()

	manager := simulator.NewManager(logger, rmq, simulator.ManagerOptions{
		RequestQueue: cfg.Queues.ManagerRequest,
		Delay:        delay,
		ErrorMessage: errorMessage,
	})
	if err := manager.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error(ctx, "manager_sim_failed", "Simulated manager stopped", err, nil)
		return err
	}
	return nil
}
