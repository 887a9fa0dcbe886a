package startpump

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"pump-control/internal/general/config"
	"pump-control/internal/general/logger"
	"pump-control/internal/general/rabbitmq"
	"pump-control/internal/software/simulator"
)

// Run sends one start-pump request through the relay and prints the response to out.
func Run(ctx context.Context, configPath string, pumpID int64, bypass bool, timeout time.Duration, out io.Writer) error {
	logger := logger.New("start-pump")
	ctx = logger.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}
	if timeout <= 0 {
		// the relay waits up to its own reply timeout before it answers
		timeout = cfg.Relay.ReplyTimeout + 5*time.Second
	}

	rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer rmq.Close()

	backend := simulator.NewBackend(logger, rmq, simulator.BackendOptions{
		RequestQueue:  cfg.Queues.BackendRequest,
		ResponseQueue: cfg.Queues.BackendResponse,
		Timeout:       timeout,
	})
	resp, err := backend.StartPump(ctx, pumpID, bypass)
	if err != nil {
		logger.Error(ctx, "start_pump_failed", "start-pump request failed", err, map[string]any{"pump_id": pumpID})
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("pump %d: %s", pumpID, resp.ErrorMessage)
	}
	return nil
}
