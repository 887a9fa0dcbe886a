package pumpcontrol

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"pump-control/internal/general/config"
	"pump-control/internal/general/jwt"
	"pump-control/internal/general/logger"
	"pump-control/internal/general/postgres"
	"pump-control/internal/general/rabbitmq"
	"pump-control/internal/general/websocket"
	"pump-control/internal/ports"
	"pump-control/internal/software/pump/handler"
	"pump-control/internal/software/pump/service"
)

// Run wires the pump control relay and blocks until ctx is cancelled.
func Run(ctx context.Context, configPath string, workers, maxConcurrent int) error {
	// set up a new logger and context with a static request ID for startup logs
	logger := logger.New("pump-control")
	ctx = logger.WithRequestID(ctx, "startup-001")

	// load a config from file
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}
	if workers > 0 {
		cfg.Relay.Workers = workers
	}

	// the exchange journal is optional
	var (
		uow       ports.UnitOfWork
		exchanges ports.ExchangeRepository
	)
	if cfg.Database.Enabled {
		pool, err := postgres.NewPool(ctx, cfg, logger)
		if err != nil {
			logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
			return err
		}
		defer pool.Close()

		if err := postgres.EnsureExchangeSchema(ctx, pool); err != nil {
			logger.Error(ctx, "db_schema_failed", "Failed to prepare journal schema", err, nil)
			return err
		}
		uow = postgres.NewUnitOfWork(pool)
		exchanges = postgres.NewExchangeRepo()
	}

	// the live exchange feed is optional
	var (
		observer ports.ExchangeObserver
		monitor  *websocket.Monitor
		auth     *jwt.Manager
	)
	if cfg.Monitor.Enabled {
		auth, err = jwt.NewManager(cfg.Monitor.JWTSecret, cfg.Monitor.TokenTTL)
		if err != nil {
			logger.Error(ctx, "monitor_init_failed", "Failed to set up the exchange monitor", err, nil)
			return err
		}
		monitor = websocket.NewMonitor(logger, auth, cfg.Monitor.Recent)
		observer = monitor
	}

	// connect to RabbitMQ
	rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer rmq.Close()

	// set up the relay and start listening for backend requests
	svc := service.NewPumpService(logger, rmq, uow, exchanges, observer, service.OptionsFromConfig(cfg))
	listenerDone := svc.StartListening(ctx)

	// set up the HTTP handler and its routes
	mux := http.NewServeMux()
	handler.NewPumpHTTPHandler(logger, monitor, auth).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Services.PumpControlPort),
		Handler:           withConcurrencyLimit(maxConcurrent, mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logger.Info(ctx, "service_started",
		fmt.Sprintf("Pump Control started on port %d", cfg.Services.PumpControlPort),
		map[string]any{
			"port":          cfg.Services.PumpControlPort,
			"workers":       cfg.Relay.Workers,
			"reply_timeout": cfg.Relay.ReplyTimeout.String(),
			"journal":       cfg.Database.Enabled,
			"monitor":       cfg.Monitor.Enabled,
		},
	)

	// start the server in a background goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	// wait for context cancellation or server error
	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info(ctx, "shutdown_started", "Shutting down Pump Control", nil)
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}

		// let in-flight exchanges settle before the connection closes
		select {
		case <-listenerDone:
		case <-shCtx.Done():
			logger.Error(ctx, "listener_shutdown_timeout", "Listener did not stop in time", shCtx.Err(), nil)
		}
		logger.Info(ctx, "shutdown_complete", "Pump Control stopped", nil)
	case err := <-errCh:
		if err != nil {
			logger.Error(ctx, "http_server_error", "HTTP server terminated with error", err,
				map[string]any{"port": cfg.Services.PumpControlPort})
			return err
		}
	}

	return nil
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
