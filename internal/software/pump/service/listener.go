package service

import (
	"context"
	"errors"
	"time"
)

const (
	consumerTag       = "pump-control"
	maxRestartBackoff = 30 * time.Second
)

// StartListening waits for the readiness delay, then consumes the backend request queue until ctx is done.
// A failed subscription is retried with exponential backoff.
func (service *pumpService) StartListening(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		// let the broker and the peers come up first
		if service.opts.ReadinessDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(service.opts.ReadinessDelay):
			}
		}

		service.logger.Info(ctx, "pump_listener_started", "Listening for backend requests",
			map[string]any{"queue": service.opts.BackendRequestQueue, "workers": service.opts.Workers})

		backoff := service.opts.RestartBackoff
		for {
			started := time.Now()
			err := service.broker.Consume(ctx, service.opts.BackendRequestQueue, consumerTag, service.opts.Workers, service.HandleMessage)
			if ctx.Err() != nil {
				service.logger.Info(ctx, "pump_listener_stopped", "Listener stopped", nil)
				return
			}

			if err == nil {
				err = errors.New("consumer returned without error")
			}
			// a long healthy run starts the backoff over
			if time.Since(started) > maxRestartBackoff {
				backoff = service.opts.RestartBackoff
			}
			service.logger.Error(ctx, "pump_listener_interrupted", "Consumer stopped, re-subscribing", err,
				map[string]any{"backoff_ms": backoff.Milliseconds()})

			select {
			case <-ctx.Done():
				service.logger.Info(ctx, "pump_listener_stopped", "Listener stopped", nil)
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxRestartBackoff)
		}
	}()

	return done
}
