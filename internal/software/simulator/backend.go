package simulator

import (
	"context"
	"fmt"
	"time"

	"pump-control/internal/general/contracts"
	"pump-control/internal/general/logger"
	"pump-control/internal/ports"

	"github.com/google/uuid"
)

// BackendOptions configures the simulated backend client.
type BackendOptions struct {
	RequestQueue  string
	ResponseQueue string
	Timeout       time.Duration
}

// Backend publishes requests to the relay and waits for the correlated response.
type Backend struct {
	logger *logger.Logger
	broker ports.Broker
	opts   BackendOptions
	now    func() time.Time
	newID  func() string
}

// NewBackend constructs the simulated backend client.
func NewBackend(logger *logger.Logger, broker ports.Broker, opts BackendOptions) *Backend {
	return &Backend{
		logger: logger,
		broker: broker,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// StartPump asks the relay to start pumpID and returns its response.
func (b *Backend) StartPump(ctx context.Context, pumpID int64, bypass bool) (contracts.ResponseEnvelope, error) {
	correlationID := b.newID()
	req := contracts.InboundRequest{
		RequestEnvelope: contracts.RequestEnvelope{
			RequestID:      b.newID(),
			MethodName:     contracts.MethodStartPump,
			PumpID:         pumpID,
			CreateDate:     contracts.NewTimestamp(b.now()),
			AdditionalInfo: map[string]any{},
		},
		WithoutDownstreamManager: bypass,
	}
	ctx = b.logger.WithCorrelationID(b.logger.WithRequestID(ctx, req.RequestID), correlationID)

	body, err := contracts.Encode(req)
	if err != nil {
		return contracts.ResponseEnvelope{}, err
	}
	if err := b.broker.Publish(ctx, b.opts.RequestQueue, body, correlationID, b.opts.ResponseQueue); err != nil {
		return contracts.ResponseEnvelope{}, fmt.Errorf("publish start-pump: %w", err)
	}
	b.logger.Info(ctx, "backend_sim_request_sent", "Sent start-pump request",
		map[string]any{"pump_id": pumpID, "bypass": bypass})

	payload, err := b.broker.ConsumeMatching(ctx, b.opts.ResponseQueue, correlationID, b.opts.Timeout)
	if err != nil {
		return contracts.ResponseEnvelope{}, fmt.Errorf("await start-pump response: %w", err)
	}

	resp, err := contracts.Decode[contracts.ResponseEnvelope](payload)
	if err != nil {
		return contracts.ResponseEnvelope{}, err
	}
	b.logger.Info(ctx, "backend_sim_response_received", "Received start-pump response",
		map[string]any{"pump_id": resp.PumpID, "ok": resp.OK(), "error_message": resp.ErrorMessage})
	return resp, nil
}
