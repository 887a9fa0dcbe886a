// Package simulator plays the two peers of the relay: the microcontroller manager that answers
// forwarded requests, and a backend client that issues a start-pump request and waits for the answer.
package simulator

import (
	"context"
	"strings"
	"time"

	"pump-control/internal/general/contracts"
	"pump-control/internal/general/logger"
	"pump-control/internal/ports"
)

// ManagerOptions configures the simulated microcontroller manager.
type ManagerOptions struct {
	RequestQueue string
	// Delay is applied before every reply; useful to exercise relay timeouts.
	Delay time.Duration
	// ErrorMessage is copied into every reply. Empty means success.
	ErrorMessage string
}

// Manager answers every request on RequestQueue to its ReplyTo queue, echoing the correlation id.
type Manager struct {
	logger *logger.Logger
	broker ports.Broker
	opts   ManagerOptions
	now    func() time.Time
}

// NewManager constructs the simulated manager.
func NewManager(logger *logger.Logger, broker ports.Broker, opts ManagerOptions) *Manager {
	return &Manager{
		logger: logger,
		broker: broker,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes the manager request queue until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info(ctx, "manager_sim_started", "Simulated manager listening",
		map[string]any{"queue": m.opts.RequestQueue, "delay_ms": m.opts.Delay.Milliseconds()})
	return m.broker.Consume(ctx, m.opts.RequestQueue, "manager-sim", 1, m.Handle)
}

// Handle replies to one forwarded request.
func (m *Manager) Handle(ctx context.Context, msg ports.Message) ports.Disposition {
	ctx = m.logger.WithCorrelationID(ctx, msg.CorrelationID)

	req, err := contracts.Decode[contracts.RequestEnvelope](msg.Body)
	if err != nil {
		m.logger.Error(ctx, "manager_sim_decode_failed", "Failed to decode forwarded request", err, nil)
		return ports.Reject
	}
	ctx = m.logger.WithRequestID(ctx, req.RequestID)

	replyTo := strings.TrimSpace(msg.ReplyTo)
	if replyTo == "" {
		m.logger.Error(ctx, "manager_sim_no_reply_to", "Forwarded request has no reply_to", nil, nil)
		return ports.Reject
	}

	if m.opts.Delay > 0 {
		select {
		case <-ctx.Done():
			return ports.Requeue
		case <-time.After(m.opts.Delay):
		}
	}

	body, err := contracts.Encode(contracts.ResponseEnvelope{
		RequestID:    req.RequestID,
		MethodName:   req.MethodName,
		PumpID:       req.PumpID,
		CreateDate:   contracts.NewTimestamp(m.now()),
		ErrorMessage: m.opts.ErrorMessage,
	})
	if err != nil {
		m.logger.Error(ctx, "manager_sim_encode_failed", "Failed to encode reply", err, nil)
		return ports.Reject
	}

	if err := m.broker.Publish(ctx, replyTo, body, msg.CorrelationID, ""); err != nil {
		m.logger.Error(ctx, "manager_sim_reply_failed", "Failed to publish reply", err, nil)
		return ports.Requeue
	}

	m.logger.Info(ctx, "manager_sim_replied", "Replied to forwarded request",
		map[string]any{"pump_id": req.PumpID, "reply_to": replyTo, "origin": req.AdditionalInfo[contracts.AdditionalInfoOriginKey]})
	return ports.Ack
}
