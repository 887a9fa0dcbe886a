package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pump-control/internal/domain/exchange"
	"pump-control/internal/general/contracts"
	"pump-control/internal/general/correlation"
	"pump-control/internal/ports"
)

const journalTimeout = 2 * time.Second

// HandleMessage runs the relay protocol for one message taken off the backend request queue.
func (service *pumpService) HandleMessage(ctx context.Context, msg ports.Message) ports.Disposition {
	correlationID := strings.TrimSpace(msg.CorrelationID)
	if correlationID == "" {
		correlationID = service.newID()
	}
	ctx = service.logger.WithCorrelationID(ctx, correlationID)

	ex, err := exchange.New(correlationID, service.now())
	if err != nil {
		service.logger.Error(ctx, "pump_exchange_init_failed", "Failed to start exchange", err, nil)
		return ports.Reject
	}
	defer service.settled(ctx, ex)

	// decode the inbound request
	req, err := contracts.Decode[contracts.InboundRequest](msg.Body)
	if err != nil {
		return service.reject(ctx, ex, "pump_request_decode_failed", "Failed to decode inbound request", err)
	}
	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = service.newID()
	}
	ctx = service.logger.WithRequestID(ctx, req.RequestID)

	ex.RequestID = req.RequestID
	ex.MethodName = req.MethodName
	ex.PumpID = req.PumpID
	ex.Bypass = req.Bypass()

	service.logger.Info(ctx, "pump_request_received", "Received request from backend",
		map[string]any{"method_name": req.MethodName, "pump_id": req.PumpID, "bypass": ex.Bypass})

	if !contracts.KnownMethod(req.MethodName) {
		return service.reject(ctx, ex, "pump_request_unknown_method", "Unknown method in request",
			fmt.Errorf("%w: %q", ErrUnknownMethod, req.MethodName))
	}
	service.advance(ctx, ex, exchange.StateDispatching)

	// answer the backend directly without asking the manager
	if ex.Bypass {
		service.advance(ctx, ex, exchange.StateReplied)
		return service.respond(ctx, ex, contracts.ResponseEnvelope{
			RequestID:  req.RequestID,
			MethodName: req.MethodName,
			PumpID:     req.PumpID,
			CreateDate: contracts.NewTimestamp(service.now()),
		})
	}

	resp, err := service.roundTrip(ctx, ex, req)
	switch {
	case err == nil:
		return service.respond(ctx, ex, resp)
	case errors.Is(err, ErrDownstreamTimeout):
		return service.timedOut(ctx, ex, req, err)
	case errors.Is(err, contracts.ErrMalformed):
		return service.reject(ctx, ex, "manager_response_decode_failed", "Failed to decode manager response", err)
	default:
		return service.reject(ctx, ex, "manager_exchange_failed", "Failed to exchange with manager", err)
	}
}

// roundTrip forwards req to the manager and waits for its correlated reply.
func (service *pumpService) roundTrip(ctx context.Context, ex *exchange.Exchange, req contracts.InboundRequest) (contracts.ResponseEnvelope, error) {
	out := contracts.RequestEnvelope{
		RequestID:  req.RequestID,
		MethodName: req.MethodName,
		PumpID:     req.PumpID,
		CreateDate: contracts.NewTimestamp(service.now()),
		AdditionalInfo: map[string]any{
			contracts.AdditionalInfoOriginKey: contracts.RequestOrigin,
		},
	}
	body, err := contracts.Encode(out)
	if err != nil {
		return contracts.ResponseEnvelope{}, err
	}

	if err := service.broker.Publish(ctx, service.opts.ManagerRequestQueue, body, ex.CorrelationID, service.opts.ManagerResponseQueue); err != nil {
		return contracts.ResponseEnvelope{}, fmt.Errorf("%w: publish to %s: %w", ErrTransport, service.opts.ManagerRequestQueue, err)
	}
	service.advance(ctx, ex, exchange.StateAwaitingReply)
	service.logger.Debug(ctx, "manager_request_sent", "Forwarded request to manager",
		map[string]any{"queue": service.opts.ManagerRequestQueue, "reply_to": service.opts.ManagerResponseQueue})

	payload, err := service.broker.ConsumeMatching(ctx, service.opts.ManagerResponseQueue, ex.CorrelationID, service.opts.ReplyTimeout)
	if err != nil {
		if errors.Is(err, correlation.ErrTimeout) {
			return contracts.ResponseEnvelope{}, fmt.Errorf("%w: %w", ErrDownstreamTimeout, err)
		}
		return contracts.ResponseEnvelope{}, fmt.Errorf("%w: wait on %s: %w", ErrTransport, service.opts.ManagerResponseQueue, err)
	}

	reply, err := contracts.Decode[contracts.ResponseEnvelope](payload)
	if err != nil {
		return contracts.ResponseEnvelope{}, err
	}
	service.advance(ctx, ex, exchange.StateReplied)
	service.logger.Info(ctx, "manager_response_received", "Received response from manager",
		map[string]any{"pump_id": reply.PumpID, "error_message": reply.ErrorMessage})

	return contracts.ResponseEnvelope{
		RequestID:  reply.RequestID,
		MethodName: reply.MethodName,
		PumpID:     reply.PumpID,
		CreateDate: contracts.NewTimestamp(service.now()),
	}, nil
}

// respond publishes resp to the backend and acks the inbound message when that succeeds.
func (service *pumpService) respond(ctx context.Context, ex *exchange.Exchange, resp contracts.ResponseEnvelope) ports.Disposition {
	body, err := contracts.Encode(resp)
	if err == nil {
		err = service.broker.Publish(ctx, service.opts.BackendResponseQueue, body, ex.CorrelationID, "")
	}
	if err != nil {
		err = fmt.Errorf("%w: publish to %s: %w", ErrTransport, service.opts.BackendResponseQueue, err)
		service.logger.Error(ctx, "backend_response_failed", "Failed to send response to backend", err, nil)
		service.fail(ctx, ex, exchange.StateNacked, err)
		return ports.Reject
	}

	service.logger.Info(ctx, "backend_response_sent", "Sent response to backend",
		map[string]any{"queue": service.opts.BackendResponseQueue, "pump_id": resp.PumpID})
	service.advance(ctx, ex, exchange.StateAcked)
	return ports.Ack
}

// timedOut settles an exchange whose manager never answered.
func (service *pumpService) timedOut(ctx context.Context, ex *exchange.Exchange, req contracts.InboundRequest, cause error) ports.Disposition {
	service.logger.Error(ctx, "manager_response_timeout", "Manager did not reply in time", cause,
		map[string]any{"timeout_ms": service.opts.ReplyTimeout.Milliseconds()})
	service.fail(ctx, ex, exchange.StateTimedOut, cause)

	if service.opts.ReplyOnTimeout {
		body, err := contracts.Encode(contracts.ResponseEnvelope{
			RequestID:    req.RequestID,
			MethodName:   req.MethodName,
			PumpID:       req.PumpID,
			CreateDate:   contracts.NewTimestamp(service.now()),
			ErrorMessage: cause.Error(),
		})
		if err == nil {
			err = service.broker.Publish(ctx, service.opts.BackendResponseQueue, body, ex.CorrelationID, "")
		}
		if err != nil {
			service.logger.Error(ctx, "backend_timeout_response_failed", "Failed to send timeout response to backend", err, nil)
		}
	}

	service.advance(ctx, ex, exchange.StateNacked)
	return ports.Reject
}

// reject logs err and settles the exchange with a negative acknowledgement.
func (service *pumpService) reject(ctx context.Context, ex *exchange.Exchange, action, msg string, err error) ports.Disposition {
	service.logger.Error(ctx, action, msg, err, nil)
	service.fail(ctx, ex, exchange.StateRejected, err)
	service.advance(ctx, ex, exchange.StateNacked)
	return ports.Reject
}

func (service *pumpService) advance(ctx context.Context, ex *exchange.Exchange, next exchange.State) {
	from := ex.State
	if err := ex.Advance(next, service.now()); err != nil {
		service.logger.Error(ctx, "pump_exchange_transition_failed", "Invalid exchange transition", err,
			map[string]any{"from": from.String(), "to": next.String()})
	}
}

func (service *pumpService) fail(ctx context.Context, ex *exchange.Exchange, next exchange.State, cause error) {
	from := ex.State
	if err := ex.Fail(next, cause.Error(), service.now()); err != nil {
		service.logger.Error(ctx, "pump_exchange_transition_failed", "Invalid exchange transition", err,
			map[string]any{"from": from.String(), "to": next.String()})
	}
}

// settled logs the outcome of ex, reports it to the monitor and appends it to the journal.
func (service *pumpService) settled(ctx context.Context, ex *exchange.Exchange) {
	service.logger.Info(ctx, "pump_exchange_settled", "Exchange settled",
		map[string]any{
			"state":       ex.State.String(),
			"outcome":     ex.Outcome().String(),
			"reason":      ex.Reason,
			"duration_ms": ex.Duration().Milliseconds(),
		})

	if service.observer != nil {
		service.observer.Observe(ex)
	}

	if service.uow == nil || service.exchanges == nil {
		return
	}

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	err := service.uow.WithinTx(jctx, func(ctx context.Context) error {
		return service.exchanges.Append(ctx, ex)
	})
	if err != nil {
		service.logger.Error(ctx, "pump_exchange_journal_failed", "Failed to journal exchange", err, nil)
	}
}
