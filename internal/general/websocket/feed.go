package websocket

import (
	"context"
	"encoding/json"
	"time"

	"pump-control/internal/domain/exchange"
	"pump-control/internal/ports"
)

var _ ports.ExchangeObserver = (*Monitor)(nil)

// ExchangeSummary is what the feed publishes for one settled exchange.
type ExchangeSummary struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	RequestID     string    `json:"request_id"`
	MethodName    string    `json:"method_name"`
	PumpID        int64     `json:"pump_id"`
	Bypass        bool      `json:"bypass"`
	State         string    `json:"state"`
	Outcome       string    `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
	SettledAt     time.Time `json:"settled_at"`
	DurationMs    int64     `json:"duration_ms"`
}

func summarize(ex *exchange.Exchange) ExchangeSummary {
	return ExchangeSummary{
		Type:          "exchange_settled",
		CorrelationID: ex.CorrelationID,
		RequestID:     ex.RequestID,
		MethodName:    ex.MethodName,
		PumpID:        ex.PumpID,
		Bypass:        ex.Bypass,
		State:         ex.State.String(),
		Outcome:       ex.Outcome().String(),
		Reason:        ex.Reason,
		ReceivedAt:    ex.ReceivedAt,
		SettledAt:     ex.SettledAt,
		DurationMs:    ex.Duration().Milliseconds(),
	}
}

// Observe records a settled exchange and pushes it to every connected operator.
// Clients whose buffer is full miss the update.
func (ws *Monitor) Observe(ex *exchange.Exchange) {
	summary := summarize(ex)
	payload, err := json.Marshal(summary)
	if err != nil {
		ws.logger.Error(context.Background(), "ws_summary_encode_failed", "Failed to encode exchange summary", err, nil)
		return
	}

	ws.mu.Lock()
	ws.recent = append(ws.recent, summary)
	if over := len(ws.recent) - ws.keep; over > 0 {
		ws.recent = append(ws.recent[:0], ws.recent[over:]...)
	}
	clients := make([]*client, 0, len(ws.clients))
	for c := range ws.clients {
		clients = append(clients, c)
	}
	ws.mu.Unlock()

	dropped := 0
	for _, c := range clients {
		if !c.enqueue(payload) {
			dropped++
		}
	}
	if dropped > 0 {
		ws.logger.Debug(context.Background(), "ws_feed_dropped", "Slow monitor clients skipped an update",
			map[string]any{"dropped": dropped, "correlation_id": ex.CorrelationID})
	}
}

// Recent returns the remembered exchanges, oldest first.
func (ws *Monitor) Recent() []ExchangeSummary {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return append(make([]ExchangeSummary, 0, len(ws.recent)), ws.recent...)
}
