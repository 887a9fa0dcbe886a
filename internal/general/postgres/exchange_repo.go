package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"pump-control/internal/domain/exchange"
	"pump-control/internal/ports"

	"github.com/jackc/pgx/v5/pgxpool"
)

const exchangesSchema = `
	CREATE TABLE IF NOT EXISTS relay_exchanges (
		id             BIGSERIAL PRIMARY KEY,
		correlation_id TEXT        NOT NULL,
		request_id     TEXT        NOT NULL DEFAULT '',
		method_name    TEXT        NOT NULL DEFAULT '',
		pump_id        BIGINT      NOT NULL DEFAULT 0,
		bypass         BOOLEAN     NOT NULL DEFAULT FALSE,
		final_state    TEXT        NOT NULL,
		outcome        TEXT        NOT NULL,
		reason         TEXT        NOT NULL DEFAULT '',
		history        JSONB       NOT NULL DEFAULT '[]'::jsonb,
		received_at    TIMESTAMPTZ NOT NULL,
		settled_at     TIMESTAMPTZ,
		duration_ms    BIGINT      NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS relay_exchanges_correlation_idx ON relay_exchanges (correlation_id);
	CREATE INDEX IF NOT EXISTS relay_exchanges_received_idx ON relay_exchanges (received_at DESC);
`

// EnsureExchangeSchema creates the journal table when it does not exist yet.
func EnsureExchangeSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, exchangesSchema); err != nil {
		return fmt.Errorf("create relay_exchanges: %w", err)
	}
	return nil
}

// ExchangeRepo journals settled relay exchanges using pgx and plain SQL.
type ExchangeRepo struct{}

// NewExchangeRepo constructs a new ExchangeRepo.
func NewExchangeRepo() ports.ExchangeRepository {
	return &ExchangeRepo{}
}

type historyRow struct {
	From string `json:"from"`
	To   string `json:"to"`
	At   string `json:"at"`
}

// Append inserts one relay_exchanges row.
func (repo *ExchangeRepo) Append(ctx context.Context, ex *exchange.Exchange) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	history, err := historyJSON(ex)
	if err != nil {
		return err
	}

	var settledAt any
	if !ex.SettledAt.IsZero() {
		settledAt = ex.SettledAt
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO relay_exchanges
			(correlation_id, request_id, method_name, pump_id, bypass,
			 final_state, outcome, reason, history, received_at, settled_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12)
	`,
		ex.CorrelationID,
		ex.RequestID,
		ex.MethodName,
		ex.PumpID,
		ex.Bypass,
		ex.State.String(),
		ex.Outcome().String(),
		ex.Reason,
		string(history),
		ex.ReceivedAt,
		settledAt,
		ex.Duration().Milliseconds(),
	)
	return err
}

func historyJSON(ex *exchange.Exchange) ([]byte, error) {
	rows := make([]historyRow, 0, len(ex.History))
	for _, t := range ex.History {
		rows = append(rows, historyRow{
			From: t.From.String(),
			To:   t.To.String(),
			At:   t.At.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		})
	}
	return json.Marshal(rows)
}
