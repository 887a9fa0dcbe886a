package postgres

import (
	"context"
	"testing"
	"time"

	"pump-control/internal/domain/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendRequiresTransaction(t *testing.T) {
	ex, err := exchange.New("c1", time.Now())
	require.NoError(t, err)

	err = NewExchangeRepo().Append(context.Background(), ex)
	assert.ErrorIs(t, err, ErrNoTx)
}

func TestHistoryJSON(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 500000000, time.UTC)
	ex, err := exchange.New("c1", at)
	require.NoError(t, err)
	require.NoError(t, ex.Advance(exchange.StateDispatching, at))
	require.NoError(t, ex.Advance(exchange.StateReplied, at))
	require.NoError(t, ex.Advance(exchange.StateAcked, at))

	b, err := historyJSON(ex)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"from":"RECEIVED","to":"DISPATCHING","at":"2025-03-01T12:00:00.500000Z"},
		{"from":"DISPATCHING","to":"REPLIED","at":"2025-03-01T12:00:00.500000Z"},
		{"from":"REPLIED","to":"ACKED","at":"2025-03-01T12:00:00.500000Z"}
	]`, string(b))
}

func TestHistoryJSONEmpty(t *testing.T) {
	ex, err := exchange.New("c1", time.Now())
	require.NoError(t, err)

	b, err := historyJSON(ex)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}
