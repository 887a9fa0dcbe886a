package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pump-control/internal/domain/exchange"
	"pump-control/internal/general/jwt"
	"pump-control/internal/general/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settledExchange(t *testing.T, id string) *exchange.Exchange {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ex, err := exchange.New(id, now)
	require.NoError(t, err)
	ex.RequestID, ex.MethodName, ex.PumpID = "r-"+id, "start-pump", 7
	require.NoError(t, ex.Advance(exchange.StateDispatching, now))
	require.NoError(t, ex.Advance(exchange.StateReplied, now))
	require.NoError(t, ex.Advance(exchange.StateAcked, now.Add(40*time.Millisecond)))
	return ex
}

func newMonitorServer(t *testing.T, keep int) (*Monitor, *jwt.Manager, string) {
	t.Helper()
	mgr, err := jwt.NewManager("test-secret", time.Hour)
	require.NoError(t, err)

	mon := NewMonitor(logger.Nop(), mgr, keep)
	srv := httptest.NewServer(http.HandlerFunc(mon.Connect))
	t.Cleanup(srv.Close)

	return mon, mgr, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) map[string]any {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "Bearer " + token}))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestFeedStreamsSettledExchanges(t *testing.T) {
	mon, mgr, url := newMonitorServer(t, 10)
	token, _, err := mgr.IssueToken("ops", jwt.RoleOperator)
	require.NoError(t, err)

	conn := dial(t, url)
	reply := authenticate(t, conn, token)
	assert.Equal(t, "auth_success", reply["type"])
	assert.Equal(t, "ops", reply["subject"])

	require.Eventually(t, func() bool { return mon.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	mon.Observe(settledExchange(t, "c1"))

	var got ExchangeSummary
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "exchange_settled", got.Type)
	assert.Equal(t, "c1", got.CorrelationID)
	assert.Equal(t, "ACKED", got.State)
	assert.Equal(t, "REPLIED", got.Outcome)
	assert.Equal(t, int64(40), got.DurationMs)

	// on-demand snapshot
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "recent"}))
	var snap struct {
		Type      string            `json:"type"`
		Exchanges []ExchangeSummary `json:"exchanges"`
	}
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "recent", snap.Type)
	require.Len(t, snap.Exchanges, 1)
	assert.Equal(t, "c1", snap.Exchanges[0].CorrelationID)
}

func TestFeedRejectsViewerToken(t *testing.T) {
	mon, mgr, url := newMonitorServer(t, 10)
	token, _, err := mgr.IssueToken("ops", jwt.RoleViewer)
	require.NoError(t, err)

	conn := dial(t, url)
	reply := authenticate(t, conn, token)
	assert.Equal(t, "auth_error", reply["type"])
	assert.Equal(t, false, reply["success"])
	assert.Zero(t, mon.Clients())
}

func TestFeedRejectsBadAuthFrame(t *testing.T) {
	_, _, url := newMonitorServer(t, 10)

	conn := dial(t, url)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "auth_error", reply["type"])
}

func TestRecentKeepsNewest(t *testing.T) {
	mon := NewMonitor(logger.Nop(), nil, 2)
	assert.NotNil(t, mon.Recent())

	for _, id := range []string{"c1", "c2", "c3"} {
		mon.Observe(settledExchange(t, id))
	}

	recent := mon.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "c2", recent[0].CorrelationID)
	assert.Equal(t, "c3", recent[1].CorrelationID)
}
