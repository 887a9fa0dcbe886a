package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pump-control/internal/domain/exchange"
	"pump-control/internal/general/contracts"
	"pump-control/internal/general/correlation"
	"pump-control/internal/general/logger"
	"pump-control/internal/ports"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	qBackendReq  = "backend_req"
	qManagerReq  = "manager_req"
	qManagerResp = "manager_resp"
	qBackendResp = "backend_resp"
)

var fixedNow = time.Date(2025, 3, 1, 12, 30, 45, 123456000, time.UTC)

type published struct {
	Queue         string
	Body          []byte
	CorrelationID string
	ReplyTo       string
}

type waitCall struct {
	Queue         string
	CorrelationID string
	Timeout       time.Duration
}

type fakeBroker struct {
	mu         sync.Mutex
	published  []published
	waits      []waitCall
	publishErr map[string]error
	replies    map[string][]byte
	waitErr    error

	consume func(ctx context.Context, handler ports.MessageHandler) error
	calls   int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{publishErr: map[string]error{}, replies: map[string][]byte{}}
}

func (b *fakeBroker) Publish(_ context.Context, queue string, body []byte, correlationID, replyTo string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.publishErr[queue]; err != nil {
		return err
	}
	b.published = append(b.published, published{queue, body, correlationID, replyTo})
	return nil
}

func (b *fakeBroker) ConsumeMatching(_ context.Context, queue, correlationID string, timeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waits = append(b.waits, waitCall{queue, correlationID, timeout})
	if b.waitErr != nil {
		return nil, b.waitErr
	}
	if body, ok := b.replies[correlationID]; ok {
		return body, nil
	}
	return nil, &correlation.TimeoutError{Queue: queue, CorrelationID: correlationID, Waited: timeout}
}

func (b *fakeBroker) Consume(ctx context.Context, _, _ string, _ int, handler ports.MessageHandler) error {
	b.mu.Lock()
	b.calls++
	fn := b.consume
	b.mu.Unlock()
	if fn == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return fn(ctx, handler)
}

func (b *fakeBroker) sent() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

type fakeUoW struct{}

func (fakeUoW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type fakeJournal struct {
	mu        sync.Mutex
	exchanges []*exchange.Exchange
	err       error
}

func (j *fakeJournal) Append(_ context.Context, ex *exchange.Exchange) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.exchanges = append(j.exchanges, ex)
	return j.err
}

func testOptions() Options {
	return Options{
		BackendRequestQueue:  qBackendReq,
		ManagerRequestQueue:  qManagerReq,
		ManagerResponseQueue: qManagerResp,
		BackendResponseQueue: qBackendResp,
		ReplyTimeout:         5 * time.Second,
		Workers:              1,
		RestartBackoff:       10 * time.Millisecond,
	}
}

type fakeObserver struct {
	mu   sync.Mutex
	seen []*exchange.Exchange
}

func (o *fakeObserver) Observe(ex *exchange.Exchange) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, ex)
}

func newTestService(t *testing.T, broker *fakeBroker, journal *fakeJournal, mutate func(*Options)) *pumpService {
	t.Helper()
	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	var uow ports.UnitOfWork
	var repo ports.ExchangeRepository
	if journal != nil {
		uow, repo = fakeUoW{}, journal
	}
	svc := NewPumpService(logger.Nop(), broker, uow, repo, nil, opts).(*pumpService)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func inbound(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return b
}

func startPump(extra map[string]any) map[string]any {
	m := map[string]any{
		"RequestId":  "r1",
		"MethodName": "start-pump",
		"PumpId":     7,
		"CreateDate": "2025-03-01T12:00:00.000000",
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

const wantDate = "2025-03-01T12:30:45.123456"

func TestForwardsToManagerAndRelaysReply(t *testing.T) {
	broker := newFakeBroker()
	broker.replies["c1"] = []byte(`{"RequestId":"r1","MethodName":"start-pump","PumpId":7,"CreateDate":"2025-03-01T12:00:01","ErrorMessage":""}`)
	journal := &fakeJournal{}
	svc := newTestService(t, broker, journal, nil)

	disp := svc.HandleMessage(context.Background(), ports.Message{
		Body:          inbound(t, startPump(map[string]any{"AdditionalInfo": map[string]any{"x": 1}})),
		CorrelationID: "c1",
	})
	assert.Equal(t, ports.Ack, disp)

	sent := broker.sent()
	require.Len(t, sent, 2)

	// downstream request
	assert.Equal(t, qManagerReq, sent[0].Queue)
	assert.Equal(t, "c1", sent[0].CorrelationID)
	assert.Equal(t, qManagerResp, sent[0].ReplyTo)
	assert.JSONEq(t, `{"RequestId":"r1","MethodName":"start-pump","PumpId":7,"CreateDate":"`+wantDate+`",
		"AdditionalInfo":{"request_origin":"MSPumpControl"}}`, string(sent[0].Body))

	// waited on the manager response queue with the configured timeout
	require.Len(t, broker.waits, 1)
	assert.Equal(t, waitCall{qManagerResp, "c1", 5 * time.Second}, broker.waits[0])

	// backend response
	assert.Equal(t, qBackendResp, sent[1].Queue)
	assert.Equal(t, "c1", sent[1].CorrelationID)
	assert.Empty(t, sent[1].ReplyTo)
	assert.JSONEq(t, `{"RequestId":"r1","MethodName":"start-pump","PumpId":7,"CreateDate":"`+wantDate+`","ErrorMessage":""}`,
		string(sent[1].Body))

	require.Len(t, journal.exchanges, 1)
	ex := journal.exchanges[0]
	assert.Equal(t, exchange.StateAcked, ex.State)
	assert.Equal(t, exchange.StateReplied, ex.Outcome())
	assert.Equal(t, "r1", ex.RequestID)
	assert.Equal(t, int64(7), ex.PumpID)
}

func TestResponseCopiesIdentityFromReply(t *testing.T) {
	broker := newFakeBroker()
	broker.replies["c1"] = []byte(`{"RequestId":"r9","MethodName":"start-pump","PumpId":9,"CreateDate":"2025-03-01T12:00:01","ErrorMessage":"pump busy"}`)
	svc := newTestService(t, broker, nil, nil)

	disp := svc.HandleMessage(context.Background(), ports.Message{Body: inbound(t, startPump(nil)), CorrelationID: "c1"})
	assert.Equal(t, ports.Ack, disp)

	sent := broker.sent()
	require.Len(t, sent, 2)
	resp, err := contracts.Decode[contracts.ResponseEnvelope](sent[1].Body)
	require.NoError(t, err)
	assert.Equal(t, "r9", resp.RequestID)
	assert.Equal(t, int64(9), resp.PumpID)
	assert.True(t, resp.OK())
}

func TestBypassAnswersLocally(t *testing.T) {
	for _, flag := range []string{"WithoutDownstreamManager", "WithoutMSMicrocontrollerManager"} {
		t.Run(flag, func(t *testing.T) {
			broker := newFakeBroker()
			journal := &fakeJournal{}
			svc := newTestService(t, broker, journal, nil)

			disp := svc.HandleMessage(context.Background(), ports.Message{
				Body:          inbound(t, startPump(map[string]any{flag: true})),
				CorrelationID: "c1",
			})
			assert.Equal(t, ports.Ack, disp)

			sent := broker.sent()
			require.Len(t, sent, 1)
			assert.Equal(t, qBackendResp, sent[0].Queue)
			assert.Equal(t, "c1", sent[0].CorrelationID)
			assert.JSONEq(t, `{"RequestId":"r1","MethodName":"start-pump","PumpId":7,"CreateDate":"`+wantDate+`","ErrorMessage":""}`,
				string(sent[0].Body))
			assert.Empty(t, broker.waits)

			require.Len(t, journal.exchanges, 1)
			assert.True(t, journal.exchanges[0].Bypass)
			assert.True(t, journal.exchanges[0].Acked())
		})
	}
}

func TestUnknownMethodIsRejected(t *testing.T) {
	broker := newFakeBroker()
	journal := &fakeJournal{}
	svc := newTestService(t, broker, journal, nil)

	disp := svc.HandleMessage(context.Background(), ports.Message{
		Body:          inbound(t, startPump(map[string]any{"MethodName": "stop-pump"})),
		CorrelationID: "c1",
	})
	assert.Equal(t, ports.Reject, disp)
	assert.Empty(t, broker.sent())
	assert.Empty(t, broker.waits)

	require.Len(t, journal.exchanges, 1)
	assert.Equal(t, exchange.StateNacked, journal.exchanges[0].State)
	assert.Equal(t, exchange.StateRejected, journal.exchanges[0].Outcome())
	assert.Contains(t, journal.exchanges[0].Reason, ErrUnknownMethod.Error())
}

func TestMalformedInboundIsRejected(t *testing.T) {
	for name, body := range map[string]string{
		"not json":      `start pump 7`,
		"array":         `[1,2]`,
		"wrong type":    `{"RequestId":"r1","MethodName":"start-pump","PumpId":"seven"}`,
		"trailing data": `{"RequestId":"r1","MethodName":"start-pump","PumpId":7} {}`,
	} {
		t.Run(name, func(t *testing.T) {
			broker := newFakeBroker()
			svc := newTestService(t, broker, nil, nil)

			disp := svc.HandleMessage(context.Background(), ports.Message{Body: []byte(body), CorrelationID: "c1"})
			assert.Equal(t, ports.Reject, disp)
			assert.Empty(t, broker.sent())
		})
	}
}

func TestManagerTimeoutRejectsWithoutResponse(t *testing.T) {
	broker := newFakeBroker()
	journal := &fakeJournal{}
	svc := newTestService(t, broker, journal, nil)

	disp := svc.HandleMessage(context.Background(), ports.Message{Body: inbound(t, startPump(nil)), CorrelationID: "c1"})
	assert.Equal(t, ports.Reject, disp)

	sent := broker.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, qManagerReq, sent[0].Queue)

	require.Len(t, journal.exchanges, 1)
	assert.Equal(t, exchange.StateTimedOut, journal.exchanges[0].Outcome())
	assert.Equal(t, exchange.StateNacked, journal.exchanges[0].State)
}

func TestManagerTimeoutCanReplyWithError(t *testing.T) {
	broker := newFakeBroker()
	svc := newTestService(t, broker, nil, func(o *Options) { o.ReplyOnTimeout = true })

	disp := svc.HandleMessage(context.Background(), ports.Message{Body: inbound(t, startPump(nil)), CorrelationID: "c1"})
	assert.Equal(t, ports.Reject, disp)

	sent := broker.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, qBackendResp, sent[1].Queue)
	assert.Equal(t, "c1", sent[1].CorrelationID)

	resp, err := contracts.Decode[contracts.ResponseEnvelope](sent[1].Body)
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, "r1", resp.RequestID)
	assert.Contains(t, resp.ErrorMessage, "timeout")
}

func TestManagerPublishFailureIsRejected(t *testing.T) {
	broker := newFakeBroker()
	broker.publishErr[qManagerReq] = errors.New("channel closed")
	journal := &fakeJournal{}
	svc := newTestService(t, broker, journal, nil)

	disp := svc.HandleMessage(context.Background(), ports.Message{Body: inbound(t, startPump(nil)), CorrelationID: "c1"})
	assert.Equal(t, ports.Reject, disp)
	assert.Empty(t, broker.sent())
	assert.Empty(t, broker.waits)

	require.Len(t, journal.exchanges, 1)
	assert.Contains(t, journal.exchanges[0].Reason, ErrTransport.Error())
}

func TestWaitFailureIsRejected(t *testing.T) {
	broker := newFakeBroker()
	broker.waitErr = errors.New("connection reset")
	svc := newTestService(t, broker, nil, nil)

	disp := svc.HandleMessage(context.Background(), ports.Message{Body: inbound(t, startPump(nil)), CorrelationID: "c1"})
	assert.Equal(t, ports.Reject, disp)
	require.Len(t, broker.sent(), 1)
}

func TestMalformedReplyIsRejected(t *testing.T) {
	broker := newFakeBroker()
	broker.replies["c1"] = []byte(`{"RequestId":`)
	journal := &fakeJournal{}
	svc := newTestService(t, broker, journal, nil)

	disp := svc.HandleMessage(context.Background(), ports.Message{Body: inbound(t, startPump(nil)), CorrelationID: "c1"})
	assert.Equal(t, ports.Reject, disp)

	sent := broker.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, qManagerReq, sent[0].Queue)
	assert.Equal(t, exchange.StateRejected, journal.exchanges[0].Outcome())
}

func TestBackendPublishFailureIsRejected(t *testing.T) {
	broker := newFakeBroker()
	broker.replies["c1"] = []byte(`{"RequestId":"r1","MethodName":"start-pump","PumpId":7,"CreateDate":"2025-03-01T12:00:01","ErrorMessage":""}`)
	broker.publishErr[qBackendResp] = errors.New("not confirmed")
	journal := &fakeJournal{}
	svc := newTestService(t, broker, journal, nil)

	disp := svc.HandleMessage(context.Background(), ports.Message{Body: inbound(t, startPump(nil)), CorrelationID: "c1"})
	assert.Equal(t, ports.Reject, disp)

	require.Len(t, journal.exchanges, 1)
	assert.Equal(t, exchange.StateNacked, journal.exchanges[0].State)
	assert.Equal(t, exchange.StateReplied, journal.exchanges[0].Outcome())
}

func TestMissingIdentifiersAreGenerated(t *testing.T) {
	broker := newFakeBroker()
	svc := newTestService(t, broker, nil, func(o *Options) { o.ReplyOnTimeout = true })

	body := startPump(nil)
	delete(body, "RequestId")
	disp := svc.HandleMessage(context.Background(), ports.Message{Body: inbound(t, body)})
	assert.Equal(t, ports.Reject, disp)

	sent := broker.sent()
	require.Len(t, sent, 2)
	require.NotEmpty(t, sent[0].CorrelationID)
	assert.Equal(t, sent[0].CorrelationID, sent[1].CorrelationID)
	_, err := uuid.Parse(sent[0].CorrelationID)
	assert.NoError(t, err)

	req, err := contracts.Decode[contracts.RequestEnvelope](sent[0].Body)
	require.NoError(t, err)
	_, err = uuid.Parse(req.RequestID)
	assert.NoError(t, err)
}

func TestJournalFailureKeepsDisposition(t *testing.T) {
	broker := newFakeBroker()
	journal := &fakeJournal{err: errors.New("db down")}
	svc := newTestService(t, broker, journal, nil)

	disp := svc.HandleMessage(context.Background(), ports.Message{
		Body:          inbound(t, startPump(map[string]any{"WithoutDownstreamManager": true})),
		CorrelationID: "c1",
	})
	assert.Equal(t, ports.Ack, disp)
	assert.Len(t, journal.exchanges, 1)
}

func TestObserverSeesEverySettledExchange(t *testing.T) {
	broker := newFakeBroker()
	svc := newTestService(t, broker, nil, nil)
	observer := &fakeObserver{}
	svc.observer = observer

	svc.HandleMessage(context.Background(), ports.Message{
		Body:          inbound(t, startPump(map[string]any{"WithoutDownstreamManager": true})),
		CorrelationID: "c1",
	})
	svc.HandleMessage(context.Background(), ports.Message{Body: []byte(`{}`), CorrelationID: "c2"})

	require.Len(t, observer.seen, 2)
	assert.Equal(t, "c1", observer.seen[0].CorrelationID)
	assert.True(t, observer.seen[0].Acked())
	assert.Equal(t, "c2", observer.seen[1].CorrelationID)
	assert.Equal(t, exchange.StateNacked, observer.seen[1].State)
}

func TestStartListeningResubscribesUntilCancelled(t *testing.T) {
	broker := newFakeBroker()
	handled := make(chan ports.Disposition, 1)

	var attempt int
	broker.consume = func(ctx context.Context, handler ports.MessageHandler) error {
		attempt++
		if attempt == 1 {
			return errors.New("channel closed")
		}
		handled <- handler(ctx, ports.Message{
			Body:          []byte(`{"RequestId":"r1","MethodName":"start-pump","PumpId":7,"WithoutDownstreamManager":true}`),
			CorrelationID: "c1",
		})
		<-ctx.Done()
		return ctx.Err()
	}
	svc := newTestService(t, broker, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := svc.StartListening(ctx)

	select {
	case disp := <-handled:
		assert.Equal(t, ports.Ack, disp)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not re-subscribe")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.Equal(t, 2, broker.calls)
	require.Len(t, broker.sent(), 1)
}

func TestStartListeningHonoursReadinessDelay(t *testing.T) {
	broker := newFakeBroker()
	svc := newTestService(t, broker, nil, func(o *Options) { o.ReadinessDelay = time.Hour })

	ctx, cancel := context.WithCancel(context.Background())
	done := svc.StartListening(ctx)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop during readiness delay")
	}
	assert.Zero(t, broker.calls)
}
