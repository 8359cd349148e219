package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redstone/orderflow/internal/deadletter"
	"github.com/redstone/orderflow/internal/eventlog"
	"github.com/redstone/orderflow/internal/fault"
	"github.com/redstone/orderflow/internal/idempotency"
	"github.com/redstone/orderflow/internal/logger"
	"github.com/redstone/orderflow/internal/order"
)

const (
	ordersTopic   = "order_events"
	shippingTopic = "shipping_events"
	dlqTopic      = "order_events_dlq"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	bus   *eventlog.Memory
	store idempotency.Store
	proc  *Processor
	logs  *bytes.Buffer
}

func newHarness(t *testing.T, store idempotency.Store, opts ...Option) *harness {
	t.Helper()
	if store == nil {
		store = idempotency.NewMemory(0)
	}
	var buf bytes.Buffer
	log := logger.NewWithWriter("shipping-service", &buf)
	bus := eventlog.NewMemory(3)
	dlq := deadletter.NewRouter(bus, dlqTopic, log)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return &harness{
		bus:   bus,
		store: store,
		proc:  NewProcessor(store, bus, dlq, shippingTopic, log, opts...),
		logs:  &buf,
	}
}

func orderMessage(t *testing.T, orderID string) eventlog.Message {
	t.Helper()
	b, err := json.Marshal(order.Order{
		OrderID:     orderID,
		CustomerID:  "c1",
		Items:       []order.Item{{ProductID: "p1", Quantity: 2}},
		TotalAmount: 20,
		Status:      order.StatusCreated,
		CreatedAt:   fixedNow,
	})
	require.NoError(t, err)
	return eventlog.Message{Topic: ordersTopic, Key: []byte(orderID), Value: b, Offset: 5}
}

func TestHandleSchedulesNewOrder(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.proc.Handle(context.Background(), orderMessage(t, "o-1")))

	out := h.bus.Messages(shippingTopic)
	require.Len(t, out, 1)
	assert.Equal(t, "o-1", string(out[0].Key))

	var ev ScheduledEvent
	require.NoError(t, json.Unmarshal(out[0].Value, &ev))
	assert.Equal(t, "o-1", ev.OrderID)
	assert.Equal(t, DefaultAddress, ev.ShippingAddress)
	assert.Equal(t, fixedNow, ev.ScheduledAt)
	assert.Equal(t, fixedNow.Add(72*time.Hour), ev.EstimatedDeliveryDate)
	assert.Regexp(t, regexp.MustCompile(`^TRK-[0-9A-F]{8}$`), ev.TrackingNumber)

	done, err := h.store.HasProcessed(context.Background(), "o-1")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, h.bus.Messages(dlqTopic))
}

func TestHandleSkipsProcessedOrder(t *testing.T) {
	h := newHarness(t, nil)
	msg := orderMessage(t, "o-1")

	require.NoError(t, h.proc.Handle(context.Background(), msg))
	require.NoError(t, h.proc.Handle(context.Background(), msg))
	require.NoError(t, h.proc.Handle(context.Background(), msg))

	assert.Len(t, h.bus.Messages(shippingTopic), 1)
	assert.Empty(t, h.bus.Messages(dlqTopic))
	assert.Contains(t, h.logs.String(), "order already processed")
}

func TestHandleMalformedPayloads(t *testing.T) {
	tests := map[string][]byte{
		"not json":    []byte("{not json"),
		"empty":       nil,
		"no order id": []byte(`{"customerId":"c1"}`),
		"wrong type":  []byte(`{"orderId":42}`),
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			msg := eventlog.Message{Topic: ordersTopic, Key: []byte("k"), Value: value, Partition: 1, Offset: 9}

			require.NoError(t, h.proc.Handle(context.Background(), msg))

			assert.Empty(t, h.bus.Messages(shippingTopic))
			dlq := h.bus.Messages(dlqTopic)
			require.Len(t, dlq, 1)
			assert.Equal(t, []byte("k"), dlq[0].Key)
			assert.Equal(t, value, dlq[0].Value)
			assert.Equal(t, ordersTopic, dlq[0].Header(deadletter.HeaderOriginalTopic))
			assert.NotEmpty(t, dlq[0].Header(deadletter.HeaderErrorMessage))
			assert.Equal(t, fault.KindProcessing.String(), dlq[0].Header(deadletter.HeaderErrorKind))
		})
	}
}

func TestHandlePublishFailureDoesNotMark(t *testing.T) {
	h := newHarness(t, nil)
	h.bus.FailPublish(shippingTopic, errors.New("broker down"))

	require.NoError(t, h.proc.Handle(context.Background(), orderMessage(t, "o-1")))

	done, err := h.store.HasProcessed(context.Background(), "o-1")
	require.NoError(t, err)
	assert.False(t, done)

	dlq := h.bus.Messages(dlqTopic)
	require.Len(t, dlq, 1)
	assert.Equal(t, fault.KindPublish.String(), dlq[0].Header(deadletter.HeaderErrorKind))
	assert.Contains(t, dlq[0].Header(deadletter.HeaderErrorMessage), "broker down")
}

type brokenStore struct {
	hasErr  error
	markErr error
	marked  int
}

func (s *brokenStore) HasProcessed(context.Context, string) (bool, error) { return false, s.hasErr }

func (s *brokenStore) MarkProcessed(context.Context, string) error {
	s.marked++
	return s.markErr
}

func TestHandleMarkFailureRoutesToDeadLetter(t *testing.T) {
	store := &brokenStore{markErr: errors.New("redis timeout")}
	h := newHarness(t, store)

	require.NoError(t, h.proc.Handle(context.Background(), orderMessage(t, "o-1")))

	assert.Len(t, h.bus.Messages(shippingTopic), 1)
	assert.Equal(t, 1, store.marked)
	dlq := h.bus.Messages(dlqTopic)
	require.Len(t, dlq, 1)
	assert.Contains(t, dlq[0].Header(deadletter.HeaderErrorMessage), "redis timeout")
}

func TestHandleStoreReadFailureRoutesToDeadLetter(t *testing.T) {
	store := &brokenStore{hasErr: errors.New("redis down")}
	h := newHarness(t, store)

	require.NoError(t, h.proc.Handle(context.Background(), orderMessage(t, "o-1")))

	assert.Empty(t, h.bus.Messages(shippingTopic))
	assert.Equal(t, 0, store.marked)
	assert.Len(t, h.bus.Messages(dlqTopic), 1)
}

type failingAddress struct{}

func (failingAddress) Resolve(context.Context, string, string) (string, error) {
	return "", errors.New("no address on file")
}

func TestHandleAddressFailure(t *testing.T) {
	h := newHarness(t, nil, WithAddressResolver(failingAddress{}))

	require.NoError(t, h.proc.Handle(context.Background(), orderMessage(t, "o-1")))

	assert.Empty(t, h.bus.Messages(shippingTopic))
	assert.Len(t, h.bus.Messages(dlqTopic), 1)
}

func TestHandleDeadLetterFailureDoesNotPropagate(t *testing.T) {
	h := newHarness(t, nil)
	h.bus.FailPublish(dlqTopic, errors.New("dlq down"))

	var err error
	assert.NotPanics(t, func() {
		err = h.proc.Handle(context.Background(), eventlog.Message{Topic: ordersTopic, Value: []byte("garbage")})
	})
	assert.NoError(t, err)
	assert.Contains(t, h.logs.String(), `"level":"CRITICAL"`)
}

func TestHandleCancelledDuringDelay(t *testing.T) {
	h := newHarness(t, nil, WithProcessingDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.proc.Handle(ctx, orderMessage(t, "o-1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.bus.Messages(shippingTopic))
	assert.Empty(t, h.bus.Messages(dlqTopic))
}

func TestNewTrackingNumberUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		n := NewTrackingNumber()
		assert.Len(t, n, 12)
		assert.False(t, seen[n])
		seen[n] = true
	}
}

func TestPipelineProcessesEachOrderOnce(t *testing.T) {
	h := newHarness(t, nil)
	svc := order.NewService(order.NewMemoryRepository(), h.bus, ordersTopic, logger.Discard())

	var ids []string
	for i := 0; i < 3; i++ {
		o, err := svc.Submit(context.Background(), order.CreateRequest{
			CustomerID: "c1",
			Items:      []order.ItemRequest{{ProductID: "p1", Quantity: 2}},
		})
		require.NoError(t, err)
		ids = append(ids, o.OrderID)
	}
	// redeliver the first order
	first := h.bus.Messages(ordersTopic)[0]
	require.NoError(t, h.bus.Publish(context.Background(), eventlog.Message{Topic: ordersTopic, Key: first.Key, Value: first.Value}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	handled := 0
	err := h.bus.Subscribe(ctx, ordersTopic, "shipping-group", func(ctx context.Context, msg eventlog.Message) error {
		handled++
		if handled == 4 {
			defer cancel()
		}
		return h.proc.Handle(ctx, msg)
	})
	require.NoError(t, err)

	out := h.bus.Messages(shippingTopic)
	require.Len(t, out, 3)
	var got []string
	for _, m := range out {
		got = append(got, string(m.Key))
	}
	assert.ElementsMatch(t, ids, got)
	assert.Empty(t, h.bus.Messages(dlqTopic))
	assert.Equal(t, int64(4), h.bus.Committed(ordersTopic, "shipping-group"))
}
