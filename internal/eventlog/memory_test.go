package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redstone/orderflow/internal/fault"
)

func publish(t *testing.T, m *Memory, topic, key, value string) {
	t.Helper()
	require.NoError(t, m.Publish(context.Background(), Message{Topic: topic, Key: []byte(key), Value: []byte(value)}))
}

func TestMemorySameKeySamePartition(t *testing.T) {
	m := NewMemory(4)
	for i := 0; i < 5; i++ {
		publish(t, m, "orders", "order-1", fmt.Sprint(i))
	}
	msgs := m.Messages("orders")
	require.Len(t, msgs, 5)
	for i, msg := range msgs {
		assert.Equal(t, msgs[0].Partition, msg.Partition)
		assert.Equal(t, int64(i), msg.Offset)
	}
}

func TestMemoryDeliversInPublishOrder(t *testing.T) {
	m := NewMemory(3)
	for i := 0; i < 9; i++ {
		publish(t, m, "orders", fmt.Sprintf("k%d", i%3), fmt.Sprint(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	err := m.Subscribe(ctx, "orders", "g", func(_ context.Context, msg Message) error {
		got = append(got, string(msg.Value))
		if len(got) == 9 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8"}, got)
	assert.Equal(t, int64(9), m.Committed("orders", "g"))
}

func TestMemoryRedeliversAfterHandlerError(t *testing.T) {
	m := NewMemory(1)
	publish(t, m, "orders", "a", "first")
	publish(t, m, "orders", "a", "second")

	boom := errors.New("boom")
	err := m.Subscribe(context.Background(), "orders", "g", func(_ context.Context, msg Message) error {
		if string(msg.Value) == "second" {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), m.Committed("orders", "g"))

	ctx, cancel := context.WithCancel(context.Background())
	var redelivered string
	err = m.Subscribe(ctx, "orders", "g", func(_ context.Context, msg Message) error {
		redelivered = string(msg.Value)
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "second", redelivered)
}

func TestMemoryGroupsAreIndependent(t *testing.T) {
	m := NewMemory(1)
	publish(t, m, "orders", "a", "x")

	for _, g := range []string{"g1", "g2"} {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		require.NoError(t, m.Subscribe(ctx, "orders", g, func(context.Context, Message) error {
			calls++
			cancel()
			return nil
		}))
		assert.Equal(t, 1, calls, g)
	}
}

func TestMemoryWakesOnPublish(t *testing.T) {
	m := NewMemory(2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan string, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Subscribe(ctx, "orders", "g", func(_ context.Context, msg Message) error {
			got <- string(msg.Value)
			return nil
		})
	}()

	publish(t, m, "orders", "late", "hello")
	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
	cancel()
	wg.Wait()
}

func TestMemoryFailPublish(t *testing.T) {
	m := NewMemory(1)
	m.FailPublish("orders", errors.New("broker down"))

	err := m.Publish(context.Background(), Message{Topic: "orders", Key: []byte("a")})
	require.Error(t, err)
	assert.Equal(t, fault.KindPublish, fault.KindOf(err))
	assert.Empty(t, m.Messages("orders"))

	m.FailPublish("orders", nil)
	publish(t, m, "orders", "a", "ok")
	assert.Len(t, m.Messages("orders"), 1)
}

func TestHeaderCarrierRoundTrip(t *testing.T) {
	c := HeaderCarrier{}
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())

	msg := Message{}
	InjectTrace(context.Background(), &msg)
	assert.NotNil(t, msg.Headers)
}
