package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubBus_PublishSubscribe(t *testing.T) {
	b := NewStubBus()
	defer b.Close()

	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})

	sub, err := b.Subscribe(context.Background(), "feed:crypto:binance:BTC/USDT:ohlcv_1m", func(_ context.Context, m *Message) error {
		mu.Lock()
		got = m.Payload
		mu.Unlock()
		close(done)
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "feed:crypto:binance:BTC/USDT:ohlcv_1m", []byte("hello")))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("hello"), got)
}

func TestStubBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewStubBus()
	defer b.Close()

	calls := 0
	var mu sync.Mutex
	sub, err := b.Subscribe(context.Background(), "ch", func(_ context.Context, m *Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, b.Publish(context.Background(), "ch", []byte("x")))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}

func TestStubBus_ClosedRejectsOps(t *testing.T) {
	b := NewStubBus()
	require.NoError(t, b.Close())

	_, err := b.Subscribe(context.Background(), "ch", func(context.Context, *Message) error { return nil })
	assert.ErrorIs(t, err, ErrBusClosed)

	err = b.Publish(context.Background(), "ch", []byte("x"))
	assert.ErrorIs(t, err, ErrBusClosed)
}
