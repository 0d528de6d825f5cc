package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan *LocalMessage) *LocalMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message")
		return nil
	}
}

func TestPubSub_FanOutAcrossChannels(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	all, cancelAll, err := ps.Subscribe(ctx, "resets", "encounters")
	require.NoError(t, err)
	defer cancelAll()
	resets, cancelResets, err := ps.Subscribe(ctx, "resets")
	require.NoError(t, err)
	defer cancelResets()

	require.NoError(t, ps.Publish(ctx, "encounters", `{"animal_id":"a1"}`))
	require.NoError(t, ps.Publish(ctx, "resets", `{"kind":"captures"}`))

	msg := recv(t, all)
	assert.Equal(t, "encounters", msg.Channel)
	msg = recv(t, all)
	assert.Equal(t, "resets", msg.Channel)
	assert.Equal(t, `{"kind":"captures"}`, msg.Payload)

	msg = recv(t, resets)
	assert.Equal(t, "resets", msg.Channel)
	assert.Empty(t, resets)
}

func TestPubSub_CancelClosesSubscription(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "resets")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription left open")
	}
	assert.NoError(t, ps.Publish(ctx, "resets", "nobody listening"))
	assert.Zero(t, ps.Dropped())
}

func TestPubSubCancelTwice(t *testing.T) {
	ps := NewPubSub(4)
	_, cancel, err := ps.Subscribe(context.Background(), "a", "b")
	require.NoError(t, err)
	cancel()
	cancel() // must not panic on double close
	assert.NoError(t, ps.Publish(context.Background(), "a", "x"))
}

func TestPubSubDropsWhenFull(t *testing.T) {
	ps := NewPubSub(1)
	ctx := context.Background()
	_, cancel, _ := ps.Subscribe(ctx, "resets")
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "resets", "1"))
	require.NoError(t, ps.Publish(ctx, "resets", "2"))
	assert.Equal(t, int64(1), ps.Dropped())
}
