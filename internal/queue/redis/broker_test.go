package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pressroom/internal/clock/system"
	"github.com/JakeFAU/pressroom/internal/queue"
)

func newBroker(t *testing.T, clock *system.Manual) (*Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, Config{Prefix: "test:", PollTimeout: time.Second, Clock: clock}), mr
}

func TestBrokerFIFOPerLane(t *testing.T) {
	t.Parallel()
	b, mr := newBroker(t, system.NewManual(time.Now()))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, b.Enqueue(ctx, queue.Task{ID: id, Kind: "extract-page", Lane: queue.LaneProcess, Payload: json.RawMessage(`{"page_id":1}`)}))
	}
	require.True(t, mr.Exists("test:queue:process"))

	n, err := b.Len(ctx, queue.LaneProcess)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	first, err := b.Dequeue(ctx, queue.LaneProcess)
	require.NoError(t, err)
	require.Equal(t, "a", first.ID)
	require.JSONEq(t, `{"page_id":1}`, string(first.Payload))

	second, err := b.Dequeue(ctx, queue.LaneProcess)
	require.NoError(t, err)
	require.Equal(t, "b", second.ID)
}

func TestBrokerPromotesDueTasks(t *testing.T) {
	t.Parallel()
	clock := system.NewManual(time.Now())
	b, _ := newBroker(t, clock)
	ctx := context.Background()

	require.NoError(t, b.EnqueueAt(ctx, queue.Task{ID: "later", Lane: queue.LaneEmbed, Attempt: 2}, clock.Now().Add(time.Minute)))
	delayed, err := b.Delayed(ctx, queue.LaneEmbed)
	require.NoError(t, err)
	require.Equal(t, 1, delayed)

	require.NoError(t, b.promote(ctx, queue.LaneEmbed))
	n, err := b.Len(ctx, queue.LaneEmbed)
	require.NoError(t, err)
	require.Zero(t, n)

	clock.Advance(2 * time.Minute)
	got, err := b.Dequeue(ctx, queue.LaneEmbed)
	require.NoError(t, err)
	require.Equal(t, "later", got.ID)
	require.Equal(t, 2, got.Attempt)

	delayed, err = b.Delayed(ctx, queue.LaneEmbed)
	require.NoError(t, err)
	require.Zero(t, delayed)
}

func TestBrokerDequeueHonorsContext(t *testing.T) {
	t.Parallel()
	b, _ := newBroker(t, system.NewManual(time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := b.Dequeue(ctx, queue.LaneIndex)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBrokerClose(t *testing.T) {
	t.Parallel()
	b, _ := newBroker(t, system.NewManual(time.Now()))

	require.NoError(t, b.Close())
	require.ErrorIs(t, b.Enqueue(context.Background(), queue.Task{Lane: queue.LaneCrawl}), queue.ErrClosed)
	_, err := b.Dequeue(context.Background(), queue.LaneCrawl)
	require.ErrorIs(t, err, queue.ErrClosed)
}
