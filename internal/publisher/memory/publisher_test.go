package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "crawl.completed", map[string]int{"stored": 3})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "journalist.changed", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "crawl.completed", msgs[0].Event)
	require.Equal(t, []any{"payload"}, pub.ByEvent("journalist.changed"))

	msgs[0].Event = "modified"
	require.Equal(t, "crawl.completed", pub.Messages()[0].Event, "Messages() returns a copy")
}
