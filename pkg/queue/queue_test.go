package queue_test

import (
	"context"
	"testing"

	"github.com/aegis-labs/aegis-firewall/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserAgent_RoundTripsPendingKey(t *testing.T) {
	key := queue.PendingKey("0xUser", "0xAgent")
	user, agent, ok := queue.ParseUserAgent(key)
	require.True(t, ok)
	assert.Equal(t, "0xuser", user)
	assert.Equal(t, "0xagent", agent)
}

func TestParseUserAgent_RejectsMalformedKey(t *testing.T) {
	_, _, ok := queue.ParseUserAgent("pending:not-the-right-shape")
	assert.False(t, ok)
}

func TestMemoryQueue_PushAndDrain_FIFO(t *testing.T) {
	q := queue.NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.PushPending(ctx, "0xu", "0xa", queue.Record{TxHash: "0x1", AmountWei: "10"}))
	require.NoError(t, q.PushPending(ctx, "0xu", "0xa", queue.Record{TxHash: "0x2", AmountWei: "20"}))

	recs, err := q.DrainPending(ctx, "0xu", "0xa", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "0x1", recs[0].TxHash, "drain must preserve FIFO order")
	assert.Equal(t, "0x2", recs[1].TxHash)
}

func TestMemoryQueue_DrainPending_RespectsMaxBatchSize(t *testing.T) {
	q := queue.NewMemoryQueue()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.PushPending(ctx, "0xu", "0xa", queue.Record{AmountWei: "1"}))
	}

	recs, err := q.DrainPending(ctx, "0xu", "0xa", 3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	remaining, err := q.DrainPending(ctx, "0xu", "0xa", 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestMemoryQueue_DrainOne_PopsOldestFirstAndReportsEmpty(t *testing.T) {
	q := queue.NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.PushPending(ctx, "0xu", "0xa", queue.Record{TxHash: "0x1", AmountWei: "10"}))
	require.NoError(t, q.PushPending(ctx, "0xu", "0xa", queue.Record{TxHash: "0x2", AmountWei: "20"}))

	rec, ok, err := q.DrainOne(ctx, "0xu", "0xa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0x1", rec.TxHash)

	rec, ok, err = q.DrainOne(ctx, "0xu", "0xa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0x2", rec.TxHash)

	_, ok, err = q.DrainOne(ctx, "0xu", "0xa")
	require.NoError(t, err)
	assert.False(t, ok, "draining an empty queue must report ok=false, not an error")
}

func TestMemoryQueue_ProcessedMarker_GuardsReplay(t *testing.T) {
	q := queue.NewMemoryQueue()
	ctx := context.Background()

	ok, err := q.IsProcessed(ctx, "0xu", "0xa", "0xabc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, q.MarkProcessed(ctx, "0xu", "0xa", "0xabc"))

	ok, err = q.IsProcessed(ctx, "0xu", "0xa", "0xabc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryQueue_AnchorLock_SingleHolder(t *testing.T) {
	q := queue.NewMemoryQueue()
	ctx := context.Background()

	acquired, err := q.AcquireAnchorLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = q.AcquireAnchorLock(ctx)
	require.NoError(t, err)
	assert.False(t, acquired, "a second instance must not observe the lock as free")

	require.NoError(t, q.ReleaseAnchorLock(ctx))

	acquired, err = q.AcquireAnchorLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestMemoryQueue_ScanPendingKeys_OnlyListsNonEmptyKeys(t *testing.T) {
	q := queue.NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.PushPending(ctx, "0xu1", "0xa1", queue.Record{}))
	keys, err := q.ScanPendingKeys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, queue.PendingKey("0xu1", "0xa1"))

	_, err = q.DrainPending(ctx, "0xu1", "0xa1", 10)
	require.NoError(t, err)

	keys, err = q.ScanPendingKeys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, queue.PendingKey("0xu1", "0xa1"))
}
