package ledger_test

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/aegis-labs/aegis-firewall/pkg/aerr"
	"github.com/aegis-labs/aegis-firewall/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedger_Reserve_AdmitsWithinLimit(t *testing.T) {
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	v, err := l.Reserve(ctx, "0xu", "0xa", big.NewInt(10), big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), v)

	v, err = l.Reserve(ctx, "0xu", "0xa", big.NewInt(90), big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), v)
}

func TestMemoryLedger_Reserve_ExactlyAtLimitAdmits(t *testing.T) {
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	_, err := l.Reserve(ctx, "0xu", "0xa", big.NewInt(99), big.NewInt(100))
	require.NoError(t, err)

	v, err := l.Reserve(ctx, "0xu", "0xa", big.NewInt(1), big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), v)
}

func TestMemoryLedger_Reserve_OneWeiOverRejects(t *testing.T) {
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	_, err := l.Reserve(ctx, "0xu", "0xa", big.NewInt(100), big.NewInt(100))
	require.NoError(t, err)

	_, err = l.Reserve(ctx, "0xu", "0xa", big.NewInt(1), big.NewInt(100))
	require.Error(t, err)
	fe, ok := aerr.As(err)
	require.True(t, ok)
	assert.Equal(t, aerr.LimitExceeded, fe.Kind)

	v, err := l.Peek(ctx, "0xu", "0xa")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), v, "rejected reserve must not mutate the ledger")
}

func TestMemoryLedger_Rollback_ReturnsToPreReserveValue(t *testing.T) {
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	_, err := l.Reserve(ctx, "0xu", "0xa", big.NewInt(40), big.NewInt(100))
	require.NoError(t, err)

	v, err := l.Rollback(ctx, "0xu", "0xa", big.NewInt(40))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), v)
}

func TestMemoryLedger_Rollback_ClampsAtZero(t *testing.T) {
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	_, err := l.Rollback(ctx, "0xu", "0xa", big.NewInt(40))
	require.NoError(t, err)
	_, err = l.Rollback(ctx, "0xu", "0xa", big.NewInt(40))
	require.NoError(t, err)

	v, err := l.Peek(ctx, "0xu", "0xa")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), v)
	assert.GreaterOrEqual(t, v.Sign(), 0)
}

func TestMemoryLedger_Reserve_ConcurrentCommitsNeverExceedLimit(t *testing.T) {
	l := ledger.NewMemoryLedger()
	ctx := context.Background()
	limit := big.NewInt(1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successSum int64

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.Reserve(ctx, "0xu", "0xa", big.NewInt(30), limit)
			if err == nil {
				mu.Lock()
				successSum += 30
				mu.Unlock()
				_ = v
			}
		}()
	}
	wg.Wait()

	final, err := l.Peek(ctx, "0xu", "0xa")
	require.NoError(t, err)
	assert.True(t, final.Cmp(limit) <= 0, "committed ledger value must never exceed dailyLimit")
	assert.Equal(t, big.NewInt(successSum), final)
}
