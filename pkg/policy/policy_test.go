package policy_test

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aegis-labs/aegis-firewall/pkg/aerr"
	"github.com/aegis-labs/aegis-firewall/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRegistry struct {
	calls int64
	p     *policy.Policy
	err   error
}

func (r *countingRegistry) ReadPolicy(ctx context.Context, user, agent string) (*policy.Policy, error) {
	atomic.AddInt64(&r.calls, 1)
	if r.err != nil {
		return nil, r.err
	}
	cp := *r.p
	return &cp, nil
}

func TestClient_Load_CachesWithinTTL(t *testing.T) {
	reg := &countingRegistry{p: &policy.Policy{
		User: "0xuser", Agent: "0xagent",
		DailyLimit: big.NewInt(100), CurrentSpendOnChain: big.NewInt(0),
		IsActive: true, Exists: true,
	}}
	c := policy.NewClient(reg)

	p1, err := c.Load(context.Background(), "0xuser", "0xagent")
	require.NoError(t, err)
	p2, err := c.Load(context.Background(), "0xuser", "0xagent")
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.EqualValues(t, 1, atomic.LoadInt64(&reg.calls))
}

func TestClient_Load_RefreshesAfterTTL(t *testing.T) {
	reg := &countingRegistry{p: &policy.Policy{
		User: "0xuser", Agent: "0xagent",
		DailyLimit: big.NewInt(100), CurrentSpendOnChain: big.NewInt(0),
		IsActive: true, Exists: true,
	}}
	c := policy.NewClient(reg)

	_, err := c.Load(context.Background(), "0xuser", "0xagent")
	require.NoError(t, err)

	time.Sleep(policy.CacheTTL + 50*time.Millisecond)

	_, err = c.Load(context.Background(), "0xuser", "0xagent")
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt64(&reg.calls))
}

func TestClient_Load_CoalescesConcurrentMisses(t *testing.T) {
	reg := &countingRegistry{p: &policy.Policy{
		User: "0xuser", Agent: "0xagent",
		DailyLimit: big.NewInt(100), CurrentSpendOnChain: big.NewInt(0),
		IsActive: true, Exists: true,
	}}
	c := policy.NewClient(reg)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Load(context.Background(), "0xuser", "0xagent")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&reg.calls), int64(2))
}

func TestClient_Load_WrapsRegistryErrorAsPolicyRead(t *testing.T) {
	reg := &countingRegistry{err: assertErr{"view reverted"}}
	c := policy.NewClient(reg)

	_, err := c.Load(context.Background(), "0xuser", "0xagent")
	require.Error(t, err)

	fe, ok := aerr.As(err)
	require.True(t, ok)
	assert.Equal(t, aerr.PolicyRead, fe.Kind)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
