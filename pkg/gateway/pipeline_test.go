package gateway_test

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/aegis-labs/aegis-firewall/pkg/gateway"
	"github.com/aegis-labs/aegis-firewall/pkg/identity"
	"github.com/aegis-labs/aegis-firewall/pkg/ledger"
	"github.com/aegis-labs/aegis-firewall/pkg/policy"
	"github.com/aegis-labs/aegis-firewall/pkg/queue"
	"github.com/aegis-labs/aegis-firewall/pkg/rpctypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	pol *policy.Policy
	err error
}

func (f *fakeRegistry) ReadPolicy(ctx context.Context, user, agent string) (*policy.Policy, error) {
	return f.pol, f.err
}

type fakeForwarder struct {
	body []byte
	err  error
}

func (f *fakeForwarder) Forward(ctx context.Context, req rpctypes.Request) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

func successResult(hash string) []byte {
	return []byte(`{"jsonrpc":"2.0","id":1,"result":"` + hash + `"}`)
}

func newPipeline(t *testing.T, pol *policy.Policy, fwd []byte) (*gateway.Pipeline, ledger.Ledger, queue.Queue) {
	t.Helper()
	l := ledger.NewMemoryLedger()
	q := queue.NewMemoryQueue()
	p := &gateway.Pipeline{
		Policy:   policy.NewClient(&fakeRegistry{pol: pol}),
		Ledger:   l,
		Queue:    q,
		Forward:  &fakeForwarder{body: fwd},
		Defaults: identity.Defaults{User: "default-user", Agent: "default-agent"},
	}
	return p, l, q
}

func sendTxRequest(from string, valueHex string) rpctypes.Request {
	params := json.RawMessage(`[{"from":"` + from + `","to":"0xbbb","value":"` + valueHex + `"}]`)
	return rpctypes.Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: rpctypes.MethodSendTransaction, Params: params}
}

func TestEvaluate_AdmitsWithinLimit(t *testing.T) {
	pol := &policy.Policy{Exists: true, IsActive: true, DailyLimit: big.NewInt(1_000_000)}
	hash := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	p, _, q := newPipeline(t, pol, successResult(hash))

	resp := p.Evaluate(context.Background(), sendTxRequest("0xuser1", "0x64"), false, identity.Headers{})
	require.Nil(t, resp.Error)

	recs, err := q.DrainPending(context.Background(), "0xuser1", "default-agent", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "100", recs[0].AmountWei)
}

func TestEvaluate_RejectsNoPolicy(t *testing.T) {
	pol := &policy.Policy{Exists: false}
	p, _, _ := newPipeline(t, pol, nil)

	resp := p.Evaluate(context.Background(), sendTxRequest("0xuser1", "0x64"), false, identity.Headers{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32001, resp.Error.Code)
}

func TestEvaluate_RejectsKillSwitch(t *testing.T) {
	pol := &policy.Policy{Exists: true, IsActive: false, DailyLimit: big.NewInt(1_000_000)}
	p, _, _ := newPipeline(t, pol, nil)

	resp := p.Evaluate(context.Background(), sendTxRequest("0xuser1", "0x64"), false, identity.Headers{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32001, resp.Error.Code)
}

func TestEvaluate_RejectsOverLimitAndDoesNotReserve(t *testing.T) {
	pol := &policy.Policy{Exists: true, IsActive: true, DailyLimit: big.NewInt(100)}
	p, l, _ := newPipeline(t, pol, nil)

	resp := p.Evaluate(context.Background(), sendTxRequest("0xuser1", "0x65"), false, identity.Headers{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32001, resp.Error.Code)

	current, err := l.Peek(context.Background(), "0xuser1", "default-agent")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), current)
}

func TestEvaluate_RollsBackOnForwardFailure(t *testing.T) {
	pol := &policy.Policy{Exists: true, IsActive: true, DailyLimit: big.NewInt(1_000_000)}
	l := ledger.NewMemoryLedger()
	q := queue.NewMemoryQueue()
	p := &gateway.Pipeline{
		Policy:   policy.NewClient(&fakeRegistry{pol: pol}),
		Ledger:   l,
		Queue:    q,
		Forward:  &fakeForwarder{err: assertErr{}},
		Defaults: identity.Defaults{User: "default-user", Agent: "default-agent"},
	}

	resp := p.Evaluate(context.Background(), sendTxRequest("0xuser1", "0x64"), false, identity.Headers{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32003, resp.Error.Code)

	current, err := l.Peek(context.Background(), "0xuser1", "default-agent")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), current)
}

func TestEvaluate_RollsBackOnUpstreamRPCError(t *testing.T) {
	pol := &policy.Policy{Exists: true, IsActive: true, DailyLimit: big.NewInt(1_000_000)}
	errBody := []byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"insufficient funds"}}`)
	p, l, _ := newPipeline(t, pol, errBody)

	resp := p.Evaluate(context.Background(), sendTxRequest("0xuser1", "0x64"), false, identity.Headers{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "insufficient funds", resp.Error.Message)

	current, err := l.Peek(context.Background(), "0xuser1", "default-agent")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), current)
}

func TestEvaluate_ForwardsZeroValueTransparently(t *testing.T) {
	pol := &policy.Policy{Exists: true, IsActive: true, DailyLimit: big.NewInt(1_000_000)}
	p, l, _ := newPipeline(t, pol, successResult("0xcafecafecafecafecafecafecafecafecafecafecafecafecafecafecafeca"))

	resp := p.Evaluate(context.Background(), sendTxRequest("0xuser1", "0x0"), false, identity.Headers{})
	require.Nil(t, resp.Error)

	current, err := l.Peek(context.Background(), "0xuser1", "default-agent")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), current)
}

func TestEvaluate_ForwardsNonInterceptedMethodTransparently(t *testing.T) {
	pol := &policy.Policy{Exists: true, IsActive: true, DailyLimit: big.NewInt(1_000_000)}
	p, _, _ := newPipeline(t, pol, []byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))

	req := rpctypes.Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "eth_blockNumber"}
	resp := p.Evaluate(context.Background(), req, false, identity.Headers{})
	require.Nil(t, resp.Error)
}

func TestEvaluate_NonInterceptedResponseIsByteEquivalentToUpstream(t *testing.T) {
	pol := &policy.Policy{Exists: true, IsActive: true, DailyLimit: big.NewInt(1_000_000)}
	// Unusual key order and an extra top-level field: a naive
	// unmarshal-into-Response-then-remarshal would normalize this away.
	upstream := []byte(`{"id":1,"jsonrpc":"2.0","result":"0x1","extra":"upstream-specific-field"}`)
	p, _, _ := newPipeline(t, pol, upstream)

	req := rpctypes.Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "eth_blockNumber"}
	resp := p.Evaluate(context.Background(), req, false, identity.Headers{})

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, string(upstream), string(out))
	assert.Equal(t, upstream, []byte(out), "response must round-trip byte-for-byte, not just field-equivalently")
}

func TestEvaluate_RejectsMalformedRequest(t *testing.T) {
	p, _, _ := newPipeline(t, nil, nil)

	req := rpctypes.Request{JSONRPC: "2.0", ID: json.RawMessage("1")}
	resp := p.Evaluate(context.Background(), req, true, identity.Headers{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32600, resp.Error.Code)
}

type assertErr struct{}

func (assertErr) Error() string { return "connection refused" }
