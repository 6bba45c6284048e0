// Package gateway implements the RPC Gateway's per-request state machine:
// parse, classify, run the policy pipeline for intercepted value-bearing
// methods, forward transparently otherwise.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/aegis-labs/aegis-firewall/pkg/aerr"
	"github.com/aegis-labs/aegis-firewall/pkg/identity"
	"github.com/aegis-labs/aegis-firewall/pkg/ledger"
	"github.com/aegis-labs/aegis-firewall/pkg/metrics"
	"github.com/aegis-labs/aegis-firewall/pkg/policy"
	"github.com/aegis-labs/aegis-firewall/pkg/queue"
	"github.com/aegis-labs/aegis-firewall/pkg/rpctypes"
	"github.com/aegis-labs/aegis-firewall/pkg/txparse"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Forwarder sends one JSON-RPC request upstream and returns the raw
// response body verbatim, or a transport-level error (connection refused,
// timeout, any 5xx status, unreadable body) distinct from an RPC-level error
// object embedded in the response body.
type Forwarder interface {
	Forward(ctx context.Context, req rpctypes.Request) (json.RawMessage, error)
}

// AuditLogger receives one Decision per policy-pipeline evaluation.
type AuditLogger interface {
	Record(d Decision)
}

// Pipeline composes the Policy Client, Reservation Store, Pending Queue
// and Forwarder exactly as §2's dataflow describes: RPC Gateway composes
// Policy Client -> Reservation Store -> Upstream Forwarder -> Pending Queue.
type Pipeline struct {
	Policy    *policy.Client
	Ledger    ledger.Ledger
	Queue     queue.Queue
	Forward   Forwarder
	Defaults  identity.Defaults
	Logger    *slog.Logger
	AuditSink AuditLogger
	Metrics   *metrics.Metrics
}

// Evaluate runs one JSON-RPC request through the full contract described
// in §4.1 and returns the response to send back to the caller.
func (p *Pipeline) Evaluate(ctx context.Context, req rpctypes.Request, malformed bool, headers identity.Headers) *rpctypes.Response {
	start := time.Now()

	if malformed {
		p.log("", "", req.Method, nil, "rejected", string(aerr.MalformedRequest), time.Since(start))
		return rpctypes.NewErrorResponse(req.ID, aerr.MalformedRequest.RPCCode(), "Aegis: "+string(aerr.MalformedRequest), "missing or empty method")
	}

	if !rpctypes.IsIntercepted(req.Method) {
		return p.forwardTransparently(ctx, req)
	}

	parsed, err := p.parseTx(req)
	if err != nil {
		p.log("", "", req.Method, nil, "rejected", string(aerr.ParseFailure), time.Since(start))
		return rpctypes.NewErrorResponse(req.ID, aerr.ParseFailure.RPCCode(), "Aegis: "+string(aerr.ParseFailure), err.Error())
	}

	if parsed.ValueWei.Sign() == 0 {
		return p.forwardTransparently(ctx, req)
	}

	user, agent := identity.Resolve(headers, identity.Tx{From: parsed.From}, p.Defaults)

	return p.runPolicyPipeline(ctx, req, user, agent, parsed, start)
}

func (p *Pipeline) runPolicyPipeline(ctx context.Context, req rpctypes.Request, user, agent string, parsed *txparse.Parsed, start time.Time) *rpctypes.Response {
	pol, err := p.Policy.Load(ctx, user, agent)
	if err != nil {
		p.log(user, agent, req.Method, parsed.ValueWei, "rejected", string(aerr.PolicyRead), time.Since(start))
		return rpctypes.NewErrorResponse(req.ID, aerr.PolicyRead.RPCCode(), "Aegis: "+string(aerr.PolicyRead), err.Error())
	}

	if !pol.Exists {
		p.log(user, agent, req.Method, parsed.ValueWei, "rejected", string(aerr.NoPolicy), time.Since(start))
		return rpctypes.NewErrorResponse(req.ID, aerr.NoPolicy.RPCCode(), "Aegis: "+string(aerr.NoPolicy), "no policy registered for this (user, agent) pair")
	}
	if !pol.IsActive {
		p.log(user, agent, req.Method, parsed.ValueWei, "rejected", string(aerr.KillSwitch), time.Since(start))
		return rpctypes.NewErrorResponse(req.ID, aerr.KillSwitch.RPCCode(), "Aegis: "+string(aerr.KillSwitch), "agent is kill-switched")
	}

	_, err = p.Ledger.Reserve(ctx, user, agent, parsed.ValueWei, pol.DailyLimit)
	if err != nil {
		fe, ok := aerr.As(err)
		kind := aerr.ReserveFailed
		if ok {
			kind = fe.Kind
		}
		if kind == aerr.LimitExceeded {
			p.log(user, agent, req.Method, parsed.ValueWei, "rejected", string(aerr.LimitExceeded), time.Since(start))
			return rpctypes.NewErrorResponse(req.ID, aerr.LimitExceeded.RPCCode(), "Aegis: "+string(aerr.LimitExceeded), "daily spend limit exceeded")
		}
		p.log(user, agent, req.Method, parsed.ValueWei, "rejected", string(aerr.ReserveFailed), time.Since(start))
		return rpctypes.NewErrorResponse(req.ID, aerr.ReserveFailed.RPCCode(), "Aegis: "+string(aerr.ReserveFailed), "RESERVE_FAILED_RETRIES")
	}

	body, fwdErr := p.Forward.Forward(ctx, req)
	if fwdErr != nil {
		p.rollback(ctx, user, agent, parsed.ValueWei)
		p.log(user, agent, req.Method, parsed.ValueWei, "rejected", string(aerr.ForwardFailed), time.Since(start))
		return rpctypes.NewErrorResponse(req.ID, aerr.ForwardFailed.RPCCode(), "Aegis: "+string(aerr.ForwardFailed), fwdErr.Error())
	}

	var upstream rpctypes.Response
	if err := json.Unmarshal(body, &upstream); err != nil {
		p.rollback(ctx, user, agent, parsed.ValueWei)
		p.log(user, agent, req.Method, parsed.ValueWei, "rejected", string(aerr.ForwardFailed), time.Since(start))
		return rpctypes.NewErrorResponse(req.ID, aerr.ForwardFailed.RPCCode(), "Aegis: "+string(aerr.ForwardFailed), "upstream response was not valid JSON-RPC")
	}

	if upstream.Error != nil {
		p.rollback(ctx, user, agent, parsed.ValueWei)
		p.log(user, agent, req.Method, parsed.ValueWei, "rejected", string(aerr.UpstreamError), time.Since(start))
		upstream.ID = req.ID
		return &upstream
	}

	txHash := parsed.TxHashHex
	if txHash == "" {
		txHash = txparse.ExtractTxHash(upstream.Result)
	}
	rec := queue.Record{
		TxHash:      txHash,
		User:        user,
		Agent:       agent,
		AmountWei:   parsed.ValueWei.String(),
		TimestampMs: time.Now().UnixMilli(),
	}
	if err := p.Queue.PushPending(ctx, user, agent, rec); err != nil {
		p.log(user, agent, req.Method, parsed.ValueWei, "admitted", "queue push failed: "+err.Error(), time.Since(start))
	} else {
		p.log(user, agent, req.Method, parsed.ValueWei, "admitted", "", time.Since(start))
	}

	upstream.ID = req.ID
	return &upstream
}

func (p *Pipeline) rollback(ctx context.Context, user, agent string, amount *big.Int) {
	if _, err := p.Ledger.Rollback(ctx, user, agent, amount); err != nil && p.Logger != nil {
		p.Logger.Error("ledger rollback failed", "user", user, "agent", agent, "amount_wei", amount.String(), "error", err)
	}
}

// forwardTransparently returns the upstream response byte-for-byte: a
// non-intercepted method never needs the body inspected, so
// unmarshal-then-remarshal (which can reorder keys or drop fields the
// Response struct doesn't know about) would risk breaking the
// byte-equivalent round-trip this path promises.
func (p *Pipeline) forwardTransparently(ctx context.Context, req rpctypes.Request) *rpctypes.Response {
	body, err := p.Forward.Forward(ctx, req)
	if err != nil {
		return rpctypes.NewErrorResponse(req.ID, aerr.ForwardFailed.RPCCode(), "Aegis: "+string(aerr.ForwardFailed), err.Error())
	}
	if !json.Valid(body) {
		return rpctypes.NewErrorResponse(req.ID, aerr.ForwardFailed.RPCCode(), "Aegis: "+string(aerr.ForwardFailed), "upstream response was not valid JSON-RPC")
	}
	return &rpctypes.Response{Raw: json.RawMessage(body)}
}

func (p *Pipeline) parseTx(req rpctypes.Request) (*txparse.Parsed, error) {
	switch req.Method {
	case rpctypes.MethodSendTransaction:
		return txparse.ParseStructured(req.Params)
	case rpctypes.MethodSendRawTransaction:
		return txparse.ParseRaw(req.Params)
	default:
		return nil, fmt.Errorf("gateway: unexpected intercepted method %q", req.Method)
	}
}

func (p *Pipeline) log(user, agent, method string, value *big.Int, outcome, kind string, dur time.Duration) {
	if p.Logger != nil {
		valStr := "0"
		if value != nil {
			valStr = value.String()
		}
		p.Logger.Info("admission decision",
			"user", user, "agent", agent, "method", method,
			"value_wei", valStr, "outcome", outcome, "kind", kind,
			"duration_ms", dur.Milliseconds())
	}
	if p.AuditSink != nil {
		p.AuditSink.Record(*newDecision(user, agent, method, value, outcome, kind, dur))
	}
	if p.Metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("kind", kind),
		)
		p.Metrics.AdmissionDecisions.Add(context.Background(), 1, attrs)
		p.Metrics.ForwardLatency.Record(context.Background(), float64(dur.Milliseconds()), attrs)
	}
}
