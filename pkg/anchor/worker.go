package anchor

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/aegis-labs/aegis-firewall/pkg/config"
	"github.com/aegis-labs/aegis-firewall/pkg/kernel/retry"
	"github.com/aegis-labs/aegis-firewall/pkg/metrics"
	"github.com/aegis-labs/aegis-firewall/pkg/queue"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// ErrLockHeld is returned by RunOnce when another instance currently
// holds the singleton anchor lock; it is not a
// failure of this iteration, just a no-op.
var ErrLockHeld = errors.New("anchor: lock held by another instance")

// recordSpendSubmitter is the narrow surface Worker depends on, so tests
// can substitute a fake instead of dialing a real chain. *Submitter is
// the production implementation.
type recordSpendSubmitter interface {
	SubmitAndWait(ctx context.Context, user, agent string, amount *big.Int, txHash string) (*types.Receipt, error)
}

// Worker drains the pending queues on a fixed period, submitting each
// record's recordSpend call and routing failures to the failed queue.
type Worker struct {
	Queue     queue.Queue
	Submitter recordSpendSubmitter
	BatchSize int
	Mode      config.AnchorMode
	Logger    *slog.Logger
	Metrics   *metrics.Metrics

	// RetryPolicy, when set, bounds a per-record retry-with-backoff
	// schedule around each recordSpend submission: a transient RPC
	// failure (node hiccup, nonce race) gets a few spaced-out retries
	// before the record is given up to the failed queue, instead of
	// failing the whole key on the first blip. Nil disables retries —
	// SubmitAndWait is attempted exactly once, matching a systemic
	// failure (chain-side limit revert) that no amount of retrying fixes.
	RetryPolicy *retry.BackoffPolicy

	// interKeyDelay separates per-key submission bursts; overridden by
	// tests to avoid slowing down the suite.
	interKeyDelay time.Duration
}

func NewWorker(q queue.Queue, sub recordSpendSubmitter, batchSize int, mode config.AnchorMode, logger *slog.Logger) *Worker {
	return &Worker{
		Queue:         q,
		Submitter:     sub,
		BatchSize:     batchSize,
		Mode:          mode,
		Logger:        logger,
		interKeyDelay: 50 * time.Millisecond,
	}
}

// RunOnce performs one full anchoring iteration: scan,
// parse, drain and submit, respecting one-shot vs continuous mode. It
// acquires the distributed singleton lock and releases it on return.
// It returns only the anchored count; RunOnceDetailed also returns the
// number of pending keys scanned (including malformed ones).
func (w *Worker) RunOnce(ctx context.Context) (anchored int, err error) {
	anchored, _, err = w.RunOnceDetailed(ctx)
	return anchored, err
}

// RunOnceDetailed is RunOnce plus the scanned-key count, for the admin
// one-shot anchor endpoint's `{processed, scanned, txs}` response shape.
func (w *Worker) RunOnceDetailed(ctx context.Context) (anchored, scanned int, err error) {
	acquired, err := w.Queue.AcquireAnchorLock(ctx)
	if err != nil {
		return 0, 0, err
	}
	if !acquired {
		if w.Logger != nil {
			w.Logger.Info("anchor: lock held elsewhere, skipping iteration")
		}
		return 0, 0, ErrLockHeld
	}
	defer func() {
		if relErr := w.Queue.ReleaseAnchorLock(ctx); relErr != nil && w.Logger != nil {
			w.Logger.Error("anchor: release lock failed", "error", relErr)
		}
	}()

	keys, err := w.Queue.ScanPendingKeys(ctx)
	if err != nil {
		return 0, 0, err
	}
	scanned = len(keys)

	for i, key := range keys {
		user, agent, ok := queue.ParseUserAgent(key)
		if !ok {
			if w.Logger != nil {
				w.Logger.Warn("anchor: malformed pending key, skipping", "key", key)
			}
			continue
		}

		n := w.drainKey(ctx, user, agent)
		anchored += n

		if w.Mode == config.AnchorModeOneShot && anchored > 0 {
			return anchored, scanned, nil
		}
		if i < len(keys)-1 {
			time.Sleep(w.interKeyDelay)
		}
	}

	return anchored, scanned, nil
}

// drainKey processes up to BatchSize records for one (user, agent),
// popping one record at a time so that stopping early — on a
// submission/mined-revert failure, or after the first successful anchor
// in one-shot mode — leaves every record this iteration hasn't examined
// yet still sitting in the pending queue rather than discarding it.
func (w *Worker) drainKey(ctx context.Context, user, agent string) int {
	anchored := 0

	for i := 0; i < w.BatchSize; i++ {
		rec, ok, err := w.Queue.DrainOne(ctx, user, agent)
		if err != nil {
			if w.Logger != nil {
				w.Logger.Error("anchor: drain failed", "user", user, "agent", agent, "error", err)
			}
			return anchored
		}
		if !ok {
			return anchored
		}

		if rec.TxHash == "" || !is32ByteHex(rec.TxHash) {
			w.pushFailed(ctx, user, agent, rec, "missing or malformed txHash")
			continue
		}

		processed, err := w.Queue.IsProcessed(ctx, user, agent, rec.TxHash)
		if err != nil {
			w.pushFailed(ctx, user, agent, rec, "processed-marker lookup failed: "+err.Error())
			continue
		}
		if processed {
			continue
		}

		amount, ok := parseDecimalWei(rec.AmountWei)
		if !ok {
			w.pushFailed(ctx, user, agent, rec, "malformed amountWei")
			continue
		}

		_, err = w.submitWithRetry(ctx, user, agent, amount, rec.TxHash)
		if err != nil {
			w.recordAttempt(ctx, "failed")
			w.pushFailed(ctx, user, agent, rec, "recordSpend failed: "+err.Error())
			if w.Logger != nil {
				w.Logger.Warn("anchor: stopping drain for key after failure", "user", user, "agent", agent, "error", err)
			}
			return anchored
		}

		if err := w.Queue.MarkProcessed(ctx, user, agent, rec.TxHash); err != nil && w.Logger != nil {
			w.Logger.Error("anchor: mark processed failed", "txHash", rec.TxHash, "error", err)
		}
		w.recordAttempt(ctx, "anchored")
		anchored++

		if w.Mode == config.AnchorModeOneShot {
			return anchored
		}
	}

	return anchored
}

// submitWithRetry attempts one recordSpend submission, or, when
// RetryPolicy is set, a deterministic backoff-spaced schedule of
// attempts generated by retry.GenerateRetryPlan. It gives up and
// returns the last attempt's error once the plan is exhausted, or
// immediately on context cancellation.
func (w *Worker) submitWithRetry(ctx context.Context, user, agent string, amount *big.Int, txHash string) (*types.Receipt, error) {
	if w.RetryPolicy == nil {
		return w.Submitter.SubmitAndWait(ctx, user, agent, amount, txHash)
	}

	plan, err := retry.GenerateRetryPlan(retry.BackoffParams{
		PolicyID:    w.RetryPolicy.PolicyID,
		AdapterID:   "facilitator",
		EffectID:    txHash,
		EnvSnapHash: user + ":" + agent,
	}, *w.RetryPolicy, time.Now())
	if err != nil {
		return w.Submitter.SubmitAndWait(ctx, user, agent, amount, txHash)
	}

	var lastErr error
	for _, step := range plan.Schedule {
		if step.DelayMs > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(step.DelayMs) * time.Millisecond):
			}
		}

		receipt, submitErr := w.Submitter.SubmitAndWait(ctx, user, agent, amount, txHash)
		if submitErr == nil {
			return receipt, nil
		}
		lastErr = submitErr
		if w.Logger != nil {
			w.Logger.Warn("anchor: submission attempt failed, retrying per plan",
				"txHash", txHash, "attempt", step.AttemptIndex, "error", submitErr)
		}
	}
	return nil, lastErr
}

func (w *Worker) recordAttempt(ctx context.Context, outcome string) {
	if w.Metrics == nil {
		return
	}
	w.Metrics.AnchorAttempts.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
}

func (w *Worker) pushFailed(ctx context.Context, user, agent string, rec queue.Record, reason string) {
	if err := w.Queue.PushFailed(ctx, user, agent, rec); err != nil && w.Logger != nil {
		w.Logger.Error("anchor: push to failed queue failed", "error", err)
	} else if w.Metrics != nil {
		w.Metrics.FailedQueueDepth.Add(ctx, 1)
	}
	if w.Logger != nil {
		w.Logger.Warn("anchor: record failed", "user", user, "agent", agent, "txHash", rec.TxHash, "reason", reason)
	}
}

// Run drives RunOnce on a fixed ticker until ctx is cancelled (continuous
// mode). Callers in one-shot mode should call RunOnce directly instead.
func (w *Worker) Run(ctx context.Context, epoch time.Duration) {
	ticker := time.NewTicker(epoch)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, ErrLockHeld) && w.Logger != nil {
				w.Logger.Error("anchor: iteration failed", "error", err)
			}
		}
	}
}
