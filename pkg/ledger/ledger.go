// Package ledger implements the off-chain daily spend reservation store:
// an atomic day-bucketed increment/decrement on a shared key/value
// store, the "spend ledger".
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/aegis-labs/aegis-firewall/pkg/aerr"
)

// TTL is the expiry refreshed on every successful commit. A day bucket
// outlives its own day so cross-day forensics remain possible.
const TTL = 72 * time.Hour

// MaxRetries bounds the CAS loop.
const MaxRetries = 6

// Key returns the namespaced ledger key for one (user, agent, day) bucket.
func Key(user, agent string, day string) string {
	return fmt.Sprintf("spend:{user:%s:agent:%s}:%s", strings.ToLower(user), strings.ToLower(agent), day)
}

// UTCDay formats t as the yyyy-mm-dd bucket boundary (00:00 UTC rollover).
func UTCDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Ledger is the Reservation Store's interface. Two implementations back
// it: Memory (tests, single-process demos) and Redis (true cross-process
// optimistic concurrency).
type Ledger interface {
	// Reserve admits amount against dailyLimit for (user, agent) on the
	// current UTC day bucket. Returns the new committed value on success.
	Reserve(ctx context.Context, user, agent string, amount, dailyLimit *big.Int) (*big.Int, error)
	// Rollback subtracts amount from the current bucket, clamped at zero.
	Rollback(ctx context.Context, user, agent string, amount *big.Int) (*big.Int, error)
	// Peek returns the current committed value without mutating it.
	Peek(ctx context.Context, user, agent string) (*big.Int, error)
}

// computeReserve applies the admission check the CAS loop must enforce
// atomically: it is not itself CAS-safe and must only be called from
// within a backend's own compare-and-swap retry loop.
func computeReserve(current, amount, dailyLimit *big.Int) (*big.Int, error) {
	next := new(big.Int).Add(current, amount)
	if next.Cmp(dailyLimit) > 0 {
		return nil, aerr.New(aerr.LimitExceeded, "reservation would exceed dailyLimit")
	}
	return next, nil
}

func computeRollback(current, amount *big.Int) *big.Int {
	next := new(big.Int).Sub(current, amount)
	if next.Sign() < 0 {
		return big.NewInt(0)
	}
	return next
}
