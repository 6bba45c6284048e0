// Package queue implements the per-(user, agent) pending and failed FIFO
// queues plus the processed-tx replay guard and the distributed
// anchor lock that all share the same key/value store as the
// ledger.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ProcessedTTL is the replay-guard marker lifetime.
const ProcessedTTL = 7 * 24 * time.Hour

// AnchorLockTTL is the distributed singleton-scheduler lock lifetime.
const AnchorLockTTL = 2 * time.Minute

// AnchorLockKey is the fixed key name for the anchor worker's singleton lock.
const AnchorLockKey = "anchor:lock"

// Record is the shape shared by pending and failed queue entries.
type Record struct {
	TxHash      string `json:"txHash,omitempty"`
	User        string `json:"user"`
	Agent       string `json:"agent"`
	AmountWei   string `json:"amountWei"`
	TimestampMs int64  `json:"timestampMs"`
}

func (r Record) MarshalForQueue() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("queue: marshal record: %w", err)
	}
	return string(b), nil
}

func UnmarshalRecord(raw string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Record{}, fmt.Errorf("queue: unmarshal record: %w", err)
	}
	return r, nil
}

// PendingKey returns the per-(user, agent) pending list key.
func PendingKey(user, agent string) string {
	return fmt.Sprintf("pending:{user:%s:agent:%s}", strings.ToLower(user), strings.ToLower(agent))
}

// FailedKey returns the per-(user, agent) failed list key.
func FailedKey(user, agent string) string {
	return fmt.Sprintf("failed:{user:%s:agent:%s}", strings.ToLower(user), strings.ToLower(agent))
}

// ProcessedKey returns the replay-guard marker key for one tx hash within
// a pending queue's namespace.
func ProcessedKey(user, agent, txHash string) string {
	return fmt.Sprintf("%s:processed:%s", PendingKey(user, agent), strings.ToLower(txHash))
}

// Queue is the Pending/Failed Queue's interface. Push is an
// LPUSH-equivalent; Drain pops up to max records RPOP-style (oldest
// first). ScanPendingKeys cursor-paginates every pending:* key for the
// anchor worker's iteration.
type Queue interface {
	PushPending(ctx context.Context, user, agent string, rec Record) error
	PushFailed(ctx context.Context, user, agent string, rec Record) error
	DrainPending(ctx context.Context, user, agent string, max int) ([]Record, error)
	// DrainOne pops a single oldest pending record (RPOP), reporting
	// ok=false when the queue is empty. The anchor worker pops one
	// record at a time through this rather than batch-draining so that
	// stopping mid-batch (a submission failure, or one-shot's
	// stop-after-first-success) leaves every not-yet-examined record
	// still queued instead of discarding it.
	DrainOne(ctx context.Context, user, agent string) (rec Record, ok bool, err error)
	ScanPendingKeys(ctx context.Context) ([]string, error)

	MarkProcessed(ctx context.Context, user, agent, txHash string) error
	IsProcessed(ctx context.Context, user, agent, txHash string) (bool, error)

	// AcquireAnchorLock attempts to take the singleton anchoring lock.
	// Returns false, nil if another instance currently holds it.
	AcquireAnchorLock(ctx context.Context) (bool, error)
	ReleaseAnchorLock(ctx context.Context) error
}

// ParseUserAgent recovers (user, agent) from a pending:{user:<u>:agent:<a>}
// key, parsing the key template and rejecting malformed keys with ok=false.
func ParseUserAgent(pendingKey string) (user, agent string, ok bool) {
	const prefix = "pending:{user:"
	const mid = ":agent:"
	const suffix = "}"

	if !strings.HasPrefix(pendingKey, prefix) || !strings.HasSuffix(pendingKey, suffix) {
		return "", "", false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(pendingKey, prefix), suffix)
	idx := strings.Index(body, mid)
	if idx < 0 {
		return "", "", false
	}
	user = body[:idx]
	agent = body[idx+len(mid):]
	if user == "" || agent == "" {
		return "", "", false
	}
	return user, agent, true
}
