package queue

import (
	"context"
	"sync"
	"time"
)

type processedEntry struct {
	expiresAt time.Time
}

// MemoryQueue is a single-process Queue backed by mutex-guarded slices,
// for tests and single-instance demos (mirrors MemoryLedger's shape).
type MemoryQueue struct {
	mu        sync.Mutex
	pending   map[string][]Record
	failed    map[string][]Record
	processed map[string]processedEntry
	lockUntil time.Time
	now       func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending:   make(map[string][]Record),
		failed:    make(map[string][]Record),
		processed: make(map[string]processedEntry),
		now:       time.Now,
	}
}

func (q *MemoryQueue) PushPending(ctx context.Context, user, agent string, rec Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := PendingKey(user, agent)
	q.pending[key] = append(q.pending[key], rec)
	return nil
}

func (q *MemoryQueue) PushFailed(ctx context.Context, user, agent string, rec Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := FailedKey(user, agent)
	q.failed[key] = append(q.failed[key], rec)
	return nil
}

// DrainPending pops up to max oldest-first records (FIFO, matching an
// LPUSH/RPOP pairing where push prepends and drain pops from the tail —
// the oldest push is popped first).
func (q *MemoryQueue) DrainPending(ctx context.Context, user, agent string, max int) ([]Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := PendingKey(user, agent)
	list := q.pending[key]
	if len(list) == 0 {
		return nil, nil
	}
	if max > len(list) {
		max = len(list)
	}

	// list is append-ordered (oldest first == index 0, matching LPUSH
	// semantics where the newest entry sits at the head and RPOP removes
	// from the tail, i.e. oldest first).
	popped := make([]Record, max)
	copy(popped, list[:max])
	q.pending[key] = list[max:]
	return popped, nil
}

// DrainOne pops the single oldest pending record, or ok=false if the
// queue is empty.
func (q *MemoryQueue) DrainOne(ctx context.Context, user, agent string) (Record, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := PendingKey(user, agent)
	list := q.pending[key]
	if len(list) == 0 {
		return Record{}, false, nil
	}
	rec := list[0]
	q.pending[key] = list[1:]
	return rec, true, nil
}

func (q *MemoryQueue) ScanPendingKeys(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]string, 0, len(q.pending))
	for k, v := range q.pending {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (q *MemoryQueue) MarkProcessed(ctx context.Context, user, agent, txHash string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processed[ProcessedKey(user, agent, txHash)] = processedEntry{expiresAt: q.now().Add(ProcessedTTL)}
	return nil
}

func (q *MemoryQueue) IsProcessed(ctx context.Context, user, agent, txHash string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.processed[ProcessedKey(user, agent, txHash)]
	if !ok || q.now().After(e.expiresAt) {
		return false, nil
	}
	return true, nil
}

func (q *MemoryQueue) AcquireAnchorLock(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	if now.Before(q.lockUntil) {
		return false, nil
	}
	q.lockUntil = now.Add(AnchorLockTTL)
	return true, nil
}

func (q *MemoryQueue) ReleaseAnchorLock(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lockUntil = time.Time{}
	return nil
}
