package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"
)

type bucket struct {
	value     *big.Int
	expiresAt time.Time
}

// MemoryLedger is a single-process Ledger backed by a mutex-guarded map.
// CAS is trivially linearizable under the mutex, so each operation is a
// single locked step with no retry loop; the package's property tests run
// against this backend (grounded in pkg/budget.MemoryStorage's copy-on-read
// pattern, generalized from a single-counter budget to day-bucketed
// big.Int reservations).
type MemoryLedger struct {
	mu      sync.Mutex
	buckets map[string]bucket
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		buckets: make(map[string]bucket),
		now:     time.Now,
	}
}

func (m *MemoryLedger) key(user, agent string) string {
	return Key(user, agent, UTCDay(m.now()))
}

func (m *MemoryLedger) read(key string) *big.Int {
	b, ok := m.buckets[key]
	if !ok || m.now().After(b.expiresAt) {
		return big.NewInt(0)
	}
	return new(big.Int).Set(b.value)
}

func (m *MemoryLedger) Reserve(ctx context.Context, user, agent string, amount, dailyLimit *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.key(user, agent)
	current := m.read(key)
	next, err := computeReserve(current, amount, dailyLimit)
	if err != nil {
		return nil, err
	}
	m.buckets[key] = bucket{value: next, expiresAt: m.now().Add(TTL)}
	return new(big.Int).Set(next), nil
}

func (m *MemoryLedger) Rollback(ctx context.Context, user, agent string, amount *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.key(user, agent)
	current := m.read(key)
	next := computeRollback(current, amount)
	m.buckets[key] = bucket{value: next, expiresAt: m.now().Add(TTL)}
	return new(big.Int).Set(next), nil
}

// Ping always succeeds: there is no external process to lose contact with.
func (m *MemoryLedger) Ping(ctx context.Context) error { return nil }

func (m *MemoryLedger) Peek(ctx context.Context, user, agent string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read(m.key(user, agent)), nil
}
