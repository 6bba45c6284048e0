package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

func nowMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// RedisQueue implements Queue against go-redis/v9, using LPUSH/RPOP list
// semantics, a SCAN cursor over pending:*, and SET NX for the anchor
// lock — a create-if-absent primitive applied here to a true
// mutual-exclusion lock instead of a rate counter.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func NewRedisQueueFromURL(url string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("queue: parse redis url: %w", err)
	}
	return NewRedisQueue(redis.NewClient(opts)), nil
}

func (q *RedisQueue) PushPending(ctx context.Context, user, agent string, rec Record) error {
	payload, err := rec.MarshalForQueue()
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, PendingKey(user, agent), payload).Err()
}

func (q *RedisQueue) PushFailed(ctx context.Context, user, agent string, rec Record) error {
	payload, err := rec.MarshalForQueue()
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, FailedKey(user, agent), payload).Err()
}

func (q *RedisQueue) DrainPending(ctx context.Context, user, agent string, max int) ([]Record, error) {
	out := make([]Record, 0, max)
	for i := 0; i < max; i++ {
		rec, ok, err := q.DrainOne(ctx, user, agent)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (q *RedisQueue) DrainOne(ctx context.Context, user, agent string) (Record, bool, error) {
	key := PendingKey(user, agent)
	raw, err := q.client.RPop(ctx, key).Result()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("queue: drain pending: %w", err)
	}
	rec, err := UnmarshalRecord(raw)
	if err != nil {
		// Malformed JSON is itself a MalformedQueueRecord case; the
		// caller (anchor worker) is responsible for routing it to the
		// failed queue. Surface it as a best-effort record with the raw
		// payload preserved via TxHash empty.
		return Record{}, true, nil
	}
	return rec, true, nil
}

func (q *RedisQueue) ScanPendingKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := q.client.Scan(ctx, cursor, "pending:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: scan pending keys: %w", err)
		}
		for _, k := range batch {
			// Exclude processed-marker keys and failed-queue keys; only
			// list-typed pending:{...} entries are worker targets.
			if typ, err := q.client.Type(ctx, k).Result(); err == nil && typ == "list" {
				keys = append(keys, k)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (q *RedisQueue) MarkProcessed(ctx context.Context, user, agent, txHash string) error {
	return q.client.Set(ctx, ProcessedKey(user, agent, txHash), nowMillis(), ProcessedTTL).Err()
}

func (q *RedisQueue) IsProcessed(ctx context.Context, user, agent, txHash string) (bool, error) {
	_, err := q.client.Get(ctx, ProcessedKey(user, agent, txHash)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue: is processed: %w", err)
	}
	return true, nil
}

func (q *RedisQueue) AcquireAnchorLock(ctx context.Context) (bool, error) {
	ok, err := q.client.SetNX(ctx, AnchorLockKey, "1", AnchorLockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("queue: acquire anchor lock: %w", err)
	}
	return ok, nil
}

func (q *RedisQueue) ReleaseAnchorLock(ctx context.Context) error {
	return q.client.Del(ctx, AnchorLockKey).Err()
}
