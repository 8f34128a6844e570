package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/storysync/internal/op"
)

const defaultRedisPrefix = "storysync:"

// RedisJournal keeps pending operations in Redis.
//
// Layout under the prefix:
//
//	ops                      hash   id -> encoded operation
//	seq                      string append counter
//	pending:{story}:{chapter} zset  id scored by append counter
//	scopes                   set    JSON [story, chapter] pairs
type RedisJournal struct {
	client *redis.Client
	prefix string
}

// NewRedisJournal connects to redisURL and verifies the connection.
func NewRedisJournal(redisURL, prefix string) (*RedisJournal, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisJournalWithClient(client, prefix), nil
}

// NewRedisJournalWithClient wraps an existing client.
func NewRedisJournalWithClient(client *redis.Client, prefix string) *RedisJournal {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisJournal{client: client, prefix: prefix}
}

func (j *RedisJournal) opsKey() string    { return j.prefix + "ops" }
func (j *RedisJournal) seqKey() string    { return j.prefix + "seq" }
func (j *RedisJournal) scopesKey() string { return j.prefix + "scopes" }

func (j *RedisJournal) pendingKey(sc op.Scope) string {
	return j.prefix + "pending:" + sc.StoryID + ":" + sc.ChapterID
}

func scopeMember(sc op.Scope) string {
	b, _ := json.Marshal([2]string{sc.StoryID, sc.ChapterID})
	return string(b)
}

// Append stores operations not already present.
func (j *RedisJournal) Append(ctx context.Context, ops ...op.Operation) error {
	for _, o := range ops {
		payload, err := op.Encode(o)
		if err != nil {
			return fmt.Errorf("append journal: %w", err)
		}
		id, err := op.ID(o)
		if err != nil {
			return fmt.Errorf("append journal: %w", err)
		}

		added, err := j.client.HSetNX(ctx, j.opsKey(), id, payload).Result()
		if err != nil {
			return fmt.Errorf("append journal: %w", err)
		}
		if !added {
			continue
		}
		seq, err := j.client.Incr(ctx, j.seqKey()).Result()
		if err != nil {
			return fmt.Errorf("append journal: %w", err)
		}

		sc := o.Scope()
		_, err = j.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, j.pendingKey(sc), redis.Z{Score: float64(seq), Member: id})
			pipe.SAdd(ctx, j.scopesKey(), scopeMember(sc))
			return nil
		})
		if err != nil {
			return fmt.Errorf("append journal: %w", err)
		}
	}
	return nil
}

// Remove deletes operations by ID.
func (j *RedisJournal) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	payloads, err := j.client.HMGet(ctx, j.opsKey(), ids...).Result()
	if err != nil {
		return fmt.Errorf("remove journal entries: %w", err)
	}

	_, err = j.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, raw := range payloads {
			s, ok := raw.(string)
			if !ok {
				continue
			}
			o, err := op.Decode([]byte(s))
			if err != nil {
				return err
			}
			pipe.ZRem(ctx, j.pendingKey(o.Scope()), ids[i])
		}
		pipe.HDel(ctx, j.opsKey(), ids...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove journal entries: %w", err)
	}
	return nil
}

// Pending returns one chapter's operations ordered by timestamp, then append order.
func (j *RedisJournal) Pending(ctx context.Context, scope op.Scope) ([]op.Operation, error) {
	ids, err := j.client.ZRange(ctx, j.pendingKey(scope), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	payloads, err := j.client.HMGet(ctx, j.opsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending: %w", err)
	}

	ops := make([]op.Operation, 0, len(payloads))
	for _, raw := range payloads {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		o, err := op.Decode([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("read pending: %w", err)
		}
		ops = append(ops, o)
	}
	sort.SliceStable(ops, func(a, b int) bool {
		return ops[a].Head().Timestamp < ops[b].Head().Timestamp
	})
	return ops, nil
}

// Scopes lists chapters with pending operations, sorted.
func (j *RedisJournal) Scopes(ctx context.Context) ([]op.Scope, error) {
	members, err := j.client.SMembers(ctx, j.scopesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending scopes: %w", err)
	}

	var scopes []op.Scope
	for _, m := range members {
		var pair [2]string
		if err := json.Unmarshal([]byte(m), &pair); err != nil {
			continue
		}
		sc := op.Scope{StoryID: pair[0], ChapterID: pair[1]}
		n, err := j.client.ZCard(ctx, j.pendingKey(sc)).Result()
		if err != nil {
			return nil, fmt.Errorf("list pending scopes: %w", err)
		}
		if n > 0 {
			scopes = append(scopes, sc)
		}
	}
	sort.Slice(scopes, func(a, b int) bool {
		if scopes[a].StoryID != scopes[b].StoryID {
			return scopes[a].StoryID < scopes[b].StoryID
		}
		return scopes[a].ChapterID < scopes[b].ChapterID
	})
	return scopes, nil
}

// Ping checks that Redis is reachable.
func (j *RedisJournal) Ping(ctx context.Context) error {
	return j.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (j *RedisJournal) Close() error {
	return j.client.Close()
}
