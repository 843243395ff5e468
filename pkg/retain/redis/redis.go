// Package redis implements retain.Storage on Redis. Every node uses its own
// key prefix, so a shared Redis server still holds node-local stores; the
// cluster-wide view is assembled by the retainer, not by Redis.
//
// Layout:
//
//	<prefix>r:<topic>  msgpack-encoded retain.Retain, with PX expiry when set
//	<prefix>idx        set of stored topics
package redis

import (
    "context"
    "errors"
    "fmt"
    "time"

    goredis "github.com/redis/go-redis/v9"
    "github.com/vmihailenco/msgpack/v5"

    "github.com/amirimatin/go-retainer/pkg/retain"
)

// Store is a retain.Storage backed by Redis. The caller owns the client.
type Store struct {
    client goredis.Cmdable
    prefix string
    limits retain.Limits
    now    func() time.Time
}

// New returns a store using keys under prefix (e.g. "retainer:n1:").
func New(client goredis.Cmdable, prefix string, limits retain.Limits) *Store {
    return &Store{client: client, prefix: prefix, limits: limits, now: time.Now}
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
    return s.client.Ping(ctx).Err()
}

func (s *Store) key(t retain.TopicName) string { return s.prefix + "r:" + string(t) }
func (s *Store) index() string                 { return s.prefix + "idx" }

func (s *Store) Set(ctx context.Context, topic retain.TopicName, r retain.Retain) error {
    if err := retain.ValidateTopic(topic); err != nil {
        return err
    }
    key := s.key(topic)
    if r.Empty() {
        return s.remove(ctx, topic)
    }
    exists, err := s.client.Exists(ctx, key).Result()
    if err != nil { return wrap("exists", err) }
    count, err := s.client.SCard(ctx, s.index()).Result()
    if err != nil { return wrap("count", err) }
    admitted, err := s.limits.Admit(topic, r, int(count), exists > 0)
    if err != nil { return err }
    var ttl time.Duration
    if !admitted.ExpiresAt.IsZero() {
        ttl = admitted.ExpiresAt.Sub(s.now())
        // already expired: the replaced value must not survive
        if ttl <= 0 {
            return s.remove(ctx, topic)
        }
    }
    val, err := msgpack.Marshal(&admitted)
    if err != nil { return fmt.Errorf("redis: encode %s: %w", topic, err) }
    _, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
        p.Set(ctx, key, val, ttl)
        p.SAdd(ctx, s.index(), string(topic))
        return nil
    })
    return wrap("set", err)
}

func (s *Store) remove(ctx context.Context, topic retain.TopicName) error {
    _, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
        p.Del(ctx, s.key(topic))
        p.SRem(ctx, s.index(), string(topic))
        return nil
    })
    return wrap("remove", err)
}

func (s *Store) Get(ctx context.Context, filter retain.TopicFilter) ([]retain.TopicRetain, error) {
    if err := retain.ValidateFilter(filter); err != nil {
        return nil, err
    }
    filter = retain.Unshare(filter)
    var candidates []string
    if filter.HasWildcard() {
        members, err := s.client.SMembers(ctx, s.index()).Result()
        if err != nil { return nil, wrap("members", err) }
        for _, m := range members {
            if retain.Match(filter, retain.TopicName(m)) { candidates = append(candidates, m) }
        }
    } else {
        candidates = []string{string(filter)}
    }
    if len(candidates) == 0 {
        return nil, nil
    }
    keys := make([]string, len(candidates))
    for i, c := range candidates { keys[i] = s.key(retain.TopicName(c)) }
    vals, err := s.client.MGet(ctx, keys...).Result()
    if err != nil { return nil, wrap("mget", err) }

    now := s.now()
    var out []retain.TopicRetain
    for i, v := range vals {
        str, ok := v.(string)
        if !ok { continue }
        var r retain.Retain
        if err := msgpack.Unmarshal([]byte(str), &r); err != nil {
            return nil, fmt.Errorf("redis: decode %s: %w", candidates[i], err)
        }
        if r.Expired(now) { continue }
        out = append(out, retain.TopicRetain{Topic: retain.TopicName(candidates[i]), Retain: r})
    }
    return out, nil
}

// Count returns the index cardinality. Topics whose key expired are counted
// until the next Sweep.
func (s *Store) Count(ctx context.Context) (int, error) {
    n, err := s.client.SCard(ctx, s.index()).Result()
    if err != nil { return 0, wrap("count", err) }
    return int(n), nil
}

func (s *Store) Max() int { return s.limits.MaxRetained }

// Sweep drops index members whose key has expired.
func (s *Store) Sweep(ctx context.Context, _ time.Time) (int, error) {
    members, err := s.client.SMembers(ctx, s.index()).Result()
    if err != nil { return 0, wrap("members", err) }
    var stale []interface{}
    for _, m := range members {
        n, err := s.client.Exists(ctx, s.key(retain.TopicName(m))).Result()
        if err != nil { return 0, wrap("exists", err) }
        if n == 0 { stale = append(stale, m) }
    }
    if len(stale) == 0 {
        return 0, nil
    }
    if err := s.client.SRem(ctx, s.index(), stale...).Err(); err != nil {
        return 0, wrap("srem", err)
    }
    return len(stale), nil
}

func wrap(op string, err error) error {
    if err == nil || errors.Is(err, goredis.Nil) {
        return nil
    }
    return fmt.Errorf("redis: %s: %w", op, err)
}

var (
    _ retain.Storage = (*Store)(nil)
    _ retain.Sweeper = (*Store)(nil)
)
