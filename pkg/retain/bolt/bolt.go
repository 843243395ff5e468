package bolt

import (
    "bytes"
    "context"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/boltdb/bolt"
    "github.com/vmihailenco/msgpack/v5"

    "github.com/amirimatin/go-retainer/pkg/retain"
)

var bucketRetains = []byte("retains")

// Options configures the bolt-backed store.
type Options struct {
    // Path is the database file. Parent directories are created.
    Path   string
    Limits retain.Limits
    // OpenTimeout bounds waiting on the file lock (default 1s).
    OpenTimeout time.Duration
}

// Store persists retained messages in a single bolt bucket keyed by topic.
// Values are msgpack-encoded retain.Retain records.
type Store struct {
    db     *bolt.DB
    limits retain.Limits
    now    func() time.Time
}

// Open opens (or creates) the database at opts.Path.
func Open(opts Options) (*Store, error) {
    if opts.Path == "" {
        return nil, fmt.Errorf("bolt: empty path")
    }
    if opts.OpenTimeout <= 0 { opts.OpenTimeout = time.Second }
    if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil { return nil, err }
    db, err := bolt.Open(opts.Path, 0o600, &bolt.Options{Timeout: opts.OpenTimeout})
    if err != nil { return nil, fmt.Errorf("bolt: open %s: %w", opts.Path, err) }
    err = db.Update(func(tx *bolt.Tx) error {
        _, err := tx.CreateBucketIfNotExists(bucketRetains)
        return err
    })
    if err != nil {
        _ = db.Close()
        return nil, err
    }
    return &Store{db: db, limits: opts.Limits, now: time.Now}, nil
}

// Close releases the database file.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Set(ctx context.Context, topic retain.TopicName, r retain.Retain) error {
    if err := retain.ValidateTopic(topic); err != nil {
        return err
    }
    key := []byte(topic)
    return s.db.Update(func(tx *bolt.Tx) error {
        b := tx.Bucket(bucketRetains)
        if r.Empty() {
            return b.Delete(key)
        }
        exists := b.Get(key) != nil
        admitted, err := s.limits.Admit(topic, r, b.Stats().KeyN, exists)
        if err != nil { return err }
        val, err := msgpack.Marshal(&admitted)
        if err != nil { return fmt.Errorf("bolt: encode %s: %w", topic, err) }
        return b.Put(key, val)
    })
}

func (s *Store) Get(ctx context.Context, filter retain.TopicFilter) ([]retain.TopicRetain, error) {
    if err := retain.ValidateFilter(filter); err != nil {
        return nil, err
    }
    filter = retain.Unshare(filter)
    now := s.now()
    var out []retain.TopicRetain
    err := s.db.View(func(tx *bolt.Tx) error {
        b := tx.Bucket(bucketRetains)
        if !filter.HasWildcard() {
            v := b.Get([]byte(filter))
            if v == nil { return nil }
            return s.appendMatch(&out, retain.TopicName(filter), v, now)
        }
        // seek to the literal prefix before the first wildcard; the trailing
        // separator is dropped so "a/#" also visits the parent topic "a"
        prefix := []byte(strings.TrimSuffix(literalPrefix(filter), "/"))
        c := b.Cursor()
        for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
            topic := retain.TopicName(k)
            if !retain.Match(filter, topic) { continue }
            if err := s.appendMatch(&out, topic, v, now); err != nil { return err }
        }
        return nil
    })
    return out, err
}

func (s *Store) appendMatch(out *[]retain.TopicRetain, topic retain.TopicName, v []byte, now time.Time) error {
    var r retain.Retain
    if err := msgpack.Unmarshal(v, &r); err != nil {
        return fmt.Errorf("bolt: decode %s: %w", topic, err)
    }
    if r.Expired(now) { return nil }
    *out = append(*out, retain.TopicRetain{Topic: topic, Retain: r})
    return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
    var n int
    err := s.db.View(func(tx *bolt.Tx) error {
        n = tx.Bucket(bucketRetains).Stats().KeyN
        return nil
    })
    return n, err
}

func (s *Store) Max() int { return s.limits.MaxRetained }

// Sweep deletes expired records.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
    removed := 0
    err := s.db.Update(func(tx *bolt.Tx) error {
        b := tx.Bucket(bucketRetains)
        var expired [][]byte
        err := b.ForEach(func(k, v []byte) error {
            var r retain.Retain
            if err := msgpack.Unmarshal(v, &r); err != nil {
                return fmt.Errorf("bolt: decode %s: %w", k, err)
            }
            if r.Expired(now) { expired = append(expired, append([]byte(nil), k...)) }
            return nil
        })
        if err != nil { return err }
        for _, k := range expired {
            if err := b.Delete(k); err != nil { return err }
            removed++
        }
        return nil
    })
    return removed, err
}

// literalPrefix returns the part of f before its first wildcard level.
func literalPrefix(f retain.TopicFilter) string {
    s := string(f)
    if i := strings.IndexAny(s, "+#"); i >= 0 {
        return s[:i]
    }
    return s
}

var (
    _ retain.Storage = (*Store)(nil)
    _ retain.Sweeper = (*Store)(nil)
)
