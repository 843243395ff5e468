package bolt

import (
    "context"
    "path/filepath"
    "sort"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-retainer/pkg/retain"
)

func openTemp(t *testing.T, limits retain.Limits) *Store {
    t.Helper()
    s, err := Open(Options{Path: filepath.Join(t.TempDir(), "retain", "retain.db"), Limits: limits})
    require.NoError(t, err)
    t.Cleanup(func() { _ = s.Close() })
    return s
}

func TestBolt_SetGet(t *testing.T) {
    ctx := context.Background()
    s := openTemp(t, retain.Limits{})
    for _, tn := range []retain.TopicName{"a/b", "a/c", "ab/c", "x", "$SYS/up"} {
        require.NoError(t, s.Set(ctx, tn, retain.Retain{Payload: []byte(tn), QoS: 1, Properties: map[string]string{"k": "v"}}))
    }

    got, err := s.Get(ctx, "a/b")
    require.NoError(t, err)
    require.Len(t, got, 1)
    assert.Equal(t, "a/b", string(got[0].Retain.Payload))
    assert.Equal(t, byte(1), got[0].Retain.QoS)
    assert.Equal(t, "v", got[0].Retain.Properties["k"])

    got, err = s.Get(ctx, "a/+")
    require.NoError(t, err)
    var names []string
    for _, r := range got { names = append(names, string(r.Topic)) }
    sort.Strings(names)
    assert.Equal(t, []string{"a/b", "a/c"}, names)

    got, err = s.Get(ctx, "#")
    require.NoError(t, err)
    assert.Len(t, got, 4)

    n, err := s.Count(ctx)
    require.NoError(t, err)
    assert.Equal(t, 5, n)
}

func TestBolt_RemoveLimitAndSweep(t *testing.T) {
    ctx := context.Background()
    s := openTemp(t, retain.Limits{MaxRetained: 2})
    now := time.Unix(1700000000, 0)
    s.now = func() time.Time { return now }

    require.NoError(t, s.Set(ctx, "a", retain.Retain{Payload: []byte("1"), CreatedAt: now, ExpiresAt: now.Add(time.Second)}))
    require.NoError(t, s.Set(ctx, "b", retain.Retain{Payload: []byte("2"), CreatedAt: now}))
    assert.ErrorIs(t, s.Set(ctx, "c", retain.Retain{Payload: []byte("3")}), retain.ErrLimitExceeded)

    now = now.Add(time.Minute)
    got, err := s.Get(ctx, "a")
    require.NoError(t, err)
    assert.Empty(t, got)

    removed, err := s.Sweep(ctx, now)
    require.NoError(t, err)
    assert.Equal(t, 1, removed)

    require.NoError(t, s.Set(ctx, "b", retain.Retain{}))
    n, err := s.Count(ctx)
    require.NoError(t, err)
    assert.Equal(t, 0, n)
}

func TestBolt_ReopenKeepsData(t *testing.T) {
    ctx := context.Background()
    path := filepath.Join(t.TempDir(), "retain.db")
    s, err := Open(Options{Path: path})
    require.NoError(t, err)
    require.NoError(t, s.Set(ctx, "persist/me", retain.Retain{Payload: []byte("v")}))
    require.NoError(t, s.Close())

    s2, err := Open(Options{Path: path})
    require.NoError(t, err)
    defer s2.Close()
    got, err := s2.Get(ctx, "persist/#")
    require.NoError(t, err)
    require.Len(t, got, 1)
    assert.Equal(t, retain.TopicName("persist/me"), got[0].Topic)
}

func TestBolt_MultiLevelWildcardMatchesParent(t *testing.T) {
    ctx := context.Background()
    s := openTemp(t, retain.Limits{})
    for _, tn := range []retain.TopicName{"a", "a/b", "a/b/c", "ab", "b"} {
        require.NoError(t, s.Set(ctx, tn, retain.Retain{Payload: []byte("x")}))
    }

    got, err := s.Get(ctx, "a/#")
    require.NoError(t, err)
    var names []string
    for _, r := range got { names = append(names, string(r.Topic)) }
    sort.Strings(names)
    assert.Equal(t, []string{"a", "a/b", "a/b/c"}, names)

    got, err = s.Get(ctx, "a/+")
    require.NoError(t, err)
    require.Len(t, got, 1)
    assert.Equal(t, retain.TopicName("a/b"), got[0].Topic)
}
