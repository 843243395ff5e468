package retainer

import (
    "bytes"
    "context"
    "errors"
    "log"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-retainer/pkg/retain"
    "github.com/amirimatin/go-retainer/pkg/retain/memory"
    "github.com/amirimatin/go-retainer/pkg/transport"
)

const testType transport.MessageType = 7

// stubStore returns canned results and records calls.
type stubStore struct {
    mu      sync.Mutex
    retains []retain.TopicRetain
    err     error
    sets    []retain.TopicName
    filters []retain.TopicFilter
    count   int
    max     int
}

func (s *stubStore) Set(_ context.Context, topic retain.TopicName, _ retain.Retain) error {
    s.mu.Lock(); defer s.mu.Unlock()
    s.sets = append(s.sets, topic)
    return s.err
}

func (s *stubStore) Get(_ context.Context, filter retain.TopicFilter) ([]retain.TopicRetain, error) {
    s.mu.Lock(); defer s.mu.Unlock()
    s.filters = append(s.filters, filter)
    if s.err != nil { return nil, s.err }
    return append([]retain.TopicRetain(nil), s.retains...), nil
}

func (s *stubStore) Count(context.Context) (int, error) { return s.count, s.err }
func (s *stubStore) Max() int                            { return s.max }

// peerOutcome is what a fake peer answers.
type peerOutcome struct {
    reply transport.Reply
    err   error
    delay time.Duration
}

// fakeBroadcaster answers from a table keyed by peer id and records requests.
type fakeBroadcaster struct {
    outcomes map[string]peerOutcome
    calls    atomic.Int32
    mu       sync.Mutex
    reqs     []transport.Request
}

func (b *fakeBroadcaster) Broadcast(ctx context.Context, peers []transport.Peer, req transport.Request) []transport.PeerReply {
    b.calls.Add(1)
    b.mu.Lock()
    b.reqs = append(b.reqs, req)
    b.mu.Unlock()

    var (
        mu  sync.Mutex
        wg  sync.WaitGroup
        out []transport.PeerReply
    )
    for _, p := range peers {
        wg.Add(1)
        go func(p transport.Peer) {
            defer wg.Done()
            o := b.outcomes[p.ID]
            if o.delay > 0 { time.Sleep(o.delay) }
            mu.Lock()
            out = append(out, transport.PeerReply{Peer: p, Reply: o.reply, Err: o.err})
            mu.Unlock()
        }(p)
    }
    wg.Wait()
    return out
}

func staticPeers(ids ...string) PeerSource {
    peers := make([]transport.Peer, 0, len(ids))
    for _, id := range ids { peers = append(peers, transport.Peer{ID: id, Addr: id + ":7000"}) }
    return PeerSourceFunc(func() []transport.Peer { return peers })
}

func tr(topic, payload string) retain.TopicRetain {
    return retain.TopicRetain{Topic: retain.TopicName(topic), Retain: retain.Retain{Payload: []byte(payload)}}
}

func ok(rs ...retain.TopicRetain) peerOutcome {
    return peerOutcome{reply: transport.Reply{Kind: transport.ReplyGetRetains, Retains: rs}}
}

func payloads(rs []retain.TopicRetain) []string {
    out := make([]string, 0, len(rs))
    for _, r := range rs { out = append(out, string(r.Retain.Payload)) }
    return out
}

func newRetainer(t *testing.T, store retain.Storage, peers PeerSource, b transport.Broadcaster) (*Retainer, *bytes.Buffer) {
    t.Helper()
    var buf bytes.Buffer
    r, err := New(Options{
        Store:       store,
        Peers:       peers,
        Broadcaster: b,
        MessageType: testType,
        NodeID:      "self",
        Logger:      log.New(&buf, "", 0),
    })
    require.NoError(t, err)
    return r, &buf
}

func TestNew_Validation(t *testing.T) {
    _, err := New(Options{})
    assert.Error(t, err)
    _, err = New(Options{Store: &stubStore{}, Peers: staticPeers("p1")})
    assert.Error(t, err)
    r, err := New(Options{Store: &stubStore{}})
    require.NoError(t, err)
    assert.NotNil(t, r)
}

func TestGet_NoPeersReturnsLocalOnly(t *testing.T) {
    ctx := context.Background()
    local := memory.New(retain.Limits{})
    require.NoError(t, local.Set(ctx, "a/b", retain.Retain{Payload: []byte("R1")}))
    b := &fakeBroadcaster{}
    r, _ := newRetainer(t, local, staticPeers(), b)

    got, err := r.Get(ctx, "a/#")
    require.NoError(t, err)
    assert.Equal(t, []string{"R1"}, payloads(got))
    assert.Zero(t, b.calls.Load())
}

func TestGet_NoPeerSourceSkipsFanout(t *testing.T) {
    r, _ := newRetainer(t, &stubStore{}, nil, nil)
    got, err := r.Get(context.Background(), "x/+")
    require.NoError(t, err)
    assert.Empty(t, got)
}

func TestGet_MergesSuccessfulPeersAndLogsFailures(t *testing.T) {
    local := &stubStore{retains: []retain.TopicRetain{tr("a/b", "R1")}}
    b := &fakeBroadcaster{outcomes: map[string]peerOutcome{
        "p1": ok(tr("a/b", "R2")),
        "p2": {err: errors.New("connection refused")},
    }}
    r, logs := newRetainer(t, local, staticPeers("p1", "p2"), b)

    got, err := r.Get(context.Background(), "a/#")
    require.NoError(t, err)
    assert.Equal(t, []string{"R1", "R2"}, payloads(got))

    out := logs.String()
    assert.Contains(t, out, "ERROR")
    assert.Contains(t, out, "p2")
    assert.Contains(t, out, "p2:7000")
    assert.Contains(t, out, `"a/#"`)
    assert.Contains(t, out, "connection refused")
    assert.NotContains(t, out, "p1 ")
}

func TestGet_AllPeersFailReturnsLocal(t *testing.T) {
    local := &stubStore{retains: []retain.TopicRetain{tr("a/b", "R1")}}
    b := &fakeBroadcaster{outcomes: map[string]peerOutcome{
        "p1": {err: errors.New("timeout")},
        "p2": {err: errors.New("reset")},
    }}
    r, logs := newRetainer(t, local, staticPeers("p1", "p2"), b)

    got, err := r.Get(context.Background(), "a/b")
    require.NoError(t, err)
    assert.Equal(t, []string{"R1"}, payloads(got))
    assert.Contains(t, logs.String(), "timeout")
    assert.Contains(t, logs.String(), "reset")
}

func TestGet_CancelledLookupReturnsContextError(t *testing.T) {
    local := &stubStore{retains: []retain.TopicRetain{tr("a/b", "R1")}}
    b := &fakeBroadcaster{outcomes: map[string]peerOutcome{
        "p1": {err: context.Canceled},
        "p2": {err: context.Canceled},
    }}
    r, logs := newRetainer(t, local, staticPeers("p1", "p2"), b)

    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    got, err := r.Get(ctx, "a/#")
    assert.ErrorIs(t, err, context.Canceled)
    assert.Nil(t, got)
    assert.NotContains(t, logs.String(), "ERROR")
}

func TestGet_PeerTimeoutWithLiveCallerIsLogged(t *testing.T) {
    local := &stubStore{retains: []retain.TopicRetain{tr("a/b", "R1")}}
    b := &fakeBroadcaster{outcomes: map[string]peerOutcome{
        "slow": {err: context.DeadlineExceeded},
        "p1":   ok(tr("a/b", "R2")),
    }}
    r, logs := newRetainer(t, local, staticPeers("slow", "p1"), b)

    got, err := r.Get(context.Background(), "a/#")
    require.NoError(t, err)
    assert.ElementsMatch(t, []string{"R1", "R2"}, payloads(got))
    assert.Contains(t, logs.String(), "ERROR")
    assert.Contains(t, logs.String(), "slow")
}

func TestGet_LocalFailureSkipsFanout(t *testing.T) {
    boom := errors.New("disk on fire")
    local := &stubStore{err: boom}
    b := &fakeBroadcaster{outcomes: map[string]peerOutcome{"p1": ok(tr("a", "R2"))}}
    r, _ := newRetainer(t, local, staticPeers("p1"), b)

    got, err := r.Get(context.Background(), "a")
    assert.Nil(t, got)
    assert.Same(t, boom, err)
    assert.Zero(t, b.calls.Load())
}

func TestGet_IgnoresMismatchedAndEmptyReplies(t *testing.T) {
    local := &stubStore{}
    b := &fakeBroadcaster{outcomes: map[string]peerOutcome{
        "p1": {reply: transport.Reply{Kind: transport.ReplyUnsupported, Retains: []retain.TopicRetain{tr("x", "bogus")}}},
        "p2": {reply: transport.Reply{Kind: transport.ReplyError, Error: "store down"}},
        "p3": ok(),
        "p4": ok(tr("x", "R4")),
    }}
    r, logs := newRetainer(t, local, staticPeers("p1", "p2", "p3", "p4"), b)

    got, err := r.Get(context.Background(), "x")
    require.NoError(t, err)
    assert.Equal(t, []string{"R4"}, payloads(got))
    assert.NotContains(t, logs.String(), "ERROR")
}

func TestGet_KeepsDuplicatesAcrossNodes(t *testing.T) {
    local := &stubStore{retains: []retain.TopicRetain{tr("t", "same")}}
    b := &fakeBroadcaster{outcomes: map[string]peerOutcome{
        "p1": ok(tr("t", "same")),
        "p2": ok(tr("t", "same")),
    }}
    r, _ := newRetainer(t, local, staticPeers("p1", "p2"), b)

    got, err := r.Get(context.Background(), "t")
    require.NoError(t, err)
    assert.Len(t, got, 3)
}

func TestGet_LocalFirstThenCompletionOrder(t *testing.T) {
    local := &stubStore{retains: []retain.TopicRetain{tr("t", "L")}}
    b := &fakeBroadcaster{outcomes: map[string]peerOutcome{
        "slow": {reply: ok(tr("t", "slow")).reply, delay: 80 * time.Millisecond},
        "fast": ok(tr("t", "fast")),
    }}
    r, _ := newRetainer(t, local, staticPeers("slow", "fast"), b)

    got, err := r.Get(context.Background(), "t")
    require.NoError(t, err)
    assert.Equal(t, []string{"L", "fast", "slow"}, payloads(got))
}

func TestGet_RequestCarriesTagAndFilter(t *testing.T) {
    b := &fakeBroadcaster{outcomes: map[string]peerOutcome{"p1": ok()}}
    r, _ := newRetainer(t, &stubStore{}, staticPeers("p1"), b)

    _, err := r.Get(context.Background(), "sensors/+/temp")
    require.NoError(t, err)
    require.Len(t, b.reqs, 1)
    assert.Equal(t, testType, b.reqs[0].Type)
    assert.Equal(t, "self", b.reqs[0].From)
    assert.Equal(t, transport.GetRetains("sensors/+/temp"), b.reqs[0].Msg)
}

func TestGet_PeersQueriedOnEveryCall(t *testing.T) {
    var calls atomic.Int32
    src := PeerSourceFunc(func() []transport.Peer {
        if calls.Add(1) == 1 { return nil }
        return []transport.Peer{{ID: "late", Addr: "late:7000"}}
    })
    b := &fakeBroadcaster{outcomes: map[string]peerOutcome{"late": ok(tr("a", "late"))}}
    r, _ := newRetainer(t, &stubStore{}, src, b)

    got, err := r.Get(context.Background(), "a")
    require.NoError(t, err)
    assert.Empty(t, got)

    got, err = r.Get(context.Background(), "a")
    require.NoError(t, err)
    assert.Equal(t, []string{"late"}, payloads(got))
    assert.Equal(t, int32(2), calls.Load())
}

func TestSetCountMax_DelegateLocally(t *testing.T) {
    local := &stubStore{count: 42, max: 100}
    b := &fakeBroadcaster{}
    r, _ := newRetainer(t, local, staticPeers("p1", "p2"), b)
    ctx := context.Background()

    require.NoError(t, r.Set(ctx, "a/b", retain.Retain{Payload: []byte("x")}))
    assert.Equal(t, []retain.TopicName{"a/b"}, local.sets)

    n, err := r.Count(ctx)
    require.NoError(t, err)
    assert.Equal(t, 42, n)
    assert.Equal(t, 100, r.Max())
    assert.Zero(t, b.calls.Load())
}

func TestSet_PropagatesStoreError(t *testing.T) {
    r, _ := newRetainer(t, memory.New(retain.Limits{MaxRetained: 1}), nil, nil)
    ctx := context.Background()
    require.NoError(t, r.Set(ctx, "a", retain.Retain{Payload: []byte("1")}))
    err := r.Set(ctx, "b", retain.Retain{Payload: []byte("2")})
    assert.ErrorIs(t, err, retain.ErrLimitExceeded)
}

func TestSet_EmptyPayloadRemoves(t *testing.T) {
    r, _ := newRetainer(t, memory.New(retain.Limits{}), nil, nil)
    ctx := context.Background()
    require.NoError(t, r.Set(ctx, "a", retain.Retain{Payload: []byte("1")}))
    require.NoError(t, r.Set(ctx, "a", retain.Retain{}))
    got, err := r.Get(ctx, "#")
    require.NoError(t, err)
    assert.Empty(t, got)
}
