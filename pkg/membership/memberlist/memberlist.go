// Package memberlist implements membership.Membership on HashiCorp memberlist.
package memberlist

import (
    "context"
    "fmt"
    "io"
    "log"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"
    "github.com/vmihailenco/msgpack/v5"

    "github.com/amirimatin/go-retainer/pkg/internal/logutil"
    base "github.com/amirimatin/go-retainer/pkg/membership"
)

// Options configures the memberlist-based membership implementation.
type Options struct {
    NodeID string

    // Bind is the gossip bind address in host:port form. Port 0 picks a free port.
    Bind string

    // Advertise is the address peers use to reach this node. Derived from
    // Bind when empty.
    Advertise string

    // Meta is gossiped with the node (peer RPC and management addresses).
    Meta map[string]string

    Logger *log.Logger

    // Quiet discards memberlist's own log output.
    Quiet bool

    // Tuning parameters (optional). Zero means use defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

// impl implements base.Membership using HashiCorp memberlist.
type impl struct {
    mu     sync.RWMutex
    opts   Options
    ml     *memberlist.Memberlist
    closed bool

    // evMu guards evts separately: memberlist calls back into emit while
    // Start holds mu.
    evMu     sync.RWMutex
    evts     chan base.Event
    evClosed bool
}

// New constructs a memberlist-backed membership. Nothing is bound until Start.
func New(opts Options) (base.Membership, error) {
    if opts.NodeID == "" {
        return nil, fmt.Errorf("memberlist: empty NodeID")
    }
    if opts.Bind == "" {
        return nil, fmt.Errorf("memberlist: empty Bind address")
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &impl{opts: opts, evts: make(chan base.Event, 64)}, nil
}

func (m *impl) config() (*memberlist.Config, error) {
    cfg := memberlist.DefaultLANConfig()
    cfg.Name = m.opts.NodeID
    host, port, err := splitHostPort(m.opts.Bind)
    if err != nil { return nil, fmt.Errorf("memberlist: bind %q: %w", m.opts.Bind, err) }
    cfg.BindAddr, cfg.BindPort = host, port

    if m.opts.Advertise != "" {
        ahost, aport, err := splitHostPort(m.opts.Advertise)
        if err != nil { return nil, fmt.Errorf("memberlist: advertise %q: %w", m.opts.Advertise, err) }
        cfg.AdvertiseAddr, cfg.AdvertisePort = ahost, aport
    }
    if m.opts.ProbeInterval > 0 { cfg.ProbeInterval = m.opts.ProbeInterval }
    if m.opts.ProbeTimeout > 0 { cfg.ProbeTimeout = m.opts.ProbeTimeout }
    if m.opts.SuspicionMult > 0 { cfg.SuspicionMult = m.opts.SuspicionMult }
    if m.opts.Quiet {
        cfg.LogOutput = io.Discard
    } else {
        cfg.Logger = m.opts.Logger
    }

    meta, err := encodeMeta(m.opts.Meta)
    if err != nil { return nil, err }
    if len(meta) > memberlist.MetaMaxSize {
        return nil, fmt.Errorf("memberlist: node meta is %d bytes, limit %d", len(meta), memberlist.MetaMaxSize)
    }
    cfg.Delegate = &nodeDelegate{meta: meta}
    cfg.Events = &eventDelegate{emit: m.emit}
    return cfg, nil
}

// Start creates and launches the underlying memberlist instance. The
// membership stops when ctx is canceled.
func (m *impl) Start(ctx context.Context) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.ml != nil { return nil }
    if m.closed { return fmt.Errorf("memberlist: stopped") }

    cfg, err := m.config()
    if err != nil { return err }
    ml, err := memberlist.Create(cfg)
    if err != nil { return err }
    m.ml = ml

    go func() {
        <-ctx.Done()
        _ = m.Stop()
    }()
    return nil
}

func (m *impl) Join(seeds []string) error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil { return fmt.Errorf("memberlist: not started") }
    if len(seeds) == 0 { return nil }
    n, err := ml.Join(seeds)
    if err != nil && n == 0 { return err }
    if err != nil {
        logutil.Warnf(m.opts.Logger, "memberlist: joined %d of %d seeds: %v", n, len(seeds), err)
    }
    return nil
}

func (m *impl) Local() base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil { return base.MemberInfo{ID: m.opts.NodeID, Meta: m.opts.Meta} }
    return toInfo(m.ml.LocalNode())
}

func (m *impl) Members() []base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil { return nil }
    nodes := m.ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes { out = append(out, toInfo(n)) }
    return out
}

func (m *impl) Events() <-chan base.Event { return m.evts }

// Leave announces departure, waiting up to a second for the broadcast.
func (m *impl) Leave() error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil { return nil }
    return ml.Leave(time.Second)
}

// Stop shuts memberlist down and closes the events channel.
func (m *impl) Stop() error {
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        return nil
    }
    m.closed = true
    ml := m.ml
    m.ml = nil
    m.mu.Unlock()

    m.evMu.Lock()
    m.evClosed = true
    close(m.evts)
    m.evMu.Unlock()
    if ml != nil { return ml.Shutdown() }
    return nil
}

// HealthScore exposes memberlist's awareness score.
func (m *impl) HealthScore() int {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil { return -1 }
    return m.ml.GetHealthScore()
}

func (m *impl) emit(e base.Event) {
    m.evMu.RLock()
    defer m.evMu.RUnlock()
    if m.evClosed { return }
    select {
    case m.evts <- e:
    default:
        logutil.Warnf(m.opts.Logger, "memberlist: dropping %s event for %s: channel full", e.Type, e.Member.ID)
    }
}

func toInfo(n *memberlist.Node) base.MemberInfo {
    return base.MemberInfo{
        ID:   n.Name,
        Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))),
        Meta: decodeMeta(n.Meta),
    }
}

func encodeMeta(meta map[string]string) ([]byte, error) {
    if len(meta) == 0 { return nil, nil }
    return msgpack.Marshal(meta)
}

func decodeMeta(b []byte) map[string]string {
    meta := map[string]string{}
    if len(b) > 0 { _ = msgpack.Unmarshal(b, &meta) }
    return meta
}

func splitHostPort(hp string) (string, int, error) {
    host, ps, err := net.SplitHostPort(hp)
    if err != nil { return "", 0, err }
    port, err := strconv.Atoi(ps)
    if err != nil || port < 0 || port > 65535 { return "", 0, fmt.Errorf("invalid port %q", ps) }
    return host, port, nil
}

// eventDelegate adapts memberlist callbacks to base.Event. memberlist does
// not distinguish a graceful leave from a failure.
type eventDelegate struct {
    emit func(e base.Event)
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node)   { d.notify(base.EventJoin, n) }
func (d *eventDelegate) NotifyLeave(n *memberlist.Node)  { d.notify(base.EventLeave, n) }
func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) { d.notify(base.EventUpdate, n) }

func (d *eventDelegate) notify(t base.EventType, n *memberlist.Node) {
    if d.emit == nil || n == nil { return }
    d.emit(base.Event{Type: t, Member: toInfo(n), At: time.Now()})
}

// nodeDelegate gossips the static node meta.
type nodeDelegate struct{ meta []byte }

func (d *nodeDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) > limit { return nil }
    return d.meta
}

func (d *nodeDelegate) NotifyMsg([]byte)                       {}
func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *nodeDelegate) LocalState(join bool) []byte            { return nil }
func (d *nodeDelegate) MergeRemoteState(buf []byte, join bool) {}
