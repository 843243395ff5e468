// Package node assembles one retained-message node: the local store, the
// cluster-aware coordinator, gossip membership, the peer gRPC transport and
// the HTTP management API.
package node

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "net"
    "path/filepath"
    "sync"
    "sync/atomic"
    "time"

    goredis "github.com/redis/go-redis/v9"
    "golang.org/x/sync/errgroup"

    "github.com/amirimatin/go-retainer/pkg/discovery"
    "github.com/amirimatin/go-retainer/pkg/internal/logutil"
    "github.com/amirimatin/go-retainer/pkg/membership"
    ml "github.com/amirimatin/go-retainer/pkg/membership/memberlist"
    obsmetrics "github.com/amirimatin/go-retainer/pkg/observability/metrics"
    "github.com/amirimatin/go-retainer/pkg/retain"
    retainbolt "github.com/amirimatin/go-retainer/pkg/retain/bolt"
    "github.com/amirimatin/go-retainer/pkg/retain/memory"
    retainredis "github.com/amirimatin/go-retainer/pkg/retain/redis"
    "github.com/amirimatin/go-retainer/pkg/retainer"
    tlsx "github.com/amirimatin/go-retainer/pkg/security/tlsconfig"
    "github.com/amirimatin/go-retainer/pkg/transport"
    peergrpc "github.com/amirimatin/go-retainer/pkg/transport/grpc"
    "github.com/amirimatin/go-retainer/pkg/transport/httpjson"
)

var (
    ErrNotStarted = errors.New("node: not started")
    ErrClosed     = errors.New("node: closed")
    // ErrCoordinatorBound is returned by Build when the process coordinator
    // already serves another node. Set Config.Isolated to run several nodes
    // in one process.
    ErrCoordinatorBound = errors.New("node: process coordinator already bound to another node")
)

// Node is one member of a retained-message cluster.
type Node struct {
    cfg Config

    store       retain.Storage
    closers     []func() error
    sharedStore bool
    disc        discovery.Discovery
    ret         *retainer.Retainer

    rpcSrv *peergrpc.Server
    rpcCli *peergrpc.Client
    mgmt   *httpjson.Server

    mu      sync.Mutex
    started bool
    closed  bool
    cancel  context.CancelFunc
    g       *errgroup.Group

    memMu sync.RWMutex
    mem   membership.Membership

    msgSeq atomic.Uint64
    eb     eventBus
}

// Build assembles a Node from cfg without network activity. The local store
// is opened here so configuration errors surface early.
func Build(cfg Config) (*Node, error) {
    cfg = cfg.withDefaults()
    if err := cfg.Validate(); err != nil { return nil, err }
    n := &Node{cfg: cfg}

    if err := n.openStore(); err != nil { return nil, err }

    var srvTLS, cliTLS *tls.Config
    if cfg.TLSEnable {
        topts := tlsx.Options{Enable: true, CAFile: cfg.TLSCA, CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey, InsecureSkipVerify: cfg.TLSSkipVerify, ServerName: cfg.TLSServerName}
        var err error
        if srvTLS, cliTLS, err = topts.Pair(); err != nil {
            _ = n.closeStore()
            return nil, err
        }
    }

    n.rpcSrv = peergrpc.NewServer(cfg.RPCAddr)
    n.rpcCli = peergrpc.NewClient(cfg.PeerTimeout)
    if srvTLS != nil {
        n.rpcSrv.UseTLS(srvTLS)
        n.rpcCli.UseTLS(cliTLS)
    }
    if cfg.MgmtAddr != "" {
        n.mgmt = httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
        if srvTLS != nil { n.mgmt.UseTLS(srvTLS) }
    }
    n.disc = newDiscovery(cfg)

    opts := retainer.Options{
        Store:       n.store,
        Peers:       retainer.PeerSourceFunc(n.peers),
        Broadcaster: peergrpc.NewBroadcaster(n.rpcCli, cfg.FanoutLimit),
        NodeID:      cfg.NodeID,
        Logger:      cfg.Logger,
    }
    var err error
    if cfg.Isolated {
        opts.MessageType = cfg.MessageType
        n.ret, err = retainer.New(opts)
    } else {
        n.ret, err = retainer.GetOrInit(cfg.MessageType, opts)
    }
    if err != nil {
        _ = n.rpcCli.Close()
        _ = n.closeStore()
        return nil, err
    }
    if n.ret.Inner() != n.store {
        _ = n.rpcCli.Close()
        _ = n.closeStore()
        return nil, ErrCoordinatorBound
    }
    // the process coordinator outlives this node and keeps using the store
    n.sharedStore = !cfg.Isolated
    return n, nil
}

func (n *Node) openStore() error {
    limits := retain.Limits{MaxRetained: n.cfg.MaxRetained, MaxPayloadSize: n.cfg.MaxPayloadSize, DefaultTTL: n.cfg.DefaultTTL}
    switch n.cfg.StorageKind {
    case StorageBolt:
        s, err := retainbolt.Open(retainbolt.Options{Path: filepath.Join(n.cfg.DataDir, "retain.db"), Limits: limits})
        if err != nil { return err }
        n.store = s
        n.closers = append(n.closers, s.Close)
    case StorageRedis:
        client := goredis.NewClient(&goredis.Options{Addr: n.cfg.RedisAddr, Password: n.cfg.RedisPassword, DB: n.cfg.RedisDB})
        n.store = retainredis.New(client, n.cfg.RedisPrefix, limits)
        n.closers = append(n.closers, client.Close)
    default:
        n.store = memory.New(limits)
    }
    return nil
}

func (n *Node) closeStore() error {
    var errs []error
    for i := len(n.closers) - 1; i >= 0; i-- {
        if err := n.closers[i](); err != nil { errs = append(errs, err) }
    }
    n.closers = nil
    return errors.Join(errs...)
}

func newDiscovery(cfg Config) discovery.Discovery {
    switch cfg.DiscoveryKind {
    case DiscoveryDNS:
        return discovery.DNS(discovery.DNSOptions{Names: discovery.SplitList(cfg.DNSNamesCSV), Port: cfg.DNSPort, Refresh: cfg.DiscRefresh})
    case DiscoveryFile:
        return discovery.File(discovery.FileOptions{Path: cfg.FilePath, Env: cfg.FileEnv, Refresh: cfg.DiscRefresh})
    default:
        return discovery.Static(discovery.SplitList(cfg.SeedsCSV)...)
    }
}

// Start launches the peer server, gossip membership, the management API and
// background loops, then joins the discovery seeds. Everything stops when
// ctx is canceled or Close is called.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.closed { return ErrClosed }
    if n.started { return nil }
    obsmetrics.Register()

    ctx, cancel := context.WithCancel(ctx)
    fail := func(err error) error {
        cancel()
        n.closed = true
        _ = n.shutdown(context.Background())
        return err
    }

    if p, ok := n.store.(interface{ Ping(context.Context) error }); ok {
        if err := p.Ping(ctx); err != nil { return fail(fmt.Errorf("node: store: %w", err)) }
    }
    if err := n.rpcSrv.Start(ctx, n.ret.HandlePeer); err != nil { return fail(fmt.Errorf("node: peer server: %w", err)) }
    rpcAdv := n.cfg.RPCAdv
    if rpcAdv == "" { rpcAdv = advertised(n.rpcSrv.Addr(), n.cfg.MemAdv) }
    logutil.Infof(n.cfg.Logger, "peer endpoint listening at %s (advertised %s)", n.rpcSrv.Addr(), rpcAdv)

    var mgmtAddr string
    if n.mgmt != nil {
        if err := n.mgmt.Start(ctx, n.mgmtHandlers()); err != nil { return fail(fmt.Errorf("node: management server: %w", err)) }
        mgmtAddr = n.mgmt.Addr()
        logutil.Infof(n.cfg.Logger, "management endpoint listening at %s (status/retains/metrics/healthz)", mgmtAddr)
    }

    meta := map[string]string{membership.MetaRPC: rpcAdv}
    if mgmtAddr != "" { meta[membership.MetaMgmt] = mgmtAddr }
    mem, err := ml.New(ml.Options{NodeID: n.cfg.NodeID, Bind: n.cfg.MemBind, Advertise: n.cfg.MemAdv, Meta: meta, Logger: n.cfg.Logger, Quiet: n.cfg.QuietGossip})
    if err != nil { return fail(err) }
    n.setMembership(mem)
    if err := mem.Start(ctx); err != nil { return fail(fmt.Errorf("node: membership: %w", err)) }

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error { n.eventsLoop(gctx, mem); return nil })
    g.Go(func() error { n.joinLoop(gctx, mem); return nil })
    if sw, ok := n.store.(retain.Sweeper); ok {
        g.Go(func() error { n.sweepLoop(gctx, sw); return nil })
    }
    n.g, n.cancel, n.started = g, cancel, true
    return nil
}

// advertised replaces an unspecified bind host with the gossip advertise
// host, or loopback when none is configured.
func advertised(bound, memAdv string) string {
    host, port, err := net.SplitHostPort(bound)
    if err != nil { return bound }
    if ip := net.ParseIP(host); host != "" && (ip == nil || !ip.IsUnspecified()) {
        return bound
    }
    host = "127.0.0.1"
    if h, _, err := net.SplitHostPort(memAdv); err == nil && h != "" { host = h }
    return net.JoinHostPort(host, port)
}

func (n *Node) joinLoop(ctx context.Context, mem membership.Membership) {
    for {
        seeds := n.disc.Seeds()
        if len(seeds) == 0 { return }
        logutil.Infof(n.cfg.Logger, "joining membership seeds: %v", seeds)
        err := mem.Join(seeds)
        if err == nil { return }
        logutil.Warnf(n.cfg.Logger, "join seeds failed, retrying in %s: %v", n.cfg.DiscRefresh, err)
        select {
        case <-ctx.Done():
            return
        case <-time.After(n.cfg.DiscRefresh):
        }
    }
}

func (n *Node) eventsLoop(ctx context.Context, mem membership.Membership) {
    evch := mem.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case e, ok := <-evch:
            if !ok { return }
            if e.Member.ID == n.cfg.NodeID { continue }
            switch e.Type {
            case membership.EventJoin:
                logutil.Infof(n.cfg.Logger, "member joined: id=%s rpc=%s", e.Member.ID, e.Member.RPCAddr())
            case membership.EventLeave:
                logutil.Infof(n.cfg.Logger, "member left: id=%s", e.Member.ID)
            default:
                logutil.Debugf(n.cfg.Logger, "member updated: id=%s rpc=%s", e.Member.ID, e.Member.RPCAddr())
            }
            obsmetrics.Members.Set(float64(len(mem.Members())))
            n.eb.publish(eventFor(e))
        }
    }
}

func (n *Node) sweepLoop(ctx context.Context, sw retain.Sweeper) {
    ticker := time.NewTicker(n.cfg.SweepInterval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case now := <-ticker.C:
            removed, err := sw.Sweep(ctx, now)
            if err != nil {
                logutil.Warnf(n.cfg.Logger, "sweep expired retains: %v", err)
                continue
            }
            if removed > 0 {
                obsmetrics.StoreSwept.Add(float64(removed))
                logutil.Debugf(n.cfg.Logger, "swept %d expired retains", removed)
            }
            if c, err := n.store.Count(ctx); err == nil { obsmetrics.StoreRetained.Set(float64(c)) }
        }
    }
}

func (n *Node) setMembership(m membership.Membership) {
    n.memMu.Lock()
    n.mem = m
    n.memMu.Unlock()
}

func (n *Node) membership() membership.Membership {
    n.memMu.RLock()
    defer n.memMu.RUnlock()
    return n.mem
}

func (n *Node) peers() []transport.Peer {
    mem := n.membership()
    if mem == nil { return nil }
    return membership.Peers{M: mem}.Peers()
}

// Retainer returns the node's coordinator.
func (n *Node) Retainer() *retainer.Retainer { return n.ret }

// Store returns the node-local store.
func (n *Node) Store() retain.Storage { return n.store }

// ID returns the node id.
func (n *Node) ID() string { return n.cfg.NodeID }

// RPCAddr returns the bound peer RPC address.
func (n *Node) RPCAddr() string { return n.rpcSrv.Addr() }

// MgmtAddr returns the bound management address, or "" when disabled.
func (n *Node) MgmtAddr() string {
    if n.mgmt == nil { return "" }
    return n.mgmt.Addr()
}

// GossipAddr returns the address other nodes join through.
func (n *Node) GossipAddr() string {
    mem := n.membership()
    if mem == nil { return "" }
    return mem.Local().Addr
}

// Join adds seeds to the gossip cluster.
func (n *Node) Join(seeds ...string) error {
    mem := n.membership()
    if mem == nil { return ErrNotStarted }
    return mem.Join(seeds)
}

// Members returns the current gossip view, including this node.
func (n *Node) Members() []membership.MemberInfo {
    mem := n.membership()
    if mem == nil { return nil }
    return mem.Members()
}

// Publish stores a retained message on this node.
func (n *Node) Publish(ctx context.Context, req transport.SetRetainRequest) error {
    now := time.Now()
    from := req.From
    if from == "" { from = n.cfg.NodeID }
    r := retain.Retain{
        MsgID:      n.msgSeq.Add(1),
        From:       from,
        Payload:    req.Payload,
        QoS:        req.QoS,
        Properties: req.Props,
        CreatedAt:  now,
    }
    if req.TTL > 0 { r.ExpiresAt = now.Add(req.TTL) }
    err := n.ret.Set(ctx, req.Topic, r)
    if err == nil {
        if c, cerr := n.store.Count(ctx); cerr == nil { obsmetrics.StoreRetained.Set(float64(c)) }
    }
    return err
}

// Close is Stop with a background context.
func (n *Node) Close() error { return n.Stop(context.Background()) }

// Stop leaves the cluster and shuts every component down in reverse start
// order. It is safe to call more than once.
func (n *Node) Stop(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.closed { return nil }
    n.closed = true
    return n.shutdown(ctx)
}

// shutdown runs with n.mu held. Request handlers only take memMu, so
// in-flight lookups drain while the servers stop.
func (n *Node) shutdown(ctx context.Context) error {
    if mem := n.membership(); mem != nil {
        _ = mem.Leave()
        _ = mem.Stop()
        n.setMembership(nil)
    }
    if n.cancel != nil { n.cancel() }
    if n.g != nil { _ = n.g.Wait() }
    if n.mgmt != nil { _ = n.mgmt.Stop(ctx) }
    _ = n.rpcSrv.Stop(ctx)
    _ = n.rpcCli.Close()
    if n.sharedStore { return nil }
    return n.closeStore()
}
