package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/connectivity"

    obsmetrics "github.com/amirimatin/go-retainer/pkg/observability/metrics"
)

// Dialer opens a client connection to a peer address.
type Dialer func(ctx context.Context, target string) (*grpc.ClientConn, error)

// ConnManager caches peer connections per address. Connections idle for
// longer than the TTL with no outstanding users are closed by a janitor, and
// connections that went to Shutdown are replaced on next use.
type ConnManager struct {
    mu        sync.Mutex
    conns     map[string]*peerConn
    ttl       time.Duration
    dial      Dialer
    closing   chan struct{}
    closeOnce sync.Once
}

type peerConn struct {
    cc       *grpc.ClientConn
    lastUsed time.Time
    users    int
}

// NewConnManager creates a manager with the given idle TTL (30s if <= 0).
func NewConnManager(ttl time.Duration, dial Dialer) *ConnManager {
    if ttl <= 0 { ttl = 30 * time.Second }
    m := &ConnManager{ttl: ttl, dial: dial, conns: make(map[string]*peerConn), closing: make(chan struct{})}
    go m.janitor()
    return m
}

// Acquire returns a connection for target and a release func that must be
// called once the caller is done with it.
func (m *ConnManager) Acquire(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    if cc, ok := m.cached(target); ok {
        obsmetrics.GRPCConnReuse.Inc()
        return cc, m.releaser(target), nil
    }

    cc, err := m.dial(ctx, target)
    if err != nil { return nil, func() {}, err }

    m.mu.Lock()
    defer m.mu.Unlock()
    if pc, ok := m.conns[target]; ok {
        // lost the race to a concurrent dial
        _ = cc.Close()
        pc.users++
        pc.lastUsed = time.Now()
        obsmetrics.GRPCConnReuse.Inc()
        return pc.cc, m.releaser(target), nil
    }
    m.conns[target] = &peerConn{cc: cc, lastUsed: time.Now(), users: 1}
    obsmetrics.GRPCConnDials.Inc()
    obsmetrics.GRPCConnActive.Inc()
    return cc, m.releaser(target), nil
}

func (m *ConnManager) cached(target string) (*grpc.ClientConn, bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    pc, ok := m.conns[target]
    if !ok { return nil, false }
    if pc.cc.GetState() == connectivity.Shutdown {
        m.dropLocked(target, pc)
        return nil, false
    }
    pc.users++
    pc.lastUsed = time.Now()
    return pc.cc, true
}

func (m *ConnManager) releaser(target string) func() {
    var once sync.Once
    return func() {
        once.Do(func() {
            m.mu.Lock()
            if pc, ok := m.conns[target]; ok {
                if pc.users > 0 { pc.users-- }
                pc.lastUsed = time.Now()
            }
            m.mu.Unlock()
        })
    }
}

func (m *ConnManager) dropLocked(target string, pc *peerConn) {
    _ = pc.cc.Close()
    obsmetrics.GRPCConnEvictions.Inc()
    obsmetrics.GRPCConnActive.Dec()
    delete(m.conns, target)
}

// Len reports the number of cached connections.
func (m *ConnManager) Len() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.conns)
}

// Close closes every cached connection and stops the janitor. Safe to call
// more than once.
func (m *ConnManager) Close() {
    m.closeOnce.Do(func() { close(m.closing) })
    m.mu.Lock()
    for target, pc := range m.conns {
        _ = pc.cc.Close()
        obsmetrics.GRPCConnActive.Dec()
        delete(m.conns, target)
    }
    m.mu.Unlock()
}

func (m *ConnManager) janitor() {
    ticker := time.NewTicker(m.ttl / 2)
    defer ticker.Stop()
    for {
        select {
        case <-m.closing:
            return
        case <-ticker.C:
            m.evictIdle(time.Now().Add(-m.ttl))
        }
    }
}

func (m *ConnManager) evictIdle(cutoff time.Time) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for target, pc := range m.conns {
        if pc.users == 0 && pc.lastUsed.Before(cutoff) {
            m.dropLocked(target, pc)
        }
    }
}
