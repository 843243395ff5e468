//go:build integration

package integration

import (
    "bytes"
    "context"
    "errors"
    "log"
    "testing"
    "time"

    "github.com/amirimatin/go-retainer/pkg/node"
    "github.com/amirimatin/go-retainer/pkg/retain"
)

var errNotYet = errors.New("not yet")

func waitUntil(t *testing.T, timeout time.Duration, fn func() error) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    var last error
    for time.Now().Before(deadline) {
        if last = fn(); last == nil { return }
        time.Sleep(100 * time.Millisecond)
    }
    t.Fatalf("condition not met within %s: %v", timeout, last)
}

func baseConfig(id string) node.Config {
    return node.Config{
        NodeID:      id,
        MemBind:     "127.0.0.1:0",
        RPCAddr:     "127.0.0.1:0",
        MgmtAddr:    "127.0.0.1:0",
        Isolated:    true,
        QuietGossip: true,
        PeerTimeout: 3 * time.Second,
        Logger:      log.New(&bytes.Buffer{}, "", 0),
    }
}

func mustStart(t *testing.T, ctx context.Context, cfg node.Config) *node.Node {
    t.Helper()
    n, err := node.Build(cfg)
    if err != nil { t.Fatalf("%s build: %v", cfg.NodeID, err) }
    if err := n.Start(ctx); err != nil { t.Fatalf("%s start: %v", cfg.NodeID, err) }
    return n
}

// mustStartThreeNodes starts n1 and lets n2 and n3 discover it as their
// static seed.
func mustStartThreeNodes(t *testing.T, ctx context.Context, tweak func(*node.Config)) (*node.Node, *node.Node, *node.Node) {
    t.Helper()
    cfg := func(id, seed string) node.Config {
        c := baseConfig(id)
        c.SeedsCSV = seed
        if tweak != nil { tweak(&c) }
        return c
    }
    n1 := mustStart(t, ctx, cfg("n1", ""))
    n2 := mustStart(t, ctx, cfg("n2", n1.GossipAddr()))
    n3 := mustStart(t, ctx, cfg("n3", n1.GossipAddr()))
    waitUntil(t, 15*time.Second, func() error {
        for _, n := range []*node.Node{n1, n2, n3} {
            if len(n.Members()) != 3 { return errNotYet }
        }
        return nil
    })
    return n1, n2, n3
}

func topicsOf(rs []retain.TopicRetain) []string {
    out := make([]string, 0, len(rs))
    for _, r := range rs { out = append(out, string(r.Topic)) }
    return out
}
