package grpc

import (
    "context"
    "sync"

    "golang.org/x/sync/errgroup"

    "github.com/amirimatin/go-retainer/pkg/transport"
)

// Broadcaster fans one request out to many peers through a PeerClient.
type Broadcaster struct {
    client transport.PeerClient
    limit  int
}

// NewBroadcaster returns a Broadcaster. limit caps concurrent dispatches;
// zero or less means one goroutine per peer.
func NewBroadcaster(client transport.PeerClient, limit int) *Broadcaster {
    return &Broadcaster{client: client, limit: limit}
}

// Broadcast dispatches req to every peer and waits for all of them. Replies
// are returned in the order peers finished. A failing peer only yields an
// errored PeerReply.
func (b *Broadcaster) Broadcast(ctx context.Context, peers []transport.Peer, req transport.Request) []transport.PeerReply {
    var (
        mu  sync.Mutex
        out = make([]transport.PeerReply, 0, len(peers))
        g   errgroup.Group
    )
    if b.limit > 0 { g.SetLimit(b.limit) }
    for _, p := range peers {
        p := p
        g.Go(func() error {
            rep, err := b.client.Dispatch(ctx, p.Addr, req)
            mu.Lock()
            out = append(out, transport.PeerReply{Peer: p, Reply: rep, Err: err})
            mu.Unlock()
            return nil
        })
    }
    _ = g.Wait()
    return out
}

var _ transport.Broadcaster = (*Broadcaster)(nil)
