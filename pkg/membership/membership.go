// Package membership abstracts the gossip layer that tells a node which
// peers exist and how to reach their peer RPC endpoint.
package membership

import (
    "context"
    "time"

    obsmetrics "github.com/amirimatin/go-retainer/pkg/observability/metrics"
    "github.com/amirimatin/go-retainer/pkg/transport"
)

// Meta keys gossiped with every member.
const (
    MetaRPC  = "rpc"
    MetaMgmt = "mgmt"
)

// MemberInfo describes a cluster member as observed by the membership layer.
// Addr is the gossip address; Meta carries the peer RPC and management
// addresses.
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

// RPCAddr returns the member's peer RPC address, or "" if it never
// advertised one.
func (m MemberInfo) RPCAddr() string { return m.Meta[MetaRPC] }

type EventType string

const (
    EventJoin   EventType = "join"
    EventLeave  EventType = "leave"
    EventUpdate EventType = "update"
)

// Event is a translated membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the abstraction over the gossip/failure-detection layer.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}

// Peers turns a Membership into the list of peers a lookup must query:
// every live member except the local node that advertises an RPC address.
// The list is rebuilt on each call.
type Peers struct {
    M Membership
}

func (p Peers) Peers() []transport.Peer {
    if p.M == nil { return nil }
    self := p.M.Local().ID
    members := p.M.Members()
    obsmetrics.Members.Set(float64(len(members)))
    out := make([]transport.Peer, 0, len(members))
    for _, m := range members {
        if m.ID == self { continue }
        addr := m.RPCAddr()
        if addr == "" { continue }
        out = append(out, transport.Peer{ID: m.ID, Addr: addr})
    }
    return out
}
