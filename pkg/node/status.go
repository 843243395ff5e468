package node

import (
    "context"
    "fmt"

    "github.com/amirimatin/go-retainer/pkg/membership"
    "github.com/amirimatin/go-retainer/pkg/retain"
    "github.com/amirimatin/go-retainer/pkg/transport"
)

// Status reports the node's view of itself and its peers.
func (n *Node) Status(ctx context.Context) (transport.NodeStatus, error) {
    st := transport.NodeStatus{
        NodeID:      n.cfg.NodeID,
        RPCAddr:     n.RPCAddr(),
        MgmtAddr:    n.MgmtAddr(),
        MessageType: n.ret.MessageType(),
        Peers:       n.peers(),
        MaxRetained: n.ret.Max(),
        Storage:     n.cfg.StorageKind,
    }
    if st.Peers == nil { st.Peers = []transport.Peer{} }
    c, err := n.ret.Count(ctx)
    if err != nil { return st, err }
    st.Retained = c

    mem := n.membership()
    if mem == nil {
        st.Warnings = append(st.Warnings, "membership not started")
    } else if score := membership.Health(mem); score > 0 {
        st.Warnings = append(st.Warnings, fmt.Sprintf("gossip health degraded (score %d)", score))
    }
    if st.MaxRetained > 0 && st.Retained*10 >= st.MaxRetained*9 {
        st.Warnings = append(st.Warnings, fmt.Sprintf("store near capacity (%d/%d)", st.Retained, st.MaxRetained))
    }
    return st, nil
}

func (n *Node) mgmtHandlers() transport.MgmtHandlers {
    return transport.MgmtHandlers{
        Status: n.Status,
        Get: func(ctx context.Context, filter retain.TopicFilter, local bool) ([]retain.TopicRetain, error) {
            if local { return n.ret.LocalGet(ctx, filter) }
            return n.ret.Get(ctx, filter)
        },
        Set: n.Publish,
    }
}
