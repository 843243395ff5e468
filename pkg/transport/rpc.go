package transport

import (
    "context"

    "github.com/amirimatin/go-retainer/pkg/retain"
)

// MessageType tags a peer request with the logical handler that should
// process it on the receiving node. Nodes only answer types they serve.
type MessageType uint64

// MessageKind identifies the request payload.
type MessageKind string

const (
    // KindGetRetains asks a peer for its local retained messages matching a filter.
    KindGetRetains MessageKind = "get_retains"
)

// Message is the request payload sent to peers.
type Message struct {
    Kind   MessageKind        `json:"kind"`
    Filter retain.TopicFilter `json:"filter,omitempty"`
}

// GetRetains builds the "get retains matching filter" message.
func GetRetains(filter retain.TopicFilter) Message {
    return Message{Kind: KindGetRetains, Filter: filter}
}

// Request is the envelope delivered to every peer of a broadcast.
type Request struct {
    Type MessageType `json:"type"`
    // From is the sender node id, informational only.
    From string  `json:"from,omitempty"`
    Msg  Message `json:"msg"`
}

// ReplyKind identifies the reply payload.
type ReplyKind string

const (
    ReplyGetRetains  ReplyKind = "get_retains"
    ReplyUnsupported ReplyKind = "unsupported"
    // ReplyError carries a node-local failure of the peer (e.g. its store).
    ReplyError ReplyKind = "error"
)

// Reply is a typed peer answer. Only the field matching Kind is populated.
type Reply struct {
    Kind    ReplyKind            `json:"kind"`
    Retains []retain.TopicRetain `json:"retains,omitempty"`
    Error   string               `json:"error,omitempty"`
}

// Peer is a reachable remote node.
type Peer struct {
    ID   string `json:"id"`
    Addr string `json:"addr"`
}

// PeerReply is the outcome of one peer's branch of a broadcast: either a
// Reply or a communication error.
type PeerReply struct {
    Peer  Peer
    Reply Reply
    Err   error
}

// Broadcaster delivers one request to many peers concurrently. It returns one
// PeerReply per peer, in completion order, after every peer has produced an
// outcome. A failing peer never aborts the batch.
type Broadcaster interface {
    Broadcast(ctx context.Context, peers []Peer, req Request) []PeerReply
}

// HandlerFunc answers an inbound peer request.
type HandlerFunc func(ctx context.Context, req Request) (Reply, error)

// PeerServer accepts peer requests on behalf of the local node.
type PeerServer interface {
    Start(ctx context.Context, handler HandlerFunc) error
    Addr() string
    Stop(ctx context.Context) error
}

// PeerClient sends a single request to one peer.
type PeerClient interface {
    Dispatch(ctx context.Context, addr string, req Request) (Reply, error)
}
