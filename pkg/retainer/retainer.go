// Package retainer implements cluster-aware retained message lookup.
//
// A Retainer decorates the node-local retain.Storage: Set, Count and Max are
// forwarded untouched, while Get merges the local matches with the matches
// reported by every reachable peer. Writes never leave the node.
package retainer

import (
    "context"
    "errors"
    "log"
    "time"

    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-retainer/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-retainer/pkg/observability/metrics"
    "github.com/amirimatin/go-retainer/pkg/observability/tracing"
    "github.com/amirimatin/go-retainer/pkg/retain"
    "github.com/amirimatin/go-retainer/pkg/transport"
)

// PeerSource returns the peers reachable right now. It is consulted on every
// Get and may return an empty slice.
type PeerSource interface {
    Peers() []transport.Peer
}

// PeerSourceFunc adapts a function to PeerSource.
type PeerSourceFunc func() []transport.Peer

func (f PeerSourceFunc) Peers() []transport.Peer { return f() }

// Options wires a Retainer to its collaborators.
type Options struct {
    // Store is the node-local retained message store (required).
    Store retain.Storage
    // Peers discovers cluster peers. Nil means a single-node deployment.
    Peers PeerSource
    // Broadcaster delivers peer requests. Required when Peers is set.
    Broadcaster transport.Broadcaster
    // MessageType tags outbound peer requests.
    MessageType transport.MessageType
    // NodeID is carried in outbound requests for the receiver's logs.
    NodeID string
    Logger *log.Logger
}

// Retainer is the retained message coordinator. It holds no mutable state
// after construction and is safe for concurrent use.
type Retainer struct {
    inner   retain.Storage
    peers   PeerSource
    bcast   transport.Broadcaster
    msgType transport.MessageType
    nodeID  string
    logger  *log.Logger
}

// New builds a Retainer. Most callers want GetOrInit instead, which keeps a
// single coordinator per process.
func New(opts Options) (*Retainer, error) {
    if opts.Store == nil {
        return nil, errors.New("retainer: nil Store")
    }
    if opts.Peers != nil && opts.Broadcaster == nil {
        return nil, errors.New("retainer: Peers configured without Broadcaster")
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &Retainer{
        inner:   opts.Store,
        peers:   opts.Peers,
        bcast:   opts.Broadcaster,
        msgType: opts.MessageType,
        nodeID:  opts.NodeID,
        logger:  opts.Logger,
    }, nil
}

// MessageType returns the tag attached to outbound peer requests.
func (r *Retainer) MessageType() transport.MessageType { return r.msgType }

// Inner returns the node-local store.
func (r *Retainer) Inner() retain.Storage { return r.inner }

// Set stores retain on the local node only.
func (r *Retainer) Set(ctx context.Context, topic retain.TopicName, rt retain.Retain) error {
    err := r.inner.Set(ctx, topic, rt)
    obsmetrics.RetainSets.WithLabelValues(result(err)).Inc()
    return err
}

// Get returns the retained messages matching filter on this node followed by
// those reported by every peer that answered successfully. Local failures are
// returned as is and no peer is contacted; peer failures are logged and only
// drop that peer's contribution. Duplicates across nodes are kept. When ctx
// ends during the fan-out the partial result is discarded and ctx.Err() is
// returned.
func (r *Retainer) Get(ctx context.Context, filter retain.TopicFilter) ([]retain.TopicRetain, error) {
    ctx, end := tracing.StartSpan(ctx, "retainer.get", attribute.String("filter", string(filter)))
    retains, err := r.inner.Get(ctx, filter)
    if err != nil {
        obsmetrics.RetainGets.WithLabelValues("local", "error").Inc()
        end(err)
        return nil, err
    }

    peers := r.currentPeers()
    if len(peers) == 0 {
        obsmetrics.RetainGets.WithLabelValues("local", "ok").Inc()
        end(nil)
        return retains, nil
    }

    req := transport.Request{Type: r.msgType, From: r.nodeID, Msg: transport.GetRetains(filter)}
    retains = r.merge(ctx, r.fanout(ctx, peers, req), filter, retains)
    if err := ctx.Err(); err != nil {
        obsmetrics.RetainGets.WithLabelValues("cluster", "error").Inc()
        end(err)
        return nil, err
    }
    obsmetrics.RetainGets.WithLabelValues("cluster", "ok").Inc()
    end(nil)
    return retains, nil
}

func (r *Retainer) fanout(ctx context.Context, peers []transport.Peer, req transport.Request) []transport.PeerReply {
    ctx, end := tracing.StartSpan(ctx, "retainer.fanout", attribute.Int("peers", len(peers)))
    defer end(nil)
    start := time.Now()
    replies := r.bcast.Broadcast(ctx, peers, req)
    obsmetrics.FanoutPeers.Observe(float64(len(peers)))
    obsmetrics.FanoutDuration.Observe(time.Since(start).Seconds())
    return replies
}

func (r *Retainer) merge(ctx context.Context, replies []transport.PeerReply, filter retain.TopicFilter, retains []retain.TopicRetain) []retain.TopicRetain {
    for _, pr := range replies {
        if pr.Err != nil {
            obsmetrics.PeerReplies.WithLabelValues("error").Inc()
            // the caller gave up; the peer is not at fault
            if ctx.Err() != nil {
                logutil.Debugf(r.logger, "get retains from peer %s (%s), topic_filter: %q, abandoned: %v", pr.Peer.ID, pr.Peer.Addr, filter, pr.Err)
                continue
            }
            logutil.Errorf(r.logger, "get retains from peer %s (%s), topic_filter: %q, error: %v", pr.Peer.ID, pr.Peer.Addr, filter, pr.Err)
            continue
        }
        if pr.Reply.Kind != transport.ReplyGetRetains {
            obsmetrics.PeerReplies.WithLabelValues("mismatch").Inc()
            logutil.Debugf(r.logger, "ignoring %s reply from peer %s for topic_filter %q", pr.Reply.Kind, pr.Peer.ID, filter)
            continue
        }
        if len(pr.Reply.Retains) == 0 {
            obsmetrics.PeerReplies.WithLabelValues("empty").Inc()
            continue
        }
        obsmetrics.PeerReplies.WithLabelValues("ok").Inc()
        retains = append(retains, pr.Reply.Retains...)
    }
    return retains
}

func (r *Retainer) currentPeers() []transport.Peer {
    if r.peers == nil || r.bcast == nil {
        return nil
    }
    return r.peers.Peers()
}

// Count returns the local store's message count. It is not aggregated
// across the cluster.
func (r *Retainer) Count(ctx context.Context) (int, error) { return r.inner.Count(ctx) }

// Max returns the local store's capacity ceiling.
func (r *Retainer) Max() int { return r.inner.Max() }

// LocalGet queries only the node-local store.
func (r *Retainer) LocalGet(ctx context.Context, filter retain.TopicFilter) ([]retain.TopicRetain, error) {
    retains, err := r.inner.Get(ctx, filter)
    obsmetrics.RetainGets.WithLabelValues("local", result(err)).Inc()
    return retains, err
}

func result(err error) string {
    if err != nil { return "error" }
    return "ok"
}

var _ retain.Storage = (*Retainer)(nil)
