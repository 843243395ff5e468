package retainer

import (
    "context"

    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-retainer/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-retainer/pkg/observability/metrics"
    "github.com/amirimatin/go-retainer/pkg/observability/tracing"
    "github.com/amirimatin/go-retainer/pkg/transport"
)

// HandlePeer answers a request from another node. GetRetains is served from
// the local store only so a lookup never fans out twice.
func (r *Retainer) HandlePeer(ctx context.Context, req transport.Request) (transport.Reply, error) {
    if req.Type != r.msgType || req.Msg.Kind != transport.KindGetRetains {
        obsmetrics.PeerRequestsServed.WithLabelValues(string(transport.ReplyUnsupported)).Inc()
        logutil.Warnf(r.logger, "unsupported peer request from %s: type=%d kind=%s", req.From, req.Type, req.Msg.Kind)
        return transport.Reply{Kind: transport.ReplyUnsupported}, nil
    }
    ctx, end := tracing.StartSpan(ctx, "retainer.handle_peer",
        attribute.String("from", req.From), attribute.String("filter", string(req.Msg.Filter)))
    retains, err := r.inner.Get(ctx, req.Msg.Filter)
    end(err)
    if err != nil {
        obsmetrics.PeerRequestsServed.WithLabelValues(string(transport.ReplyError)).Inc()
        logutil.Warnf(r.logger, "local get for peer %s failed, topic_filter: %q, error: %v", req.From, req.Msg.Filter, err)
        return transport.Reply{Kind: transport.ReplyError, Error: err.Error()}, nil
    }
    obsmetrics.PeerRequestsServed.WithLabelValues(string(transport.ReplyGetRetains)).Inc()
    return transport.Reply{Kind: transport.ReplyGetRetains, Retains: retains}, nil
}
