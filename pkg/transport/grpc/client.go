package grpc

import (
    "context"
    "crypto/tls"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-retainer/pkg/transport"
)

const dispatchMethod = "/retainer.v1.Peer/Dispatch"

// Client sends peer requests over gRPC, reusing one connection per peer.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    cm      *ConnManager
}

// NewClient returns a client. A positive timeout bounds every Dispatch;
// zero leaves the deadline to the caller's context.
func NewClient(timeout time.Duration) *Client {
    c := &Client{timeout: timeout}
    c.cm = NewConnManager(30*time.Second, c.dial)
    return c
}

// UseTLS sets TLS config for the client. Call before the first Dispatch.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dial(_ context.Context, target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(msgpackCodec{}), grpc.CallContentSubtype("msgpack")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.NewClient("passthrough:///"+target, opts...)
}

// Dispatch sends req to the peer at addr and returns its reply.
func (c *Client) Dispatch(ctx context.Context, addr string, req transport.Request) (transport.Reply, error) {
    if c.timeout > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, c.timeout)
        defer cancel()
    }
    var resp transport.Reply
    cc, release, err := c.cm.Acquire(ctx, addr)
    if err != nil { return resp, err }
    defer release()
    if err := cc.Invoke(ctx, dispatchMethod, &req, &resp); err != nil { return resp, err }
    return resp, nil
}

// Close releases every cached peer connection.
func (c *Client) Close() error {
    c.cm.Close()
    return nil
}

var _ transport.PeerClient = (*Client)(nil)
