package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "net"
    "sync"
    "time"

    "go.opentelemetry.io/otel/attribute"
    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-retainer/pkg/observability/tracing"
    "github.com/amirimatin/go-retainer/pkg/transport"
)

// Server implements transport.PeerServer over gRPC using a MessagePack codec.
type Server struct {
    bind   string
    tlsCfg *tls.Config

    mu     sync.Mutex
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

type peerServer interface {
    Dispatch(ctx context.Context, in *transport.Request) (*transport.Reply, error)
}

type peerImpl struct{ handler transport.HandlerFunc }

func (p *peerImpl) Dispatch(ctx context.Context, in *transport.Request) (*transport.Reply, error) {
    if in == nil { in = &transport.Request{} }
    ctx, end := tracing.StartSpan(ctx, "grpc.dispatch",
        attribute.String("kind", string(in.Msg.Kind)), attribute.String("from", in.From))
    out, err := p.handler(ctx, *in)
    end(err)
    if err != nil { return nil, err }
    return &out, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Peer_serviceDesc = grpc.ServiceDesc{
    ServiceName: "retainer.v1.Peer",
    HandlerType: (*peerServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "Dispatch", Handler: _Peer_Dispatch_Handler},
    },
}

func _Peer_Dispatch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.Request)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(peerServer).Dispatch(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: dispatchMethod}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(peerServer).Dispatch(ctx, req.(*transport.Request))
    }
    return interceptor(ctx, in, info, handler)
}

// Start listens on the bind address and serves handler until ctx is done or
// Stop is called.
func (s *Server) Start(ctx context.Context, handler transport.HandlerFunc) error {
    if handler == nil { return errors.New("grpc: nil handler") }
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }

    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(msgpackCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    hs := health.NewServer()
    healthpb.RegisterHealthServer(srv, hs)
    hs.SetServingStatus("retainer.v1.Peer", healthpb.HealthCheckResponse_SERVING)
    srv.RegisterService(&_Peer_serviceDesc, &peerImpl{handler: handler})

    s.mu.Lock()
    s.lis, s.srv, s.health = lis, srv, hs
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = s.Stop(stopCtx)
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// Addr returns the bound address once started, or the configured bind.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

// Stop drains in-flight requests, forcing a hard stop when ctx ends first.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, hs := s.srv, s.health
    s.srv, s.health = nil, nil
    s.mu.Unlock()
    if srv == nil { return nil }
    hs.Shutdown()
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    }
    return nil
}

var _ transport.PeerServer = (*Server)(nil)
