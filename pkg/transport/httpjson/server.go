package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-retainer/pkg/internal/logutil"
    "github.com/amirimatin/go-retainer/pkg/observability/tracing"
    "github.com/amirimatin/go-retainer/pkg/retain"
    "github.com/amirimatin/go-retainer/pkg/transport"
)

// Server exposes the node management API: status, retained message lookup
// and publish, health and Prometheus metrics. It is meant for operators and
// tooling, peers talk over the gRPC transport.
type Server struct {
    bind   string
    logger *log.Logger
    tlsCfg *tls.Config

    mu  sync.Mutex
    srv *http.Server
    ln  net.Listener
}

// NewServer binds to the given TCP address (e.g., ":18080").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Handler returns the API mux for h. Start serves it; tests may mount it on
// an httptest server directly.
func Handler(h transport.MgmtHandlers, logger *log.Logger) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if h.Status == nil { http.Error(w, "status not supported", http.StatusNotImplemented); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        st, err := h.Status(ctx)
        end(err)
        if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
        writeJSON(w, http.StatusOK, st)
    })
    mux.HandleFunc("/retains", func(w http.ResponseWriter, r *http.Request) {
        switch r.Method {
        case http.MethodGet:
            getRetains(w, r, h.Get)
        case http.MethodPost:
            postRetain(w, r, h.Set, logger)
        default:
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        }
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    return mux
}

func getRetains(w http.ResponseWriter, r *http.Request, get transport.GetRetainsFunc) {
    if get == nil { http.Error(w, "get not supported", http.StatusNotImplemented); return }
    q := r.URL.Query()
    filter := retain.TopicFilter(q.Get("filter"))
    if filter == "" { filter = "#" }
    local := q.Get("local") == "1" || q.Get("local") == "true"
    resp := transport.GetRetainsResponse{Filter: filter, Scope: "cluster"}
    if local { resp.Scope = "local" }

    ctx, end := tracing.StartSpan(r.Context(), "http.retains",
        attribute.String("filter", string(filter)), attribute.Bool("local", local))
    retains, err := get(ctx, filter, local)
    end(err)
    if err != nil {
        resp.Error = err.Error()
        writeJSON(w, statusFor(err), resp)
        return
    }
    if retains == nil { retains = []retain.TopicRetain{} }
    resp.Retains = retains
    writeJSON(w, http.StatusOK, resp)
}

func postRetain(w http.ResponseWriter, r *http.Request, set transport.SetRetainFunc, logger *log.Logger) {
    if set == nil { http.Error(w, "set not supported", http.StatusNotImplemented); return }
    var req transport.SetRetainRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
        return
    }
    ctx, end := tracing.StartSpan(r.Context(), "http.set_retain", attribute.String("topic", string(req.Topic)))
    err := set(ctx, req)
    end(err)
    if err != nil {
        logutil.Warnf(logger, "set retain %q rejected: %v", req.Topic, err)
        writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
        return
    }
    writeJSON(w, http.StatusOK, errorBody{})
}

type errorBody struct {
    Error string `json:"error,omitempty"`
}

func statusFor(err error) int {
    switch {
    case errors.Is(err, retain.ErrInvalidTopic), errors.Is(err, retain.ErrInvalidFilter):
        return http.StatusBadRequest
    case errors.Is(err, retain.ErrPayloadTooLarge):
        return http.StatusRequestEntityTooLarge
    case errors.Is(err, retain.ErrLimitExceeded):
        // deterministic rejection; clients must not retry it
        return http.StatusConflict
    case errors.Is(err, retain.ErrClosed):
        return http.StatusServiceUnavailable
    default:
        return http.StatusInternalServerError
    }
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

// Start launches the HTTP server. It is shut down when ctx is canceled.
func (s *Server) Start(ctx context.Context, h transport.MgmtHandlers) error {
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }
    srv := &http.Server{Handler: Handler(h, s.logger), ReadHeaderTimeout: 5 * time.Second}

    s.mu.Lock()
    s.srv, s.ln = srv, ln
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    return nil
}

// Addr returns the bound address once started, or the configured bind.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.ln != nil { return s.ln.Addr().String() }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}

var _ transport.MgmtServer = (*Server)(nil)
