package httpjson

import (
    "context"
    "fmt"
    "io"
    "log"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-retainer/pkg/retain"
    "github.com/amirimatin/go-retainer/pkg/transport"
)

type recorder struct {
    filter retain.TopicFilter
    local  bool
    set    transport.SetRetainRequest
    sets   atomic.Int32
}

func testHandlers(rec *recorder) transport.MgmtHandlers {
    return transport.MgmtHandlers{
        Status: func(context.Context) (transport.NodeStatus, error) {
            return transport.NodeStatus{NodeID: "n1", RPCAddr: "127.0.0.1:7001", Retained: 2, MaxRetained: 10, Storage: "memory"}, nil
        },
        Get: func(_ context.Context, f retain.TopicFilter, local bool) ([]retain.TopicRetain, error) {
            rec.filter, rec.local = f, local
            if f == "bad/#/x" { return nil, fmt.Errorf("lookup: %w", retain.ErrInvalidFilter) }
            if f == "none" { return nil, nil }
            return []retain.TopicRetain{{Topic: "a/b", Retain: retain.Retain{Payload: []byte("v")}}}, nil
        },
        Set: func(_ context.Context, req transport.SetRetainRequest) error {
            rec.set = req
            rec.sets.Add(1)
            if req.Topic == "full" { return retain.ErrLimitExceeded }
            return nil
        },
    }
}

func newTestServer(t *testing.T, h transport.MgmtHandlers) (string, *Client) {
    t.Helper()
    ts := httptest.NewServer(Handler(h, log.New(io.Discard, "", 0)))
    t.Cleanup(ts.Close)
    return strings.TrimPrefix(ts.URL, "http://"), NewClient(time.Second)
}

func TestStatus(t *testing.T) {
    addr, c := newTestServer(t, testHandlers(&recorder{}))
    st, err := c.GetStatus(context.Background(), addr)
    require.NoError(t, err)
    assert.Equal(t, "n1", st.NodeID)
    assert.Equal(t, 2, st.Retained)
    assert.Equal(t, "memory", st.Storage)
}

func TestGetRetains_ScopeAndFilterEscaping(t *testing.T) {
    rec := &recorder{}
    addr, c := newTestServer(t, testHandlers(rec))

    resp, err := c.GetRetains(context.Background(), addr, "a/#", false)
    require.NoError(t, err)
    assert.Equal(t, retain.TopicFilter("a/#"), rec.filter)
    assert.False(t, rec.local)
    assert.Equal(t, "cluster", resp.Scope)
    require.Len(t, resp.Retains, 1)
    assert.Equal(t, "v", string(resp.Retains[0].Retain.Payload))

    resp, err = c.GetRetains(context.Background(), addr, "+/b", true)
    require.NoError(t, err)
    assert.True(t, rec.local)
    assert.Equal(t, "local", resp.Scope)
}

func TestGetRetains_EmptyIsArray(t *testing.T) {
    addr, _ := newTestServer(t, testHandlers(&recorder{}))
    res, err := http.Get("http://" + addr + "/retains?filter=none")
    require.NoError(t, err)
    defer res.Body.Close()
    b, _ := io.ReadAll(res.Body)
    assert.Contains(t, string(b), `"retains":[]`)
}

func TestGetRetains_InvalidFilterIs400(t *testing.T) {
    addr, c := newTestServer(t, testHandlers(&recorder{}))
    resp, err := c.GetRetains(context.Background(), addr, "bad/#/x", false)
    require.Error(t, err)
    assert.Contains(t, err.Error(), "400")
    assert.Contains(t, resp.Error, "invalid")
}

func TestPostRetain(t *testing.T) {
    rec := &recorder{}
    addr, c := newTestServer(t, testHandlers(rec))

    req := transport.SetRetainRequest{Topic: "a/b", Payload: []byte("hi"), QoS: 1, TTL: time.Minute}
    require.NoError(t, c.PostRetain(context.Background(), addr, req))
    assert.Equal(t, req, rec.set)

    err := c.PostRetain(context.Background(), addr, transport.SetRetainRequest{Topic: "full", Payload: []byte("x")})
    require.Error(t, err)
    assert.Contains(t, err.Error(), "409")
}

func TestPostRetain_LimitRejectionNotRetried(t *testing.T) {
    rec := &recorder{}
    addr, c := newTestServer(t, testHandlers(rec))
    err := c.PostRetain(context.Background(), addr, transport.SetRetainRequest{Topic: "full", Payload: []byte("x")})
    require.Error(t, err)
    assert.Equal(t, int32(1), rec.sets.Load())
}

func TestMethodNotAllowedAndNotSupported(t *testing.T) {
    addr, _ := newTestServer(t, transport.MgmtHandlers{})
    req, _ := http.NewRequest(http.MethodDelete, "http://"+addr+"/retains", nil)
    res, err := http.DefaultClient.Do(req)
    require.NoError(t, err)
    res.Body.Close()
    assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

    res, err = http.Get("http://" + addr + "/status")
    require.NoError(t, err)
    res.Body.Close()
    assert.Equal(t, http.StatusNotImplemented, res.StatusCode)
}

func TestHealthzAndMetrics(t *testing.T) {
    addr, _ := newTestServer(t, transport.MgmtHandlers{})
    for _, p := range []string{"/healthz", "/metrics"} {
        res, err := http.Get("http://" + addr + p)
        require.NoError(t, err)
        res.Body.Close()
        assert.Equal(t, http.StatusOK, res.StatusCode, p)
    }
}

func TestClient_Retries5xx(t *testing.T) {
    var hits atomic.Int32
    ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if hits.Add(1) < 3 { http.Error(w, "busy", http.StatusServiceUnavailable); return }
        writeJSON(w, http.StatusOK, transport.NodeStatus{NodeID: "late"})
    }))
    defer ts.Close()

    st, err := NewClient(time.Second).GetStatus(context.Background(), strings.TrimPrefix(ts.URL, "http://"))
    require.NoError(t, err)
    assert.Equal(t, "late", st.NodeID)
    assert.Equal(t, int32(3), hits.Load())
}

func TestServer_StartStop(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    s := NewServer("127.0.0.1:0", log.New(io.Discard, "", 0))
    require.NoError(t, s.Start(ctx, testHandlers(&recorder{})))

    st, err := NewClient(time.Second).GetStatus(ctx, s.Addr())
    require.NoError(t, err)
    assert.Equal(t, "n1", st.NodeID)
    require.NoError(t, s.Stop(context.Background()))
    require.NoError(t, s.Stop(context.Background()))
}
