package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "time"

    "github.com/amirimatin/go-retainer/pkg/retain"
    "github.com/amirimatin/go-retainer/pkg/transport"
)

// Client is a thin HTTP client for the management API. It supports optional
// TLS and retries transport failures and 5xx answers with backoff.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
    attempts  int
}

// NewClient constructs a new Client with the given timeout (3s if <= 0).
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr, attempts: 3}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string, q url.Values) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    u := url.URL{Scheme: scheme, Host: addr, Path: path}
    if q != nil { u.RawQuery = q.Encode() }
    return u.String()
}

// statusError is a non-2xx answer. 4xx answers are not retried.
type statusError struct {
    code int
    msg  string
}

func (e *statusError) Error() string { return fmt.Sprintf("status %d: %s", e.code, e.msg) }

// do sends the request and decodes the JSON body into out. When the server
// answered with a JSON error body, out is still populated.
func (c *Client) do(ctx context.Context, method, target string, body []byte, out any) error {
    var lastErr error
    for attempt := 0; attempt < c.attempts; attempt++ {
        lastErr = c.once(ctx, method, target, body, out)
        if lastErr == nil { return nil }
        var se *statusError
        if errors.As(lastErr, &se) && se.code < 500 { return lastErr }
        // backoff unless context is done
        select {
        case <-ctx.Done():
            return lastErr
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return lastErr
}

func (c *Client) once(ctx context.Context, method, target string, body []byte, out any) error {
    var rd io.Reader
    if body != nil { rd = bytes.NewReader(body) }
    req, err := http.NewRequestWithContext(ctx, method, target, rd)
    if err != nil { return err }
    if body != nil { req.Header.Set("Content-Type", "application/json") }
    resp, err := c.httpc.Do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    b, err := io.ReadAll(resp.Body)
    if err != nil { return err }
    decodeErr := json.Unmarshal(b, out)
    if resp.StatusCode != http.StatusOK {
        var eb errorBody
        if json.Unmarshal(b, &eb) == nil && eb.Error != "" {
            return &statusError{code: resp.StatusCode, msg: eb.Error}
        }
        return &statusError{code: resp.StatusCode, msg: string(bytes.TrimSpace(b))}
    }
    return decodeErr
}

func (c *Client) GetStatus(ctx context.Context, addr string) (transport.NodeStatus, error) {
    var out transport.NodeStatus
    err := c.do(ctx, http.MethodGet, c.url(addr, "/status", nil), nil, &out)
    return out, err
}

// GetRetains lists retained messages matching filter. local restricts the
// lookup to the addressed node.
func (c *Client) GetRetains(ctx context.Context, addr string, filter retain.TopicFilter, local bool) (transport.GetRetainsResponse, error) {
    q := url.Values{"filter": {string(filter)}}
    if local { q.Set("local", "1") }
    var out transport.GetRetainsResponse
    err := c.do(ctx, http.MethodGet, c.url(addr, "/retains", q), nil, &out)
    return out, err
}

func (c *Client) PostRetain(ctx context.Context, addr string, req transport.SetRetainRequest) error {
    body, err := json.Marshal(req)
    if err != nil { return err }
    var out errorBody
    return c.do(ctx, http.MethodPost, c.url(addr, "/retains", nil), body, &out)
}

var _ transport.MgmtClient = (*Client)(nil)
