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
    "time"

    "github.com/housemecn/rustfs/pkg/transport"
)

// Client is a thin HTTP client for the management API. It supports optional
// TLS configuration and simple retry with backoff for robustness.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

// getJSON fetches a read-only endpoint with retry and backoff.
func (c *Client) getJSON(ctx context.Context, addr, path string) ([]byte, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(addr, path), nil)
    if err != nil { return nil, err }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = err
        } else {
            b, rerr := io.ReadAll(resp.Body)
            resp.Body.Close()
            if rerr != nil {
                lastErr = rerr
            } else if resp.StatusCode != http.StatusOK {
                lastErr = fmt.Errorf("%s status %d: %s", path, resp.StatusCode, string(b))
            } else {
                return b, nil
            }
        }
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return nil, lastErr
}

// postJSON posts req and decodes the response body into out, retrying with
// backoff. Non-200 responses still decode out so callers can inspect
// structured Error fields.
func (c *Client) postJSON(ctx context.Context, addr, path string, req any, out any) error {
    body, err := json.Marshal(req)
    if err != nil { return err }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(addr, path), bytes.NewReader(body))
        if err != nil { return err }
        httpReq.Header.Set("Content-Type", "application/json")
        resp, err := c.httpc.Do(httpReq)
        if err != nil {
            lastErr = err
        } else {
            b, rerr := io.ReadAll(resp.Body)
            resp.Body.Close()
            if rerr != nil {
                lastErr = rerr
            } else {
                _ = json.Unmarshal(b, out)
                if resp.StatusCode != http.StatusOK {
                    lastErr = fmt.Errorf("%s status %d: %s", path, resp.StatusCode, string(b))
                } else {
                    return nil
                }
            }
        }
        select {
        case <-ctx.Done():
            if lastErr == nil { lastErr = ctx.Err() }
            return lastErr
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    if lastErr == nil { lastErr = errors.New("httpjson: request failed") }
    return lastErr
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    return c.getJSON(ctx, addr, "/status")
}

func (c *Client) GetHealth(ctx context.Context, addr string) ([]byte, error) {
    return c.getJSON(ctx, addr, "/health")
}

func (c *Client) GetEliminations(ctx context.Context, addr string) ([]byte, error) {
    return c.getJSON(ctx, addr, "/eliminations")
}

func (c *Client) PostAddMember(ctx context.Context, addr string, req transport.AddMemberRequest) (transport.AddMemberResponse, error) {
    var out transport.AddMemberResponse
    err := c.postJSON(ctx, addr, "/members/add", req, &out)
    return out, err
}

func (c *Client) PostRemoveMember(ctx context.Context, addr string, req transport.RemoveMemberRequest) (transport.RemoveMemberResponse, error) {
    var out transport.RemoveMemberResponse
    err := c.postJSON(ctx, addr, "/members/remove", req, &out)
    return out, err
}

func (c *Client) PostRejoin(ctx context.Context, addr string, req transport.RejoinRequest) (transport.RejoinResponse, error) {
    var out transport.RejoinResponse
    err := c.postJSON(ctx, addr, "/members/rejoin", req, &out)
    return out, err
}

func (c *Client) PostHeartbeat(ctx context.Context, addr string, req transport.HeartbeatRequest) (transport.HeartbeatResponse, error) {
    var out transport.HeartbeatResponse
    err := c.postJSON(ctx, addr, "/heartbeat", req, &out)
    return out, err
}

func (c *Client) PostMetric(ctx context.Context, addr string, req transport.MetricRequest) (transport.MetricResponse, error) {
    var out transport.MetricResponse
    err := c.postJSON(ctx, addr, "/metric", req, &out)
    return out, err
}

func (c *Client) PostResolvePartition(ctx context.Context, addr string, req transport.ResolvePartitionRequest) (transport.ResolvePartitionResponse, error) {
    var out transport.ResolvePartitionResponse
    err := c.postJSON(ctx, addr, "/partition/resolve", req, &out)
    return out, err
}

var _ transport.RPCClient = (*Client)(nil)
