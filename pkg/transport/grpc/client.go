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

    "github.com/housemecn/rustfs/pkg/transport"
)

// Client implements transport.RPCClient over gRPC with a JSON codec. Unary
// calls go through a shared connection pool so repeated calls to the same
// peer reuse one connection.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    pool    *connPool
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 {
        timeout = 3 * time.Second
    }
    return &Client{timeout: timeout}
}

// UseTLS sets the TLS config used when dialing peers.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    c.tlsCfg = cfg
    return c
}

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithBlock(),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.DialContext(ctx, target, opts...)
}

// getConn returns a managed connection, creating the pool on first use.
func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
    if c.pool == nil {
        c.pool = newConnPool(30*time.Second, c.dialCtx)
    }
    return c.pool.Get(ctx, addr)
}

// invoke performs one unary call against the management service.
func (c *Client) invoke(ctx context.Context, addr, method string, in, out interface{}) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil {
        return err
    }
    defer rel()
    return cc.Invoke(cctx, "/reliability.v1.Management/"+method, in, out)
}

func (c *Client) report(ctx context.Context, addr, method string) ([]byte, error) {
    out := new(reportBlob)
    if err := c.invoke(ctx, addr, method, &empty{}, out); err != nil {
        return nil, err
    }
    return out.Data, nil
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    return c.report(ctx, addr, "GetStatus")
}

func (c *Client) GetHealth(ctx context.Context, addr string) ([]byte, error) {
    return c.report(ctx, addr, "GetHealth")
}

func (c *Client) GetEliminations(ctx context.Context, addr string) ([]byte, error) {
    return c.report(ctx, addr, "GetEliminations")
}

func (c *Client) PostAddMember(ctx context.Context, addr string, req transport.AddMemberRequest) (transport.AddMemberResponse, error) {
    var resp transport.AddMemberResponse
    err := c.invoke(ctx, addr, "AddMember", &req, &resp)
    return resp, err
}

func (c *Client) PostRemoveMember(ctx context.Context, addr string, req transport.RemoveMemberRequest) (transport.RemoveMemberResponse, error) {
    var resp transport.RemoveMemberResponse
    err := c.invoke(ctx, addr, "RemoveMember", &req, &resp)
    return resp, err
}

func (c *Client) PostRejoin(ctx context.Context, addr string, req transport.RejoinRequest) (transport.RejoinResponse, error) {
    var resp transport.RejoinResponse
    err := c.invoke(ctx, addr, "Rejoin", &req, &resp)
    return resp, err
}

func (c *Client) PostHeartbeat(ctx context.Context, addr string, req transport.HeartbeatRequest) (transport.HeartbeatResponse, error) {
    var resp transport.HeartbeatResponse
    err := c.invoke(ctx, addr, "Heartbeat", &req, &resp)
    return resp, err
}

func (c *Client) PostMetric(ctx context.Context, addr string, req transport.MetricRequest) (transport.MetricResponse, error) {
    var resp transport.MetricResponse
    err := c.invoke(ctx, addr, "Metric", &req, &resp)
    return resp, err
}

func (c *Client) PostResolvePartition(ctx context.Context, addr string, req transport.ResolvePartitionRequest) (transport.ResolvePartitionResponse, error) {
    var resp transport.ResolvePartitionResponse
    err := c.invoke(ctx, addr, "ResolvePartition", &req, &resp)
    return resp, err
}

var _ transport.RPCClient = (*Client)(nil)

// Close releases all pooled connections.
func (c *Client) Close() {
    if c.pool != nil {
        c.pool.Close()
        c.pool = nil
    }
}
