package grpc

import (
    "context"

    "google.golang.org/grpc"
)

// SubscribeEvents opens a server-stream to a peer's event service and invokes
// onEvent for every JSON-encoded cluster event received. It returns when the
// stream breaks or the context is done; callers own reconnect policy.
func (c *Client) SubscribeEvents(ctx context.Context, addr string, peer string, onEvent func(data []byte)) error {
    cc, rel, err := c.getConn(ctx, addr)
    if err != nil {
        return err
    }
    defer rel()
    sd := &grpc.StreamDesc{ServerStreams: true}
    cs, err := cc.NewStream(ctx, sd, "/reliability.v1.Events/Subscribe")
    if err != nil {
        return err
    }
    if err := cs.SendMsg(&eventSubReq{Peer: peer}); err != nil {
        return err
    }
    _ = cs.CloseSend()
    for {
        var m eventMsg
        if err := cs.RecvMsg(&m); err != nil {
            return err
        }
        if onEvent != nil {
            onEvent(m.Data)
        }
    }
}
