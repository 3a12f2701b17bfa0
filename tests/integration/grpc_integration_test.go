//go:build integration

package integration

import (
    "context"
    "encoding/json"
    "sync/atomic"
    "testing"
    "time"

    "github.com/housemecn/rustfs/pkg/bootstrap"
    "github.com/housemecn/rustfs/pkg/transport"
    mgmtgrpc "github.com/housemecn/rustfs/pkg/transport/grpc"
)

func TestGRPCManagementSurface(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()

    node, err := bootstrap.Run(ctx, bootstrap.Config{
        NodeID:       "n1",
        MgmtAddr:     "127.0.0.1:17986",
        MgmtProto:    "grpc",
        GroupsCSV:    "g1:4+2",
        EvalInterval: 200 * time.Millisecond,
    })
    if err != nil {
        t.Fatalf("n1: %v", err)
    }
    defer node.Close()

    cli := mgmtgrpc.NewClient(3 * time.Second)
    defer cli.Close()
    addr := "127.0.0.1:17986"

    resp, err := cli.PostAddMember(ctx, addr, transport.AddMemberRequest{ID: "disk-1", Kind: "disk", Group: "g1"})
    if err != nil || !resp.Accepted {
        t.Fatalf("add over grpc: %v resp=%+v", err, resp)
    }
    if _, err := cli.PostHeartbeat(ctx, addr, transport.HeartbeatRequest{ID: "disk-1", Success: true, LatencyMS: 4}); err != nil {
        t.Fatalf("heartbeat over grpc: %v", err)
    }

    b, err := cli.GetStatus(ctx, addr)
    if err != nil {
        t.Fatalf("status over grpc: %v", err)
    }
    var s status
    if err := json.Unmarshal(b, &s); err != nil {
        t.Fatalf("status decode: %v (%s)", err, b)
    }
    if len(s.Members) != 1 || s.Members[0].ID != "disk-1" {
        t.Fatalf("unexpected members: %+v", s.Members)
    }
}

func TestGRPCEventStream(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()

    node, err := bootstrap.Run(ctx, bootstrap.Config{
        NodeID:       "n1",
        MgmtAddr:     "127.0.0.1:17996",
        MgmtProto:    "grpc",
        GroupsCSV:    "g1:4+2",
        EvalInterval: 200 * time.Millisecond,
    })
    if err != nil {
        t.Fatalf("n1: %v", err)
    }
    defer node.Close()

    cli := mgmtgrpc.NewClient(3 * time.Second)
    defer cli.Close()
    addr := "127.0.0.1:17996"

    var sawAdd atomic.Bool
    streamCtx, stopStream := context.WithCancel(ctx)
    defer stopStream()
    go func() {
        _ = cli.SubscribeEvents(streamCtx, addr, "watcher", func(data []byte) {
            var ev struct {
                Kind     string `json:"kind"`
                MemberID string `json:"memberId"`
            }
            if json.Unmarshal(data, &ev) == nil && ev.Kind == "member_added" && ev.MemberID == "disk-1" {
                sawAdd.Store(true)
            }
        })
    }()

    // Give the stream a moment to register before producing the event.
    time.Sleep(500 * time.Millisecond)
    if _, err := cli.PostAddMember(ctx, addr, transport.AddMemberRequest{ID: "disk-1", Kind: "disk", Group: "g1"}); err != nil {
        t.Fatalf("add: %v", err)
    }

    waitUntil(t, 10*time.Second, func() error {
        if !sawAdd.Load() {
            return errNotYet
        }
        return nil
    })
}
