package main

import (
    "context"
    "flag"
    "fmt"
    "log"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "github.com/housemecn/rustfs/pkg/cluster"
    "github.com/housemecn/rustfs/pkg/detector"
    "github.com/housemecn/rustfs/pkg/quorum"
    "github.com/housemecn/rustfs/pkg/rebalance"
    "github.com/housemecn/rustfs/pkg/transport"
    "github.com/housemecn/rustfs/pkg/transport/httpjson"
)

func mgmtServer(addr string) transport.RPCServer {
    if addr == "" {
        return nil
    }
    return httpjson.NewServer(addr, log.Default())
}

// healthdemo runs a single-process reliability core with simulated disks:
// all disks heartbeat steadily until the chosen victim goes silent, which
// drives the suspect/fail hysteresis, quorum degradation and a recovery
// workflow that can be watched on the event stream.
func main() {
    var (
        groups   = flag.String("groups", "g1:4+2", "redundancy groups as id:data+parity specs (CSV)")
        disks    = flag.Int("disks", 6, "simulated disks in the first group")
        victim   = flag.String("victim", "disk-3", "disk that stops heartbeating")
        silence  = flag.Duration("after", 10*time.Second, "time until the victim goes silent")
        interval = flag.Duration("interval", 200*time.Millisecond, "heartbeat interval")
        mgmt     = flag.String("mgmt-addr", "", "optional management HTTP address (host:port)")
    )
    flag.Parse()

    ctx, cancel := signalContext()
    defer cancel()

    gcs, err := parseGroups(*groups)
    if err != nil {
        log.Fatal(err)
    }

    rec := &rebalance.Recorder{}
    core, err := cluster.New(ctx, cluster.Options{
        NodeID:       "demo",
        Groups:       gcs,
        EvalInterval: 250 * time.Millisecond,
        Logger:       log.Default(),
        Rebalancer:   rec,
        RPCServer:    mgmtServer(*mgmt),
    })
    if err != nil {
        log.Fatal(err)
    }
    if err := core.Start(ctx); err != nil {
        log.Fatal(err)
    }
    defer core.Close()

    group := gcs[0].GroupID
    ids := make([]string, 0, *disks)
    for i := 1; i <= *disks; i++ {
        id := fmt.Sprintf("disk-%d", i)
        ids = append(ids, id)
        if err := core.AddMember(id, detector.KindDisk, group); err != nil {
            log.Fatal(err)
        }
    }

    go func(evch <-chan cluster.Event) {
        for e := range evch {
            fmt.Printf("event: %-18s member=%-8s group=%-4s %s -> %s %s\n",
                e.Kind, e.MemberID, e.GroupID, e.OldState, e.NewState, e.Reason)
        }
    }(core.Subscribe(ctx))

    fmt.Printf("healthdemo: %d disks in %s, %s goes silent after %s. Press Ctrl+C to exit.\n",
        *disks, group, *victim, *silence)

    deadline := time.Now().Add(*silence)
    ticker := time.NewTicker(*interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            reqs := rec.Requests()
            fmt.Printf("rebalance requests issued: %d\n", len(reqs))
            for _, r := range reqs {
                fmt.Printf("  group=%s excluded=%v priority=%s\n", r.GroupID, r.Excluded, r.Priority)
            }
            return
        case now := <-ticker.C:
            for _, id := range ids {
                if id == *victim && now.After(deadline) {
                    continue
                }
                _ = core.DeliverHeartbeatResult(id, true, 5*time.Millisecond, now)
            }
        }
    }
}

func parseGroups(csv string) ([]quorum.Config, error) {
    var out []quorum.Config
    for _, part := range strings.Split(csv, ",") {
        part = strings.TrimSpace(part)
        if part == "" {
            continue
        }
        var id string
        var d, p int
        if n, err := fmt.Sscanf(part, "%[^:]:%d+%d", &id, &d, &p); err != nil || n != 3 {
            return nil, fmt.Errorf("bad group spec %q (want id:data+parity)", part)
        }
        out = append(out, quorum.Config{GroupID: id, Erasure: quorum.ErasureCodeConfig{DataShards: d, ParityShards: p}})
    }
    if len(out) == 0 {
        return nil, fmt.Errorf("no groups configured")
    }
    return out, nil
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}
