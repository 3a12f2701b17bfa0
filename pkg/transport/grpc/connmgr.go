package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"

    obsmetrics "github.com/housemecn/rustfs/pkg/observability/metrics"
)

// connPool keeps one client connection per management endpoint and evicts
// idle ones, so repeated CLI calls and the event-stream subscriber do not
// redial for every request.
type connPool struct {
    mu    sync.Mutex
    dial  func(ctx context.Context, target string) (*grpc.ClientConn, error)
    idle  time.Duration
    done  chan struct{}
    entry map[string]*poolEntry
}

type poolEntry struct {
    cc     *grpc.ClientConn
    inUse  int
    seenAt time.Time
}

func newConnPool(idle time.Duration, dial func(ctx context.Context, target string) (*grpc.ClientConn, error)) *connPool {
    if idle <= 0 {
        idle = 30 * time.Second
    }
    p := &connPool{
        dial:  dial,
        idle:  idle,
        done:  make(chan struct{}),
        entry: make(map[string]*poolEntry),
    }
    go p.evictLoop()
    return p
}

// Get hands out a connection for target together with a release callback.
func (p *connPool) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    p.mu.Lock()
    if e, ok := p.entry[target]; ok && e.cc != nil {
        e.inUse++
        e.seenAt = time.Now()
        cc := e.cc
        p.mu.Unlock()
        obsmetrics.GRPCConnReuse.Inc()
        return cc, func() { p.put(target) }, nil
    }
    p.mu.Unlock()

    cc, err := p.dial(ctx, target)
    if err != nil {
        return nil, func() {}, err
    }

    p.mu.Lock()
    if e, ok := p.entry[target]; ok && e.cc != nil {
        // Lost the dial race; keep the cached conn.
        _ = cc.Close()
        e.inUse++
        e.seenAt = time.Now()
        winner := e.cc
        p.mu.Unlock()
        obsmetrics.GRPCConnReuse.Inc()
        return winner, func() { p.put(target) }, nil
    }
    p.entry[target] = &poolEntry{cc: cc, inUse: 1, seenAt: time.Now()}
    p.mu.Unlock()
    obsmetrics.GRPCConnDials.Inc()
    obsmetrics.GRPCConnActive.Inc()
    return cc, func() { p.put(target) }, nil
}

func (p *connPool) put(target string) {
    p.mu.Lock()
    defer p.mu.Unlock()
    e, ok := p.entry[target]
    if !ok {
        return
    }
    if e.inUse > 0 {
        e.inUse--
    }
    e.seenAt = time.Now()
}

// Close tears down every cached connection and stops the eviction loop.
func (p *connPool) Close() {
    close(p.done)
    p.mu.Lock()
    defer p.mu.Unlock()
    for target, e := range p.entry {
        if e.cc != nil {
            _ = e.cc.Close()
        }
        delete(p.entry, target)
    }
}

func (p *connPool) evictLoop() {
    ticker := time.NewTicker(p.idle / 2)
    defer ticker.Stop()
    for {
        select {
        case <-p.done:
            return
        case <-ticker.C:
            p.evictIdle(time.Now().Add(-p.idle))
        }
    }
}

func (p *connPool) evictIdle(cutoff time.Time) {
    p.mu.Lock()
    defer p.mu.Unlock()
    for target, e := range p.entry {
        if e.inUse != 0 || e.seenAt.After(cutoff) {
            continue
        }
        if e.cc != nil {
            _ = e.cc.Close()
        }
        delete(p.entry, target)
        obsmetrics.GRPCConnEvictions.Inc()
        obsmetrics.GRPCConnActive.Dec()
    }
}
