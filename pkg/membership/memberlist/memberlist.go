// Package memberlist backs the membership abstraction with HashiCorp
// memberlist gossip. Gossip output is delivered as liveness evidence only;
// failure verdicts belong to the detector consuming the events.
package memberlist

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    base "github.com/housemecn/rustfs/pkg/membership"
)

// Options configures the gossip layer for one node.
type Options struct {
    // NodeID is the unique node identifier, used as the gossip node name.
    NodeID string

    // Bind is the gossip bind address, host:port.
    Bind string

    // Advertise is the address peers dial back, host:port. Empty lets
    // memberlist derive it from Bind.
    Advertise string

    // Meta is gossiped alongside the node, e.g. the management address
    // under the "mgmt" key.
    Meta map[string]string

    Logger *log.Logger

    // Probe tuning; zero values keep memberlist's LAN defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int

    // AliveInterval re-emits EventAlive for every visible member on a
    // timer. Gossip only reports edges, while the failure detector needs
    // steady-state evidence. Zero disables the refresher.
    AliveInterval time.Duration
}

type gossip struct {
    mu     sync.RWMutex
    opts   Options
    list   *memberlist.Memberlist
    events chan base.Event
    stopCh chan struct{}
    closed bool
}

// New validates Options and returns an unstarted gossip membership.
func New(opts Options) (base.Membership, error) {
    if opts.NodeID == "" {
        return nil, fmt.Errorf("memberlist: empty NodeID")
    }
    if opts.Bind == "" {
        return nil, fmt.Errorf("memberlist: empty Bind address")
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &gossip{
        opts:   opts,
        events: make(chan base.Event, 64),
        stopCh: make(chan struct{}),
    }, nil
}

func (g *gossip) buildConfig() (*memberlist.Config, error) {
    cfg := memberlist.DefaultLANConfig()
    cfg.Name = g.opts.NodeID

    host, port, err := splitHostPort(g.opts.Bind)
    if err != nil {
        return nil, fmt.Errorf("memberlist: bind address %q: %w", g.opts.Bind, err)
    }
    cfg.BindAddr = host
    cfg.BindPort = port

    if g.opts.Advertise != "" {
        host, port, err := splitHostPort(g.opts.Advertise)
        if err != nil {
            return nil, fmt.Errorf("memberlist: advertise address %q: %w", g.opts.Advertise, err)
        }
        cfg.AdvertiseAddr = host
        cfg.AdvertisePort = port
    }

    if g.opts.ProbeInterval > 0 {
        cfg.ProbeInterval = g.opts.ProbeInterval
    }
    if g.opts.ProbeTimeout > 0 {
        cfg.ProbeTimeout = g.opts.ProbeTimeout
    }
    if g.opts.SuspicionMult > 0 {
        cfg.SuspicionMult = g.opts.SuspicionMult
    }

    cfg.Events = &eventDelegate{emit: g.emit}
    metaBytes, _ := json.Marshal(g.opts.Meta)
    cfg.Delegate = &metaDelegate{meta: metaBytes}
    return cfg, nil
}

// Start launches the memberlist instance. Idempotent.
func (g *gossip) Start(ctx context.Context) error {
    g.mu.Lock()
    defer g.mu.Unlock()
    if g.list != nil {
        return nil
    }

    cfg, err := g.buildConfig()
    if err != nil {
        return err
    }
    list, err := memberlist.Create(cfg)
    if err != nil {
        return err
    }
    g.list = list

    if g.opts.AliveInterval > 0 {
        go g.aliveLoop(g.opts.AliveInterval)
    }
    go func() {
        <-ctx.Done()
        _ = g.Stop()
    }()
    return nil
}

// aliveLoop turns steady gossip visibility into periodic EventAlive
// evidence. The local node is included: a running process is its own
// liveness evidence.
func (g *gossip) aliveLoop(interval time.Duration) {
    ticker := time.NewTicker(interval)
    defer ticker.Stop()
    for {
        select {
        case <-g.stopCh:
            return
        case <-ticker.C:
            now := time.Now()
            for _, mi := range g.Members() {
                g.emit(base.Event{Type: base.EventAlive, Member: mi, At: now})
            }
        }
    }
}

func (g *gossip) Join(seeds []string) error {
    g.mu.RLock()
    list := g.list
    g.mu.RUnlock()
    if list == nil {
        return fmt.Errorf("memberlist: not started")
    }
    if len(seeds) == 0 {
        return nil
    }
    _, err := list.Join(seeds)
    return err
}

func (g *gossip) Local() base.MemberInfo {
    g.mu.RLock()
    defer g.mu.RUnlock()
    if g.list == nil {
        return base.MemberInfo{}
    }
    mi := toMemberInfo(g.list.LocalNode())
    if len(mi.Meta) == 0 && g.opts.Meta != nil {
        mi.Meta = g.opts.Meta
    }
    return mi
}

func (g *gossip) Members() []base.MemberInfo {
    g.mu.RLock()
    defer g.mu.RUnlock()
    if g.list == nil {
        return nil
    }
    nodes := g.list.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes {
        out = append(out, toMemberInfo(n))
    }
    return out
}

func (g *gossip) Events() <-chan base.Event { return g.events }

// Leave broadcasts a graceful departure, best effort.
func (g *gossip) Leave() error {
    g.mu.RLock()
    list := g.list
    g.mu.RUnlock()
    if list != nil {
        _ = list.Leave(time.Second)
    }
    return nil
}

func (g *gossip) Stop() error {
    g.mu.Lock()
    defer g.mu.Unlock()
    if g.closed {
        return nil
    }
    g.closed = true
    close(g.stopCh)
    if g.list != nil {
        _ = g.list.Shutdown()
        g.list = nil
    }
    close(g.events)
    return nil
}

// HealthScore reports memberlist's local awareness score; 0 healthy,
// higher degraded, -1 not started. Implements membership.HealthReporter.
func (g *gossip) HealthScore() int {
    g.mu.RLock()
    defer g.mu.RUnlock()
    if g.list == nil {
        return -1
    }
    return g.list.GetHealthScore()
}

func (g *gossip) emit(ev base.Event) {
    // emit may race with Stop closing the channel.
    defer func() { recover() }()
    select {
    case g.events <- ev:
    default:
        if g.opts.Logger != nil {
            g.opts.Logger.Printf("memberlist: dropping %s event, channel full", ev.Type)
        }
    }
}

// eventDelegate forwards memberlist notifications as membership events.
type eventDelegate struct {
    emit func(ev base.Event)
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node) {
    if d.emit == nil || n == nil {
        return
    }
    d.emit(base.Event{Type: base.EventJoin, Member: toMemberInfo(n), At: time.Now()})
}

func (d *eventDelegate) NotifyLeave(n *memberlist.Node) {
    if d.emit == nil || n == nil {
        return
    }
    // memberlist conflates explicit leave with probe failure. Surface it
    // as EventFailed: a graceful leave shows up as a missed heartbeat,
    // which is harmless, while a real failure must never look graceful.
    d.emit(base.Event{Type: base.EventFailed, Member: toMemberInfo(n), At: time.Now()})
}

func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) {
    if d.emit == nil || n == nil {
        return
    }
    d.emit(base.Event{Type: base.EventAlive, Member: toMemberInfo(n), At: time.Now()})
}

func toMemberInfo(n *memberlist.Node) base.MemberInfo {
    meta := map[string]string{}
    if len(n.Meta) > 0 {
        _ = json.Unmarshal(n.Meta, &meta)
    }
    addr := net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
    return base.MemberInfo{ID: n.Name, Addr: addr, Meta: meta}
}

func splitHostPort(hp string) (string, int, error) {
    host, portStr, err := net.SplitHostPort(hp)
    if err != nil {
        return "", 0, err
    }
    port, err := strconv.Atoi(portStr)
    if err != nil || port < 0 || port > 65535 {
        return "", 0, fmt.Errorf("invalid port %q", portStr)
    }
    return host, port, nil
}

// metaDelegate gossips the node's static metadata blob.
type metaDelegate struct{ meta []byte }

func (d *metaDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) <= limit {
        return d.meta
    }
    if limit <= 0 {
        return nil
    }
    return d.meta[:limit]
}

func (d *metaDelegate) NotifyMsg([]byte)                {}
func (d *metaDelegate) GetBroadcasts(int, int) [][]byte { return nil }
func (d *metaDelegate) LocalState(bool) []byte          { return nil }
func (d *metaDelegate) MergeRemoteState([]byte, bool)   {}
