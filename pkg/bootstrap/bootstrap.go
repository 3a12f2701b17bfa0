package bootstrap

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "log"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/housemecn/rustfs/pkg/cluster"
    "github.com/housemecn/rustfs/pkg/coordinator"
    "github.com/housemecn/rustfs/pkg/detector"
    "github.com/housemecn/rustfs/pkg/discovery"
    dDNS "github.com/housemecn/rustfs/pkg/discovery/dns"
    dFile "github.com/housemecn/rustfs/pkg/discovery/file"
    dStatic "github.com/housemecn/rustfs/pkg/discovery/static"
    "github.com/housemecn/rustfs/pkg/health"
    "github.com/housemecn/rustfs/pkg/membership"
    ml "github.com/housemecn/rustfs/pkg/membership/memberlist"
    "github.com/housemecn/rustfs/pkg/quorum"
    "github.com/housemecn/rustfs/pkg/rebalance"
    tlsx "github.com/housemecn/rustfs/pkg/security/tlsconfig"
    "github.com/housemecn/rustfs/pkg/transport"
    mgmtgrpc "github.com/housemecn/rustfs/pkg/transport/grpc"
    httpjson "github.com/housemecn/rustfs/pkg/transport/httpjson"
)

// Config defines high-level inputs to assemble a reliability node with
// sensible defaults. Applications embed the core by providing this structure
// and calling Build/Run.
type Config struct {
    // Identity and addresses
    NodeID  string
    MemBind string // membership bind host:port; empty disables gossip
    MemAdv  string // optional advertise host:port

    // Management API (status/health/members/metrics)
    MgmtAddr  string // host:port for management API (HTTP or gRPC)
    MgmtProto string // "http" (default) or "grpc"

    // Redundancy groups as "id:data+parity" specs, e.g. "g1:4+2,g2:8+4".
    GroupsCSV string
    // Groups overrides GroupsCSV when non-empty.
    Groups []quorum.Config

    // Discovery settings
    DiscoveryKind string        // "static" (default), "dns", or "file"
    SeedsCSV      string        // used when DiscoveryKind=static
    DNSNamesCSV   string        // used when kind=dns
    DNSPort       int           // used when kind=dns (A/AAAA)
    DiscRefresh   time.Duration // cache/refresh duration for discovery
    FilePath      string        // used when kind=file
    FileEnv       string        // used when kind=file

    // Detection and recovery tuning (zero fields use defaults)
    Detector     detector.Config
    Coordinator  coordinator.Config
    EvalInterval time.Duration
    Retention    time.Duration

    // Gossip liveness refresh interval; zero disables the refresher.
    AliveInterval time.Duration

    // Local self-probing. When ProbeInterval > 0 the node runs disk and
    // memory checks against itself and feeds the samples into the core.
    ProbeInterval time.Duration
    ProbeDir      string

    // MembersFile, when set, names an ExportMembers snapshot loaded at
    // startup so a restarted node resumes monitoring its previous roster.
    // A missing file is not an error on first boot.
    MembersFile string

    // TLS (optional) for the management API
    TLSEnable     bool
    TLSCA         string
    TLSCert       string
    TLSKey        string
    TLSServerName string
    TLSSkipVerify bool

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger

    // Rebalancer executes data-movement requests. If nil, a Recorder is
    // used, which accepts requests without moving any data; real
    // deployments must provide their storage backend here.
    Rebalancer rebalance.Rebalancer
    // Verifier gates a group's return to Active after rejoin (optional).
    Verifier coordinator.Verifier
}

// ParseGroups converts "id:data+parity" comma-separated specs into quorum
// configs.
func ParseGroups(csv string) ([]quorum.Config, error) {
    var out []quorum.Config
    for _, part := range strings.Split(csv, ",") {
        part = strings.TrimSpace(part)
        if part == "" {
            continue
        }
        id, spec, ok := strings.Cut(part, ":")
        if !ok {
            return nil, fmt.Errorf("bootstrap: group spec %q missing ':'", part)
        }
        ds, ps, ok := strings.Cut(spec, "+")
        if !ok {
            return nil, fmt.Errorf("bootstrap: group spec %q missing '+'", part)
        }
        d, err := strconv.Atoi(strings.TrimSpace(ds))
        if err != nil {
            return nil, fmt.Errorf("bootstrap: group %s: bad data shards: %w", id, err)
        }
        p, err := strconv.Atoi(strings.TrimSpace(ps))
        if err != nil {
            return nil, fmt.Errorf("bootstrap: group %s: bad parity shards: %w", id, err)
        }
        out = append(out, quorum.Config{
            GroupID: strings.TrimSpace(id),
            Erasure: quorum.ErasureCodeConfig{DataShards: d, ParityShards: p},
        })
    }
    return out, nil
}

// Build assembles a cluster.Core from Config without starting it.
func Build(cfg Config) (*cluster.Core, error) {
    if cfg.Logger == nil {
        cfg.Logger = log.Default()
    }

    groups := cfg.Groups
    if len(groups) == 0 {
        var err error
        groups, err = ParseGroups(cfg.GroupsCSV)
        if err != nil {
            return nil, err
        }
    }

    // Discovery backend
    var disc discovery.Discovery
    switch cfg.DiscoveryKind {
    case "dns":
        names := dStatic.Parse(cfg.DNSNamesCSV)
        opts := dDNS.Options{Names: names, Port: cfg.DNSPort}
        if cfg.DiscRefresh > 0 {
            opts.Refresh = cfg.DiscRefresh
        }
        disc = dDNS.New(opts)
    case "file":
        opts := dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv}
        if cfg.DiscRefresh > 0 {
            opts.Refresh = cfg.DiscRefresh
        }
        disc = dFile.New(opts)
    default:
        seeds := dStatic.Parse(cfg.SeedsCSV)
        disc = dStatic.New(seeds...)
    }

    // Membership (memberlist), optional. Management address travels in the
    // node metadata so peers can find each other's endpoints.
    var mem membership.Membership
    if cfg.MemBind != "" {
        memMeta := map[string]string{}
        if cfg.MgmtAddr != "" {
            memMeta["mgmt"] = cfg.MgmtAddr
        }
        var err error
        mem, err = ml.New(ml.Options{
            NodeID:        cfg.NodeID,
            Bind:          cfg.MemBind,
            Advertise:     cfg.MemAdv,
            Logger:        cfg.Logger,
            Meta:          memMeta,
            AliveInterval: cfg.AliveInterval,
        })
        if err != nil {
            return nil, err
        }
    }

    // Management API
    var srv transport.RPCServer
    var srvTLS *tls.Config
    if cfg.TLSEnable {
        topts := tlsx.Options{
            Enable:             true,
            CAFile:             cfg.TLSCA,
            CertFile:           cfg.TLSCert,
            KeyFile:            cfg.TLSKey,
            InsecureSkipVerify: cfg.TLSSkipVerify,
            ServerName:         cfg.TLSServerName,
        }
        s, err := topts.ServerHotReload()
        if err != nil {
            return nil, err
        }
        srvTLS = s
    }
    if cfg.MgmtAddr != "" {
        switch cfg.MgmtProto {
        case "grpc":
            s := mgmtgrpc.NewServer(cfg.MgmtAddr)
            if srvTLS != nil {
                s.UseTLS(srvTLS)
            }
            srv = s
        default:
            s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
            if srvTLS != nil {
                s.UseTLS(srvTLS)
            }
            srv = s
        }
    }

    reb := cfg.Rebalancer
    if reb == nil {
        reb = &rebalance.Recorder{}
    }

    opts := cluster.Options{
        NodeID:       cluster.NodeID(cfg.NodeID),
        Groups:       groups,
        Detector:     cfg.Detector,
        Coordinator:  cfg.Coordinator,
        Retention:    cfg.Retention,
        EvalInterval: cfg.EvalInterval,
        Logger:       cfg.Logger,
        Rebalancer:   reb,
        Verifier:     cfg.Verifier,
        Discovery:    disc,
        RPCServer:    srv,
    }
    if mem != nil {
        opts.Membership = mem
    }
    return cluster.New(context.Background(), opts)
}

// NewClient returns an RPC client matching the configured management
// protocol, with TLS applied when enabled.
func NewClient(cfg Config) (transport.RPCClient, error) {
    var cliTLS *tls.Config
    if cfg.TLSEnable {
        topts := tlsx.Options{
            Enable:             true,
            CAFile:             cfg.TLSCA,
            CertFile:           cfg.TLSCert,
            KeyFile:            cfg.TLSKey,
            InsecureSkipVerify: cfg.TLSSkipVerify,
            ServerName:         cfg.TLSServerName,
        }
        c, err := topts.ClientHotReload()
        if err != nil {
            return nil, err
        }
        cliTLS = c
    }
    switch cfg.MgmtProto {
    case "grpc":
        c := mgmtgrpc.NewClient(3 * time.Second)
        if cliTLS != nil {
            c.UseTLS(cliTLS)
        }
        return c, nil
    default:
        c := httpjson.NewClient(3 * time.Second)
        if cliTLS != nil {
            c.UseTLS(cliTLS)
        }
        return c, nil
    }
}

// Run builds and starts the node, returning the core for lifecycle control.
// The caller is responsible for calling Close when finished. When
// ProbeInterval is set the node tracks itself as a member and launches the
// local self-probe loop.
func Run(ctx context.Context, cfg Config) (*cluster.Core, error) {
    if cfg.Logger == nil {
        cfg.Logger = log.Default()
    }
    core, err := Build(cfg)
    if err != nil {
        return nil, err
    }
    if err := core.Start(ctx); err != nil {
        return nil, err
    }
    if cfg.MembersFile != "" {
        buf, err := os.ReadFile(cfg.MembersFile)
        switch {
        case errors.Is(err, os.ErrNotExist):
            // first boot: nothing to restore
        case err != nil:
            return nil, fmt.Errorf("bootstrap: members file: %w", err)
        default:
            n, err := core.ImportMembers(buf)
            if err != nil {
                return nil, fmt.Errorf("bootstrap: members file: %w", err)
            }
            cfg.Logger.Printf("restored %d members from %s", n, cfg.MembersFile)
        }
    }
    if cfg.ProbeInterval > 0 {
        // Nodes are tracked ungrouped; only disks belong to redundancy
        // groups. Duplicate tracking (e.g. via a gossip join) is fine.
        _ = core.AddMember(cfg.NodeID, detector.KindNode, "")
        // Probe outcomes double as liveness evidence. Without this a node
        // that does not gossip would never refresh its own heartbeat and
        // would age into Failed from silence.
        sink := health.SinkFunc(func(id string, kind health.MetricKind, value float64, at time.Time) error {
            switch kind {
            case health.MetricSuccess:
                _ = core.DeliverHeartbeatResult(id, true, 0, at)
            case health.MetricError:
                _ = core.DeliverHeartbeatResult(id, false, 0, at)
            }
            return core.DeliverHealthMetric(id, kind, value, at)
        })
        prober := &health.Prober{
            MemberID: cfg.NodeID,
            Interval: cfg.ProbeInterval,
            Checks: []health.Check{
                health.DiskCheck{Dir: cfg.ProbeDir},
                health.MemoryCheck{},
                health.CPUCheck{},
            },
            Sink: sink,
        }
        go prober.Run(ctx)
    }
    return core, nil
}
