package cli

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/housemecn/rustfs/pkg/bootstrap"
    tracing "github.com/housemecn/rustfs/pkg/observability/tracing"
    tlsx "github.com/housemecn/rustfs/pkg/security/tlsconfig"
    "github.com/housemecn/rustfs/pkg/transport"
    mgmtgrpc "github.com/housemecn/rustfs/pkg/transport/grpc"
    httpjson "github.com/housemecn/rustfs/pkg/transport/httpjson"
)

// AddAll attaches the reliability subcommands to the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewHealthCmd())
    root.AddCommand(NewEliminationsCmd())
    root.AddCommand(NewMemberCmd())
    root.AddCommand(NewResolvePartitionCmd())
}

// NewReliabilityCommand returns a parent command "reliability" containing all
// subcommands.
func NewReliabilityCommand() *cobra.Command {
    parent := &cobra.Command{Use: "reliability", Short: "storage cluster reliability commands"}
    AddAll(parent)
    return parent
}

// clientFlags groups the flags every client-side command shares: the target
// management endpoint, protocol, timeout and TLS material.
type clientFlags struct {
    addr      string
    mgmtProto string
    timeout   time.Duration

    tlsEnable     bool
    tlsSkip       bool
    tlsCA         string
    tlsCert       string
    tlsKey        string
    tlsServerName string
}

func (f *clientFlags) register(cmd *cobra.Command) {
    cmd.Flags().StringVar(&f.addr, "addr", "127.0.0.1:17946", "management address of a node (host:port)")
    cmd.Flags().StringVar(&f.mgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().DurationVar(&f.timeout, "timeout", 3*time.Second, "request timeout")
    cmd.Flags().BoolVar(&f.tlsEnable, "tls-enable", false, "enable mTLS for management transport")
    cmd.Flags().StringVar(&f.tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&f.tlsCert, "tls-cert", "", "path to client certificate (PEM)")
    cmd.Flags().StringVar(&f.tlsKey, "tls-key", "", "path to client private key (PEM)")
    cmd.Flags().BoolVar(&f.tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&f.tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

func (f *clientFlags) client() (transport.RPCClient, error) {
    var cliTLS *tls.Config
    if f.tlsEnable {
        topts := tlsx.Options{Enable: true, CAFile: f.tlsCA, CertFile: f.tlsCert, KeyFile: f.tlsKey, InsecureSkipVerify: f.tlsSkip, ServerName: f.tlsServerName}
        var err error
        cliTLS, err = topts.Client()
        if err != nil {
            return nil, fmt.Errorf("tls client config: %w", err)
        }
    }
    switch f.mgmtProto {
    case "grpc":
        cli := mgmtgrpc.NewClient(f.timeout)
        if cliTLS != nil {
            cli.UseTLS(cliTLS)
        }
        return cli, nil
    default:
        cli := httpjson.NewClient(f.timeout)
        if cliTLS != nil {
            cli.UseTLS(cliTLS)
        }
        return cli, nil
    }
}

func (f *clientFlags) ctx() (context.Context, context.CancelFunc) {
    return context.WithTimeout(context.Background(), f.timeout)
}

func printJSON(data []byte) error {
    os.Stdout.Write(data)
    if len(data) == 0 || data[len(data)-1] != '\n' {
        os.Stdout.Write([]byte("\n"))
    }
    return nil
}

// NewRunCmd returns the "run" command used to start a reliability node.
func NewRunCmd() *cobra.Command {
    var (
        id, memBind, memAdv, joinCSV, mgmtAddr, mgmtProto, discoveryKind string
        groupsCSV, dnsNames, filePath, fileEnv                           string
        dnsPort                                                          int
        discRefresh, aliveEvery, probeEvery                              time.Duration
        probeDir, membersFile                                            string
        tlsEnable, tlsSkip, traceEnable                                  bool
        tlsCA, tlsCert, tlsKey, tlsServerName                            string
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a reliability node",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" {
                return fmt.Errorf("missing -id")
            }
            ctx, cancel := signalContext()
            defer cancel()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    log.Printf("tracing setup error: %v", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            cfg := bootstrap.Config{
                NodeID:        id,
                MemBind:       memBind,
                MemAdv:        memAdv,
                MgmtAddr:      mgmtAddr,
                MgmtProto:     mgmtProto,
                GroupsCSV:     groupsCSV,
                DiscoveryKind: discoveryKind,
                SeedsCSV:      joinCSV,
                DNSNamesCSV:   dnsNames,
                DNSPort:       dnsPort,
                DiscRefresh:   discRefresh,
                FilePath:      filePath,
                FileEnv:       fileEnv,
                AliveInterval: aliveEvery,
                ProbeInterval: probeEvery,
                ProbeDir:      probeDir,
                MembersFile:   membersFile,
                TLSEnable:     tlsEnable,
                TLSCA:         tlsCA,
                TLSCert:       tlsCert,
                TLSKey:        tlsKey,
                TLSServerName: tlsServerName,
                TLSSkipVerify: tlsSkip,
                Logger:        log.Default(),
            }
            core, err := bootstrap.Run(ctx, cfg)
            if err != nil {
                return err
            }
            defer core.Close()

            fmt.Println("reliability node running. Press Ctrl+C to exit.")
            <-ctx.Done()
            return nil
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "node id (required)")
    cmd.Flags().StringVar(&memBind, "mem-bind", ":7946", "membership bind addr (host:port); empty disables gossip")
    cmd.Flags().StringVar(&memAdv, "mem-adv", "", "membership advertise addr (host:port, optional)")
    cmd.Flags().StringVar(&joinCSV, "join", "", "comma-separated seed nodes (host:port) — used by discovery=static")
    cmd.Flags().StringVar(&mgmtAddr, "mgmt-addr", ":17946", "management address (tcp), separate from membership port")
    cmd.Flags().StringVar(&mgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().StringVar(&groupsCSV, "groups", "g1:4+2", "redundancy groups as id:data+parity specs (CSV)")
    cmd.Flags().StringVar(&discoveryKind, "discovery", "static", "discovery backend: static|dns|file")
    cmd.Flags().StringVar(&dnsNames, "dns-names", "", "comma-separated DNS names or SRV records (e.g., _rustfs._tcp.example.com)")
    cmd.Flags().IntVar(&dnsPort, "dns-port", 7946, "port used for A/AAAA lookups")
    cmd.Flags().DurationVar(&discRefresh, "disc-refresh", 5*time.Second, "discovery refresh/cache duration")
    cmd.Flags().StringVar(&filePath, "file-path", "", "path or glob to a file with seeds (one per line or CSV)")
    cmd.Flags().StringVar(&fileEnv, "file-env", "", "ENV var name containing CSV seeds; overrides file when set")
    cmd.Flags().DurationVar(&aliveEvery, "alive-interval", 2*time.Second, "gossip liveness refresh interval; 0 disables")
    cmd.Flags().DurationVar(&probeEvery, "probe-interval", 0, "local self-probe interval; 0 disables")
    cmd.Flags().StringVar(&probeDir, "probe-dir", "", "directory probed by the disk self-check")
    cmd.Flags().StringVar(&membersFile, "members-file", "", "member roster snapshot restored at startup")
    cmd.Flags().BoolVar(&tlsEnable, "tls-enable", false, "enable mTLS for management transport")
    cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to node certificate (PEM)")
    cmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to node private key (PEM)")
    cmd.Flags().BoolVar(&tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
    cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var f clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch cluster status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil {
                return err
            }
            ctx, cancel := f.ctx()
            defer cancel()
            data, err := client.GetStatus(ctx, f.addr)
            if err != nil {
                return fmt.Errorf("status error: %w", err)
            }
            return printJSON(data)
        },
    }
    f.register(cmd)
    return cmd
}

// NewHealthCmd returns the "health" command.
func NewHealthCmd() *cobra.Command {
    var f clientFlags
    cmd := &cobra.Command{
        Use:   "health",
        Short: "Fetch per-member health report as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil {
                return err
            }
            ctx, cancel := f.ctx()
            defer cancel()
            data, err := client.GetHealth(ctx, f.addr)
            if err != nil {
                return fmt.Errorf("health error: %w", err)
            }
            return printJSON(data)
        },
    }
    f.register(cmd)
    return cmd
}

// NewEliminationsCmd returns the "eliminations" command.
func NewEliminationsCmd() *cobra.Command {
    var f clientFlags
    cmd := &cobra.Command{
        Use:   "eliminations",
        Short: "Fetch the elimination audit log as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil {
                return err
            }
            ctx, cancel := f.ctx()
            defer cancel()
            data, err := client.GetEliminations(ctx, f.addr)
            if err != nil {
                return fmt.Errorf("eliminations error: %w", err)
            }
            return printJSON(data)
        },
    }
    f.register(cmd)
    return cmd
}

// NewMemberCmd returns the "member" command with add/remove/rejoin
// subcommands.
func NewMemberCmd() *cobra.Command {
    parent := &cobra.Command{Use: "member", Short: "manage monitored members"}
    parent.AddCommand(newMemberAddCmd())
    parent.AddCommand(newMemberRemoveCmd())
    parent.AddCommand(newMemberRejoinCmd())
    return parent
}

func newMemberAddCmd() *cobra.Command {
    var (
        f               clientFlags
        id, kind, group string
    )
    cmd := &cobra.Command{
        Use:   "add",
        Short: "Track a node or disk",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" {
                return fmt.Errorf("missing required flag: -id")
            }
            client, err := f.client()
            if err != nil {
                return err
            }
            ctx, cancel := f.ctx()
            defer cancel()
            resp, err := client.PostAddMember(ctx, f.addr, transport.AddMemberRequest{ID: id, Kind: kind, Group: group})
            if err != nil {
                return fmt.Errorf("member add error: %w", err)
            }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "member id (required)")
    cmd.Flags().StringVar(&kind, "kind", "disk", "member kind: node|disk")
    cmd.Flags().StringVar(&group, "group", "", "redundancy group id (required for disks)")
    f.register(cmd)
    return cmd
}

func newMemberRemoveCmd() *cobra.Command {
    var (
        f     clientFlags
        id    string
        force bool
    )
    cmd := &cobra.Command{
        Use:   "remove",
        Short: "Stop tracking a member",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" {
                return fmt.Errorf("missing required flag: -id")
            }
            client, err := f.client()
            if err != nil {
                return err
            }
            ctx, cancel := f.ctx()
            defer cancel()
            resp, err := client.PostRemoveMember(ctx, f.addr, transport.RemoveMemberRequest{ID: id, Force: force})
            if err != nil {
                return fmt.Errorf("member remove error: %w", err)
            }
            if resp.RequiresForce {
                fmt.Fprintln(os.Stderr, "refused: removal would push the group past parity tolerance; repeat with --force to override")
            }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "member id (required)")
    cmd.Flags().BoolVar(&force, "force", false, "remove even when quorum safety would refuse")
    f.register(cmd)
    return cmd
}

func newMemberRejoinCmd() *cobra.Command {
    var (
        f  clientFlags
        id string
    )
    cmd := &cobra.Command{
        Use:   "rejoin",
        Short: "Re-admit a repaired member",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" {
                return fmt.Errorf("missing required flag: -id")
            }
            client, err := f.client()
            if err != nil {
                return err
            }
            ctx, cancel := f.ctx()
            defer cancel()
            resp, err := client.PostRejoin(ctx, f.addr, transport.RejoinRequest{ID: id})
            if err != nil {
                return fmt.Errorf("member rejoin error: %w", err)
            }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "member id (required)")
    f.register(cmd)
    return cmd
}

// NewResolvePartitionCmd returns the "resolve-partition" command.
func NewResolvePartitionCmd() *cobra.Command {
    var (
        f             clientFlags
        confirmFailed bool
    )
    cmd := &cobra.Command{
        Use:   "resolve-partition",
        Short: "Close an ambiguous partition episode",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil {
                return err
            }
            ctx, cancel := f.ctx()
            defer cancel()
            resp, err := client.PostResolvePartition(ctx, f.addr, transport.ResolvePartitionRequest{ConfirmFailed: confirmFailed})
            if err != nil {
                return fmt.Errorf("resolve-partition error: %w", err)
            }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cmd.Flags().BoolVar(&confirmFailed, "confirm-failed", false, "confirm the ambiguous members as failed")
    f.register(cmd)
    return cmd
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
