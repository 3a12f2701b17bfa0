// Package dns resolves gossip seeds from DNS. SRV records carry their own
// ports; plain hostnames fall back to A/AAAA lookups with a configured port.
package dns

import (
    "context"
    "log"
    "net"
    "sort"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/housemecn/rustfs/pkg/discovery"
)

// Options configures DNS-backed seed discovery.
type Options struct {
    // Names to resolve. SRV form "_rustfs._tcp.example.com" or a plain
    // hostname "node1.example.com". Entries already in host:port form are
    // passed through untouched.
    Names []string

    // Port appended to A/AAAA answers, which carry no port of their own.
    // Defaults to the memberlist port 7946.
    Port int

    // Refresh is how long resolved seeds are cached. Defaults to 5s.
    Refresh time.Duration

    // Resolver overrides the default resolver, mainly for tests.
    Resolver *net.Resolver

    Logger *log.Logger
}

type resolver struct {
    opts Options

    mu      sync.Mutex
    fetched time.Time
    cache   []string
}

// New returns a Discovery that resolves Names on demand and caches the
// answers for the Refresh window.
func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 {
        opts.Refresh = 5 * time.Second
    }
    if opts.Port == 0 {
        opts.Port = 7946
    }
    return &resolver{opts: opts}
}

func (r *resolver) Seeds() []string {
    r.mu.Lock()
    defer r.mu.Unlock()
    if len(r.cache) == 0 || time.Since(r.fetched) >= r.opts.Refresh {
        r.cache = r.resolveAll(context.Background())
        r.fetched = time.Now()
    }
    return append([]string(nil), r.cache...)
}

func (r *resolver) resolveAll(ctx context.Context) []string {
    seen := make(map[string]struct{})
    add := func(out []string, hp string) []string {
        if _, dup := seen[hp]; dup {
            return out
        }
        seen[hp] = struct{}{}
        return append(out, hp)
    }

    var out []string
    for _, name := range r.opts.Names {
        name = strings.TrimSpace(name)
        switch {
        case name == "":
        case strings.Contains(name, ":") && !strings.HasPrefix(name, "_"):
            out = add(out, name)
        case strings.HasPrefix(name, "_") && strings.Contains(name, "._"):
            recs := r.lookupSRV(ctx, name)
            for _, hp := range recs {
                out = add(out, hp)
            }
            if len(recs) > 0 {
                continue
            }
            fallthrough
        default:
            for _, hp := range r.lookupHost(ctx, name) {
                out = add(out, hp)
            }
        }
    }
    sort.Strings(out)
    return out
}

func (r *resolver) netResolver() *net.Resolver {
    if r.opts.Resolver != nil {
        return r.opts.Resolver
    }
    return net.DefaultResolver
}

func (r *resolver) lookupSRV(ctx context.Context, fqdn string) []string {
    service, proto, domain := parseSRVName(fqdn)
    if service == "" || proto == "" || domain == "" {
        return nil
    }
    _, recs, err := r.netResolver().LookupSRV(ctx, service, proto, domain)
    if err != nil {
        return nil
    }
    out := make([]string, 0, len(recs))
    for _, rec := range recs {
        host := strings.TrimSuffix(rec.Target, ".")
        out = append(out, net.JoinHostPort(host, strconv.Itoa(int(rec.Port))))
    }
    return out
}

func (r *resolver) lookupHost(ctx context.Context, host string) []string {
    ips, err := r.netResolver().LookupHost(ctx, host)
    if err != nil {
        return nil
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips {
        out = append(out, net.JoinHostPort(ip, strconv.Itoa(r.opts.Port)))
    }
    return out
}

// parseSRVName splits "_service._proto.name" into its three parts.
func parseSRVName(fqdn string) (service, proto, name string) {
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 {
        return "", "", ""
    }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
