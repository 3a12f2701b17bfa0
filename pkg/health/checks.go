package health

import (
    "context"
    "fmt"
    "net"
    "os"
    "path/filepath"
    "runtime"
    "time"
)

// CheckResult is the outcome of one health-indicator probe.
type CheckResult struct {
    Name    string
    Healthy bool
    Latency time.Duration
    Detail  string
}

// Check is a pluggable health indicator. Implementations probe one local
// resource (disk, memory, network, ...) and report a point-in-time result.
type Check interface {
    Name() string
    Run(ctx context.Context) (CheckResult, error)
}

// DiskCheck probes a directory by writing and removing a small marker file,
// measuring the round-trip latency of the write path.
type DiskCheck struct {
    // Dir is the directory to probe. Defaults to os.TempDir().
    Dir string
}

func (d DiskCheck) Name() string { return "disk" }

func (d DiskCheck) Run(ctx context.Context) (CheckResult, error) {
    dir := d.Dir
    if dir == "" {
        dir = os.TempDir()
    }
    path := filepath.Join(dir, fmt.Sprintf(".healthprobe-%d", os.Getpid()))
    start := time.Now()
    err := os.WriteFile(path, []byte("probe"), 0o644)
    if err == nil {
        err = os.Remove(path)
    }
    lat := time.Since(start)
    if err != nil {
        return CheckResult{Name: d.Name(), Healthy: false, Latency: lat, Detail: err.Error()}, nil
    }
    return CheckResult{Name: d.Name(), Healthy: true, Latency: lat}, nil
}

// MemoryCheck reports unhealthy when the Go heap exceeds MaxHeapBytes.
type MemoryCheck struct {
    // MaxHeapBytes is the heap-in-use ceiling. Zero disables the threshold.
    MaxHeapBytes uint64
}

func (m MemoryCheck) Name() string { return "memory" }

func (m MemoryCheck) Run(ctx context.Context) (CheckResult, error) {
    var ms runtime.MemStats
    runtime.ReadMemStats(&ms)
    healthy := m.MaxHeapBytes == 0 || ms.HeapInuse <= m.MaxHeapBytes
    detail := fmt.Sprintf("heap_inuse=%d", ms.HeapInuse)
    return CheckResult{Name: m.Name(), Healthy: healthy, Detail: detail}, nil
}

// CPUCheck reports unhealthy when the 1-minute load average per core
// exceeds MaxLoadPerCore. On platforms without /proc/loadavg the check
// reports healthy with a note.
type CPUCheck struct {
    // MaxLoadPerCore is the load ceiling per logical CPU. Zero means 2.0.
    MaxLoadPerCore float64
}

func (c CPUCheck) Name() string { return "cpu" }

func (c CPUCheck) Run(ctx context.Context) (CheckResult, error) {
    limit := c.MaxLoadPerCore
    if limit <= 0 {
        limit = 2.0
    }
    raw, err := os.ReadFile("/proc/loadavg")
    if err != nil {
        return CheckResult{Name: c.Name(), Healthy: true, Detail: "loadavg unavailable"}, nil
    }
    var load1 float64
    if _, err := fmt.Sscanf(string(raw), "%f", &load1); err != nil {
        return CheckResult{Name: c.Name(), Healthy: true, Detail: "loadavg unparsable"}, nil
    }
    perCore := load1 / float64(runtime.NumCPU())
    detail := fmt.Sprintf("load1_per_core=%.2f", perCore)
    return CheckResult{Name: c.Name(), Healthy: perCore <= limit, Detail: detail}, nil
}

// NetworkCheck dials a TCP address and reports the connect latency.
type NetworkCheck struct {
    Addr    string
    Timeout time.Duration
}

func (n NetworkCheck) Name() string { return "network" }

func (n NetworkCheck) Run(ctx context.Context) (CheckResult, error) {
    timeout := n.Timeout
    if timeout <= 0 {
        timeout = 2 * time.Second
    }
    if dl, ok := ctx.Deadline(); ok {
        if until := time.Until(dl); until < timeout {
            timeout = until
        }
    }
    start := time.Now()
    conn, err := net.DialTimeout("tcp", n.Addr, timeout)
    lat := time.Since(start)
    if err != nil {
        return CheckResult{Name: n.Name(), Healthy: false, Latency: lat, Detail: err.Error()}, nil
    }
    _ = conn.Close()
    return CheckResult{Name: n.Name(), Healthy: true, Latency: lat}, nil
}

// Sink receives check outcomes as samples. *Collector satisfies it; so does
// any ingestion front such as the cluster facade via SinkFunc.
type Sink interface {
    Record(memberID string, kind MetricKind, value float64, at time.Time) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(memberID string, kind MetricKind, value float64, at time.Time) error

func (f SinkFunc) Record(memberID string, kind MetricKind, value float64, at time.Time) error {
    return f(memberID, kind, value, at)
}

// Prober runs a set of checks on an interval and feeds the results into a
// Sink as latency/error/success samples for the given member id.
type Prober struct {
    MemberID string
    Checks   []Check
    Interval time.Duration
    Sink     Sink
}

// Run blocks until ctx is done, executing all checks each interval.
func (p *Prober) Run(ctx context.Context) {
    interval := p.Interval
    if interval <= 0 {
        interval = 10 * time.Second
    }
    ticker := time.NewTicker(interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case now := <-ticker.C:
            p.runOnce(ctx, now)
        }
    }
}

func (p *Prober) runOnce(ctx context.Context, now time.Time) {
    for _, chk := range p.Checks {
        res, err := chk.Run(ctx)
        if err != nil {
            _ = p.Sink.Record(p.MemberID, MetricError, 1, now)
            continue
        }
        if res.Latency > 0 {
            _ = p.Sink.Record(p.MemberID, MetricLatency, float64(res.Latency.Milliseconds()), now)
        }
        if res.Healthy {
            _ = p.Sink.Record(p.MemberID, MetricSuccess, 1, now)
        } else {
            _ = p.Sink.Record(p.MemberID, MetricError, 1, now)
        }
    }
}
