package health

import (
    "errors"
    "fmt"
    "sort"
    "sync"
    "time"
)

// MetricKind identifies the kind of observation carried by a Sample.
type MetricKind string

const (
    // MetricHeartbeatRTT is a heartbeat round-trip time in milliseconds.
    MetricHeartbeatRTT MetricKind = "heartbeat_rtt"
    // MetricLatency is an I/O or probe latency in milliseconds.
    MetricLatency MetricKind = "latency"
    // MetricError counts one observed I/O error.
    MetricError MetricKind = "error"
    // MetricSuccess counts one observed successful operation.
    MetricSuccess MetricKind = "success"
)

// Sample is one immutable observation for a member.
type Sample struct {
    MemberID string     `json:"memberId"`
    Kind     MetricKind `json:"kind"`
    Value    float64    `json:"value"`
    At       time.Time  `json:"at"`
}

var (
    // ErrUnknownMember indicates the referenced member id is not tracked.
    // This is a caller bug; it is surfaced immediately and never retried.
    ErrUnknownMember = errors.New("health: unknown member")
    // ErrBadSample indicates malformed input (e.g., negative duration).
    ErrBadSample = errors.New("health: malformed sample")
)

// DefaultRetention bounds the per-member sample window by time span.
const DefaultRetention = 5 * time.Minute

// maxWindowSamples is a hard cap on samples kept per member. Retention is
// time-based, but the cap guarantees bounded memory when samples arrive
// faster than they age out; the oldest samples are dropped first.
const maxWindowSamples = 4096

// Collector ingests raw health observations and retains them in bounded
// per-member sliding windows. Each member's window has its own lock, so
// ingestion for different members runs fully in parallel.
type Collector struct {
    mu        sync.RWMutex
    retention time.Duration
    windows   map[string]*window
}

type window struct {
    mu      sync.Mutex
    samples []Sample
    dropped uint64
}

// NewCollector builds a Collector with the given retention horizon.
// A non-positive retention falls back to DefaultRetention.
func NewCollector(retention time.Duration) *Collector {
    if retention <= 0 {
        retention = DefaultRetention
    }
    return &Collector{retention: retention, windows: make(map[string]*window)}
}

// Track registers a member id so samples for it are accepted. Idempotent.
func (c *Collector) Track(memberID string) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if _, ok := c.windows[memberID]; !ok {
        c.windows[memberID] = &window{}
    }
}

// Forget drops a member's window. Only called on explicit decommission.
func (c *Collector) Forget(memberID string) {
    c.mu.Lock()
    delete(c.windows, memberID)
    c.mu.Unlock()
}

// Record appends one sample to the member's window, evicting entries older
// than the retention horizon. It never blocks beyond the bounded append and
// fails only on malformed input or an untracked member id.
func (c *Collector) Record(memberID string, kind MetricKind, value float64, at time.Time) error {
    if value < 0 {
        return fmt.Errorf("%w: negative value %v for %s", ErrBadSample, value, kind)
    }
    if at.IsZero() {
        return fmt.Errorf("%w: zero timestamp", ErrBadSample)
    }
    c.mu.RLock()
    w, ok := c.windows[memberID]
    c.mu.RUnlock()
    if !ok {
        return fmt.Errorf("%w: %s", ErrUnknownMember, memberID)
    }
    w.mu.Lock()
    w.samples = append(w.samples, Sample{MemberID: memberID, Kind: kind, Value: value, At: at})
    w.prune(at.Add(-c.retention))
    w.mu.Unlock()
    return nil
}

// prune drops samples older than cutoff and enforces the hard cap.
// Caller holds w.mu.
func (w *window) prune(cutoff time.Time) {
    i := 0
    for i < len(w.samples) && w.samples[i].At.Before(cutoff) {
        i++
    }
    if i > 0 {
        w.dropped += uint64(i)
        w.samples = append(w.samples[:0], w.samples[i:]...)
    }
    if n := len(w.samples) - maxWindowSamples; n > 0 {
        w.dropped += uint64(n)
        w.samples = append(w.samples[:0], w.samples[n:]...)
    }
}

// Recent returns the member's samples within the given span, oldest first.
// A non-positive span means the full retention window.
func (c *Collector) Recent(memberID string, span time.Duration) ([]Sample, error) {
    if span <= 0 || span > c.retention {
        span = c.retention
    }
    c.mu.RLock()
    w, ok := c.windows[memberID]
    c.mu.RUnlock()
    if !ok {
        return nil, fmt.Errorf("%w: %s", ErrUnknownMember, memberID)
    }
    w.mu.Lock()
    defer w.mu.Unlock()
    if len(w.samples) == 0 {
        return nil, nil
    }
    cutoff := w.samples[len(w.samples)-1].At.Add(-span)
    out := make([]Sample, 0, len(w.samples))
    for _, s := range w.samples {
        if !s.At.Before(cutoff) {
            out = append(out, s)
        }
    }
    // samples are appended in arrival order; sort defensively in case callers
    // recorded with out-of-order timestamps
    sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
    return out, nil
}

// Dropped reports how many samples were evicted from the member's window.
func (c *Collector) Dropped(memberID string) uint64 {
    c.mu.RLock()
    w, ok := c.windows[memberID]
    c.mu.RUnlock()
    if !ok {
        return 0
    }
    w.mu.Lock()
    defer w.mu.Unlock()
    return w.dropped
}

// WindowStats summarizes a member's recent window for policy decisions.
type WindowStats struct {
    Samples     int     `json:"samples"`
    Errors      int     `json:"errors"`
    Successes   int     `json:"successes"`
    ErrorRate   float64 `json:"errorRate"`
    SuccessRate float64 `json:"successRate"`
    AvgLatency  float64 `json:"avgLatencyMs"`
}

// Stats computes windowed aggregates over the member's samples. ErrorRate and
// SuccessRate are ratios over counted operations; AvgLatency averages latency
// and heartbeat RTT samples in milliseconds.
func (c *Collector) Stats(memberID string, span time.Duration) (WindowStats, error) {
    samples, err := c.Recent(memberID, span)
    if err != nil {
        return WindowStats{}, err
    }
    var st WindowStats
    var latSum float64
    var latN int
    for _, s := range samples {
        st.Samples++
        switch s.Kind {
        case MetricError:
            st.Errors++
        case MetricSuccess:
            st.Successes++
        case MetricLatency, MetricHeartbeatRTT:
            latSum += s.Value
            latN++
        }
    }
    if ops := st.Errors + st.Successes; ops > 0 {
        st.ErrorRate = float64(st.Errors) / float64(ops)
        st.SuccessRate = float64(st.Successes) / float64(ops)
    }
    if latN > 0 {
        st.AvgLatency = latSum / float64(latN)
    }
    return st, nil
}
