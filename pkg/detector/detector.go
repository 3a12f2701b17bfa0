// Package detector converts raw heartbeat observations into liveness
// verdicts with hysteresis, so a single dropped heartbeat never flips a
// member's classification.
package detector

import (
    "errors"
    "fmt"
    "sort"
    "sync"
    "time"
)

// State is a member's liveness classification.
type State string

const (
    StateHealthy   State = "healthy"
    StateSuspected State = "suspected"
    StateFailed    State = "failed"
)

// Kind distinguishes cluster nodes from the disks they own.
type Kind string

const (
    KindNode Kind = "node"
    KindDisk Kind = "disk"
)

// Transition is one immutable liveness state change. Transitions for a given
// member are emitted in the order they occur.
type Transition struct {
    MemberID string    `json:"memberId"`
    Kind     Kind      `json:"kind"`
    From     State     `json:"from"`
    To       State     `json:"to"`
    At       time.Time `json:"at"`
    Reason   string    `json:"reason"`
}

// ErrUnknownMember mirrors health.ErrUnknownMember for detector lookups.
var ErrUnknownMember = errors.New("detector: unknown member")

// ErrNotFailed is returned by Rejoin when the member is not in Failed state.
var ErrNotFailed = errors.New("detector: member is not failed")

// Config tunes the adaptive timeout and hysteresis behavior.
type Config struct {
    // BaseTimeout is the base heartbeat silence tolerance.
    BaseTimeout time.Duration
    // Alpha is the EWMA smoothing factor for latency statistics.
    Alpha float64
    // DefaultStddev is used while a member has fewer than five samples.
    DefaultStddev time.Duration
    // MinStddev floors the observed stddev to avoid zero-width windows.
    MinStddev time.Duration
    // ConsecutiveMisses is the miss count that moves Suspected to Failed
    // even before the failure threshold elapses.
    ConsecutiveMisses int
}

// withDefaults fills zero fields with the documented defaults.
func (c Config) withDefaults() Config {
    if c.BaseTimeout <= 0 {
        c.BaseTimeout = 500 * time.Millisecond
    }
    if c.Alpha <= 0 || c.Alpha > 1 {
        c.Alpha = 0.2
    }
    if c.DefaultStddev <= 0 {
        c.DefaultStddev = 50 * time.Millisecond
    }
    if c.MinStddev <= 0 {
        c.MinStddev = time.Millisecond
    }
    if c.ConsecutiveMisses <= 0 {
        c.ConsecutiveMisses = 3
    }
    return c
}

type member struct {
    mu          sync.Mutex
    id          string
    kind        Kind
    state       State
    since       time.Time
    stats       latencyStats
    lastSuccess time.Time
    misses      int
    deferred    bool // failure declaration deferred by partition guard
}

// Detector classifies tracked members into Healthy/Suspected/Failed from
// heartbeat evidence. Per-member state is guarded by a per-member mutex;
// the detector-wide lock only protects the member map. Transition and
// partition callbacks are invoked while holding the member lock, which
// preserves per-member causal ordering; callbacks must not call back into
// the detector (see the lock-order note in pkg/cluster).
type Detector struct {
    cfg Config

    mu      sync.RWMutex
    members map[string]*member

    onTransition func(Transition)
    onPartition  func(ambiguous []string, at time.Time)

    pmu               sync.Mutex
    partitionSignaled bool
}

// New builds a Detector. onTransition receives every state change;
// onPartition fires once per ambiguous episode when more than half the
// known members are simultaneously Suspected or Failed.
func New(cfg Config, onTransition func(Transition), onPartition func([]string, time.Time)) *Detector {
    return &Detector{
        cfg:          cfg.withDefaults(),
        members:      make(map[string]*member),
        onTransition: onTransition,
        onPartition:  onPartition,
    }
}

// Track starts monitoring a member as Healthy. Idempotent.
func (d *Detector) Track(id string, kind Kind, now time.Time) {
    d.mu.Lock()
    defer d.mu.Unlock()
    if _, ok := d.members[id]; ok {
        return
    }
    d.members[id] = &member{id: id, kind: kind, state: StateHealthy, since: now, lastSuccess: now}
}

// Forget stops monitoring a member. Only called on explicit decommission.
func (d *Detector) Forget(id string) {
    d.mu.Lock()
    delete(d.members, id)
    d.mu.Unlock()
}

// Liveness returns the current verdict for a member.
func (d *Detector) Liveness(id string) (State, error) {
    m, err := d.lookup(id)
    if err != nil {
        return "", err
    }
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.state, nil
}

// Members lists tracked member ids, optionally filtered by kind
// (empty kind means all), sorted for deterministic iteration.
func (d *Detector) Members(kind Kind) []string {
    d.mu.RLock()
    out := make([]string, 0, len(d.members))
    for id, m := range d.members {
        if kind == "" || m.kind == kind {
            out = append(out, id)
        }
    }
    d.mu.RUnlock()
    sort.Strings(out)
    return out
}

// MemberKind reports the kind a member was registered with.
func (d *Detector) MemberKind(id string) (Kind, error) {
    m, err := d.lookup(id)
    if err != nil {
        return "", err
    }
    return m.kind, nil
}

func (d *Detector) lookup(id string) (*member, error) {
    d.mu.RLock()
    m, ok := d.members[id]
    d.mu.RUnlock()
    if !ok {
        return nil, fmt.Errorf("%w: %s", ErrUnknownMember, id)
    }
    return m, nil
}

// ObserveHeartbeat folds one heartbeat result into the member's state.
// A success while Suspected resets the member to Healthy and zeroes the
// miss counter. A success while Failed is ignored: leaving Failed requires
// an explicit Rejoin, because downstream recovery may already be running.
func (d *Detector) ObserveHeartbeat(id string, success bool, latency time.Duration, at time.Time) error {
    m, err := d.lookup(id)
    if err != nil {
        return err
    }
    m.mu.Lock()
    defer m.mu.Unlock()
    if success {
        m.stats.observe(durationMS(latency), d.cfg.Alpha)
        m.lastSuccess = at
        m.misses = 0
        m.deferred = false
        if m.state == StateSuspected {
            d.transitionLocked(m, StateHealthy, at, "heartbeat acknowledged")
        }
        return nil
    }
    if m.state == StateFailed {
        return nil
    }
    m.misses++
    d.evaluateLocked(m, at, fmt.Sprintf("heartbeat miss #%d", m.misses))
    return nil
}

// Evaluate sweeps all members against their adaptive thresholds at the given
// instant. It is called from a timer tick so members that stopped sending
// heartbeats entirely are still classified. The sweep runs in two passes:
// suspicions first, failure declarations second, so the partition guard sees
// everyone who went silent in this sweep before the first declaration.
func (d *Detector) Evaluate(now time.Time) {
    d.mu.RLock()
    ms := make([]*member, 0, len(d.members))
    for _, m := range d.members {
        ms = append(ms, m)
    }
    d.mu.RUnlock()
    sort.Slice(ms, func(i, j int) bool { return ms[i].id < ms[j].id })
    var failing []*member
    for _, m := range ms {
        m.mu.Lock()
        if m.state != StateFailed {
            suspectAt, failAt := d.thresholdsLocked(m)
            elapsed := now.Sub(m.lastSuccess)
            if m.state == StateHealthy && elapsed > suspectAt {
                d.transitionLocked(m, StateSuspected, now, "heartbeat silence")
            }
            if m.state == StateSuspected && (elapsed > failAt || m.misses >= d.cfg.ConsecutiveMisses) {
                failing = append(failing, m)
            }
        }
        m.mu.Unlock()
    }
    deferred := false
    for _, m := range failing {
        m.mu.Lock()
        if m.state == StateSuspected && d.declareFailedLocked(m, now, "heartbeat silence") {
            deferred = true
        }
        m.mu.Unlock()
    }
    if deferred {
        d.signalPartition(now)
    }
    // Close the partition episode once no declarations remain deferred, so a
    // later episode can raise a fresh signal.
    if len(d.deferredMembers()) == 0 {
        d.pmu.Lock()
        d.partitionSignaled = false
        d.pmu.Unlock()
    }
}

// thresholdsLocked computes the member's current adaptive thresholds.
// Caller holds m.mu.
func (d *Detector) thresholdsLocked(m *member) (suspect, fail time.Duration) {
    sd := msDuration(m.stats.stddev(durationMS(d.cfg.DefaultStddev), durationMS(d.cfg.MinStddev)))
    return SuspectThreshold(d.cfg.BaseTimeout, sd), FailureThreshold(d.cfg.BaseTimeout, sd)
}

// evaluateLocked applies the threshold rules to one member. Caller holds m.mu.
func (d *Detector) evaluateLocked(m *member, now time.Time, reason string) {
    suspectAt, failAt := d.thresholdsLocked(m)
    elapsed := now.Sub(m.lastSuccess)

    if m.state == StateHealthy && elapsed > suspectAt {
        d.transitionLocked(m, StateSuspected, now, reason)
    }
    if m.state == StateSuspected {
        if elapsed > failAt || m.misses >= d.cfg.ConsecutiveMisses {
            if d.declareFailedLocked(m, now, reason) {
                d.signalPartition(now)
            }
        }
    }
}

// declareFailedLocked moves a Suspected member to Failed unless the
// partition guard vetoes it, and reports whether a new deferral was
// recorded. Caller holds m.mu and raises the partition signal when the
// report is true, after releasing any remaining member locks it intends to
// defer under.
func (d *Detector) declareFailedLocked(m *member, now time.Time, reason string) bool {
    if d.majorityUnhealthy(now) {
        // Too many members look dead at once: this is more likely a network
        // partition on our side than a mass failure. Defer the declaration
        // and let the quorum side decide.
        if !m.deferred {
            m.deferred = true
            return true
        }
        return false
    }
    m.deferred = false
    d.transitionLocked(m, StateFailed, now, reason)
    return false
}

// majorityUnhealthy reports whether more than half of the known members are
// Suspected, Failed, or silent past their suspect threshold at the given
// instant. Counting silent-but-not-yet-transitioned members keeps the guard
// honest when declarations arrive one member at a time, before a sweep has
// suspected the rest.
func (d *Detector) majorityUnhealthy(now time.Time) bool {
    d.mu.RLock()
    defer d.mu.RUnlock()
    total := len(d.members)
    // Partition inference needs a meaningful population; tiny clusters fall
    // back to plain failure declaration.
    if total < 3 {
        return false
    }
    bad := 0
    for _, o := range d.members {
        // o.mu is not taken here (the caller already holds one member lock):
        // reads are racy by a single transition at worst, and the guard only
        // needs a coarse count.
        if o.state != StateHealthy || o.deferred {
            bad++
            continue
        }
        sd := msDuration(o.stats.stddev(durationMS(d.cfg.DefaultStddev), durationMS(d.cfg.MinStddev)))
        if now.Sub(o.lastSuccess) > SuspectThreshold(d.cfg.BaseTimeout, sd) {
            bad++
        }
    }
    return bad*2 > total
}

// signalPartition raises PossiblePartition at most once per episode.
func (d *Detector) signalPartition(at time.Time) {
    d.pmu.Lock()
    already := d.partitionSignaled
    d.partitionSignaled = true
    d.pmu.Unlock()
    if already || d.onPartition == nil {
        return
    }
    d.onPartition(d.deferredMembers(), at)
}

func (d *Detector) deferredMembers() []string {
    d.mu.RLock()
    out := make([]string, 0)
    for id, m := range d.members {
        if m.deferred {
            out = append(out, id)
        }
    }
    d.mu.RUnlock()
    sort.Strings(out)
    return out
}

// ResolvePartition concludes a PossiblePartition episode. When confirmFailed
// is true the deferred members are declared Failed; otherwise the deferral
// is lifted and they remain Suspected pending fresh evidence.
func (d *Detector) ResolvePartition(confirmFailed bool, now time.Time) {
    d.pmu.Lock()
    d.partitionSignaled = false
    d.pmu.Unlock()
    for _, id := range d.deferredMembers() {
        m, err := d.lookup(id)
        if err != nil {
            continue
        }
        m.mu.Lock()
        m.deferred = false
        if confirmFailed && m.state == StateSuspected {
            d.transitionLocked(m, StateFailed, now, "partition resolved: failure confirmed")
        }
        m.mu.Unlock()
    }
}

// ForceFail declares a member Failed regardless of heartbeat evidence,
// passing through Suspected so downstream consumers never observe a direct
// Healthy→Failed edge. Used by the elimination path after its own safety
// checks; the partition guard does not apply.
func (d *Detector) ForceFail(id, reason string, now time.Time) error {
    m, err := d.lookup(id)
    if err != nil {
        return err
    }
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.state == StateFailed {
        return nil
    }
    if m.state == StateHealthy {
        d.transitionLocked(m, StateSuspected, now, reason)
    }
    m.deferred = false
    d.transitionLocked(m, StateFailed, now, reason)
    return nil
}

// Rejoin re-admits a Failed member as Healthy with reset statistics. This is
// the only way out of Failed.
func (d *Detector) Rejoin(id string, now time.Time) error {
    m, err := d.lookup(id)
    if err != nil {
        return err
    }
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.state != StateFailed {
        return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, m.state)
    }
    m.stats = latencyStats{}
    m.misses = 0
    m.lastSuccess = now
    d.transitionLocked(m, StateHealthy, now, "explicit rejoin")
    return nil
}

// transitionLocked records and emits one state change. Caller holds m.mu, so
// transitions per member are emitted in causal order.
func (d *Detector) transitionLocked(m *member, to State, at time.Time, reason string) {
    from := m.state
    if from == to {
        return
    }
    m.state = to
    m.since = at
    if to == StateHealthy {
        m.misses = 0
    }
    if d.onTransition != nil {
        d.onTransition(Transition{MemberID: m.id, Kind: m.kind, From: from, To: to, At: at, Reason: reason})
    }
}

// Thresholds reports the member's current suspect/failure thresholds,
// mainly for the health report and tests.
func (d *Detector) Thresholds(id string) (suspect, fail time.Duration, err error) {
    m, e := d.lookup(id)
    if e != nil {
        return 0, 0, e
    }
    m.mu.Lock()
    defer m.mu.Unlock()
    suspect, fail = d.thresholdsLocked(m)
    return suspect, fail, nil
}
