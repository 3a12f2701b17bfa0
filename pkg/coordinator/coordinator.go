// Package coordinator turns failure verdicts into bounded, observable
// recovery workflows and owns the disk elimination policy. It never moves
// data itself; rebalancing is requested from the external data-movement
// collaborator and tracked through completion callbacks.
package coordinator

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/housemecn/rustfs/pkg/detector"
    "github.com/housemecn/rustfs/pkg/health"
    "github.com/housemecn/rustfs/pkg/quorum"
    "github.com/housemecn/rustfs/pkg/rebalance"
)

// DiskPolicy decides when a disk has earned elimination. All three
// conditions of the policy must hold: a threshold breach, persistence over
// ConsecutiveFailures evaluation cycles, and the quorum safety check.
type DiskPolicy struct {
    // MaxErrorRate is the rolling error-rate ceiling over the window.
    MaxErrorRate float64
    // MinSuccessRate is the rolling success-rate floor.
    MinSuccessRate float64
    // MaxLatencyMS is the average-latency ceiling in milliseconds.
    MaxLatencyMS float64
    // ConsecutiveFailures is the grace period in evaluation cycles.
    ConsecutiveFailures int
    // Window is the stats span consulted each cycle.
    Window time.Duration
}

func (p DiskPolicy) withDefaults() DiskPolicy {
    if p.MaxErrorRate <= 0 {
        p.MaxErrorRate = 0.05
    }
    if p.MinSuccessRate <= 0 {
        p.MinSuccessRate = 0.90
    }
    if p.MaxLatencyMS <= 0 {
        p.MaxLatencyMS = 500
    }
    if p.ConsecutiveFailures <= 0 {
        p.ConsecutiveFailures = 3
    }
    if p.Window <= 0 {
        p.Window = health.DefaultRetention
    }
    return p
}

// breached reports whether the window stats violate any disk threshold.
// An empty window is never a breach: no evidence, no strike.
func (p DiskPolicy) breached(st health.WindowStats) (bool, string) {
    ops := st.Errors + st.Successes
    if ops > 0 && st.ErrorRate > p.MaxErrorRate {
        return true, fmt.Sprintf("error rate %.3f > %.3f", st.ErrorRate, p.MaxErrorRate)
    }
    if ops > 0 && st.SuccessRate < p.MinSuccessRate {
        return true, fmt.Sprintf("success rate %.3f < %.3f", st.SuccessRate, p.MinSuccessRate)
    }
    if st.AvgLatency > 0 && st.AvgLatency > p.MaxLatencyMS {
        return true, fmt.Sprintf("avg latency %.1fms > %.1fms", st.AvgLatency, p.MaxLatencyMS)
    }
    return false, ""
}

// Config tunes the coordinator.
type Config struct {
    Policy DiskPolicy
    // RecoveryTimeout bounds each recovery phase; a phase that overruns
    // moves the task to Aborted and emits an escalation.
    RecoveryTimeout time.Duration
    // MaxParallelRecoveries bounds in-flight tasks; excess failures queue
    // in arrival order.
    MaxParallelRecoveries int
}

func (c Config) withDefaults() Config {
    c.Policy = c.Policy.withDefaults()
    if c.RecoveryTimeout <= 0 {
        c.RecoveryTimeout = 30 * time.Second
    }
    if c.MaxParallelRecoveries <= 0 {
        c.MaxParallelRecoveries = 4
    }
    return c
}

// Verifier runs the post-recovery data-consistency check that gates a
// group's return to Active.
type Verifier interface {
    Verify(ctx context.Context, groupID, memberID string) error
}

// NoopVerifier accepts every verification. Useful where an external
// consistency checker is not wired.
type NoopVerifier struct{}

func (NoopVerifier) Verify(context.Context, string, string) error { return nil }

// EliminationRecord is one append-only audit entry for an elimination
// decision; it is never mutated after creation.
type EliminationRecord struct {
    MemberID string                `json:"memberId"`
    GroupID  string                `json:"groupId"`
    Reason   string                `json:"reason"`
    At       time.Time             `json:"at"`
    History  []detector.Transition `json:"history"`
}

// GroupResolver maps a member id to the quorum manager of its owning
// redundancy group; nil when the member is not assigned to a group.
type GroupResolver func(memberID string) *quorum.Manager

// Coordinator consumes quorum decisions and disk health verdicts, decides
// eliminations, and drives recovery workflows.
type Coordinator struct {
    cfg      Config
    col      *health.Collector
    det      *detector.Detector
    group    GroupResolver
    reb      rebalance.Rebalancer
    verifier Verifier
    emit     func(Event)

    mu       sync.Mutex
    tasks    map[string]*Task // one in-flight task per member
    byHandle map[rebalance.TaskHandle]*Task
    queue    []*Task // FIFO waiting for a slot
    reqQueue []*Task // rebalance requests collected under mu, issued off it
    running  int
    strikes  map[string]int
    history  map[string][]detector.Transition // recent verdicts per member
    paused   map[string]bool                  // groupID → elimination paused
    elims    []EliminationRecord
}

// historyDepth bounds the per-member verdict history kept for audit
// snapshots.
const historyDepth = 16

// New assembles a Coordinator. emit receives every decision and phase
// change; a nil verifier defaults to NoopVerifier.
func New(cfg Config, col *health.Collector, det *detector.Detector, group GroupResolver, reb rebalance.Rebalancer, verifier Verifier, emit func(Event)) *Coordinator {
    if verifier == nil {
        verifier = NoopVerifier{}
    }
    return &Coordinator{
        cfg:      cfg.withDefaults(),
        col:      col,
        det:      det,
        group:    group,
        reb:      reb,
        verifier: verifier,
        emit:     emit,
        tasks:    make(map[string]*Task),
        byHandle: make(map[rebalance.TaskHandle]*Task),
        strikes:  make(map[string]int),
        history:  make(map[string][]detector.Transition),
        paused:   make(map[string]bool),
    }
}

// OnVerdict consumes one liveness transition. A transition into Failed
// opens a recovery workflow for the member; re-delivery is idempotent.
func (c *Coordinator) OnVerdict(ctx context.Context, tr detector.Transition) {
    c.mu.Lock()
    h := append(c.history[tr.MemberID], tr)
    if len(h) > historyDepth {
        h = h[len(h)-historyDepth:]
    }
    c.history[tr.MemberID] = h
    if tr.To == detector.StateFailed {
        c.openTaskLocked(ctx, tr.MemberID, tr.At)
    }
    c.mu.Unlock()
    c.drainRequests(ctx, tr.At)
}

// openTaskLocked creates (or reuses) the member's recovery task. Caller
// holds c.mu.
func (c *Coordinator) openTaskLocked(ctx context.Context, memberID string, now time.Time) {
    if t, ok := c.tasks[memberID]; ok && !t.Phase.terminal() {
        return
    }
    groupID := ""
    if q := c.group(memberID); q != nil {
        groupID = q.GroupID()
    }
    t := newTask(memberID, groupID, now)
    c.tasks[memberID] = t
    if c.running >= c.cfg.MaxParallelRecoveries {
        c.queue = append(c.queue, t)
        return
    }
    c.startTaskLocked(ctx, t, now)
}

// startTaskLocked occupies a slot and drives the task through the
// request-side phases. Caller holds c.mu.
func (c *Coordinator) startTaskLocked(ctx context.Context, t *Task, now time.Time) {
    c.running++
    c.enterPhaseLocked(ctx, t, PhaseDetected, now, "failure verdict received")
    c.enterPhaseLocked(ctx, t, PhaseNotified, now, "operators notified")
    c.enterPhaseLocked(ctx, t, PhaseFailoverRequested, now, "failover requested")
    c.enterPhaseLocked(ctx, t, PhaseRebalanceRequested, now, "rebalance requested")
}

// Signal delivers a phase-entry signal for the member's task. Re-delivering
// the current phase is a no-op; skipping ahead is refused.
func (c *Coordinator) Signal(ctx context.Context, memberID string, phase Phase, now time.Time) error {
    c.mu.Lock()
    t, ok := c.tasks[memberID]
    if !ok {
        c.mu.Unlock()
        return fmt.Errorf("%w for %s", ErrNoTask, memberID)
    }
    if t.Phase == phase || t.Phase.terminal() {
        c.mu.Unlock()
        return nil // idempotent re-delivery
    }
    if nextPhase[t.Phase] != phase {
        c.mu.Unlock()
        return fmt.Errorf("coordinator: task %s cannot move %s→%s", t.ID, t.Phase, phase)
    }
    c.enterPhaseLocked(ctx, t, phase, now, "external phase signal")
    c.mu.Unlock()
    c.drainRequests(ctx, now)
    return nil
}

// enterPhaseLocked commits one phase transition, arms the phase deadline,
// and queues the phase's side effect exactly once. Caller holds c.mu and
// runs drainRequests after releasing it.
func (c *Coordinator) enterPhaseLocked(ctx context.Context, t *Task, phase Phase, now time.Time, reason string) {
    if t.Phase == phase || t.Phase.terminal() {
        return
    }
    old := t.Phase
    t.Phase = phase
    t.Deadline = now.Add(c.cfg.RecoveryTimeout)
    if phase == PhaseRebalanceRequested && t.Handle == "" {
        // issued by drainRequests once c.mu is released; a task enters this
        // phase at most once, so the request is never duplicated
        c.reqQueue = append(c.reqQueue, t)
    }
    c.emitEvent(Event{Kind: EventRecoveryPhase, MemberID: t.MemberID, GroupID: t.GroupID, TaskID: t.ID, OldPhase: old, NewPhase: phase, At: now, Reason: reason})
    if phase.terminal() {
        c.finishLocked(ctx, t, now)
    }
}

// drainRequests issues the rebalance requests queued by phase transitions.
// It runs without c.mu held: the data-movement collaborator may block or
// call back into the coordinator, and neither may stall ticks, verdicts or
// status queries.
func (c *Coordinator) drainRequests(ctx context.Context, now time.Time) {
    for {
        c.mu.Lock()
        if len(c.reqQueue) == 0 {
            c.mu.Unlock()
            return
        }
        t := c.reqQueue[0]
        c.reqQueue = c.reqQueue[1:]
        if t.Phase != PhaseRebalanceRequested || t.Handle != "" {
            c.mu.Unlock()
            continue
        }
        req := rebalance.Request{GroupID: t.GroupID, Excluded: []string{t.MemberID}, Priority: rebalance.PriorityHigh}
        c.mu.Unlock()

        h, err := c.reb.RequestRebalance(ctx, req)

        c.mu.Lock()
        switch {
        case err != nil:
            c.abortLocked(ctx, t, now, fmt.Sprintf("rebalance request failed: %v", err))
        case t.Phase == PhaseRebalanceRequested && t.Handle == "":
            t.Handle = h
            c.byHandle[h] = t
        }
        // a task aborted while the request was in flight leaves the handle
        // orphaned; completion callbacks for it find no task and drop out
        c.mu.Unlock()
    }
}

// abortLocked moves a task to Aborted and emits an escalation rather than
// retrying indefinitely. Caller holds c.mu.
func (c *Coordinator) abortLocked(ctx context.Context, t *Task, now time.Time, reason string) {
    if t.Phase.terminal() {
        return
    }
    old := t.Phase
    t.Phase = PhaseAborted
    c.emitEvent(Event{Kind: EventRecoveryPhase, MemberID: t.MemberID, GroupID: t.GroupID, TaskID: t.ID, OldPhase: old, NewPhase: PhaseAborted, At: now, Reason: reason})
    c.emitEvent(Event{Kind: EventEscalation, MemberID: t.MemberID, GroupID: t.GroupID, TaskID: t.ID, At: now, Reason: reason})
    c.finishLocked(ctx, t, now)
}

// finishLocked releases the task's slot and starts the next queued task.
// Caller holds c.mu.
func (c *Coordinator) finishLocked(ctx context.Context, t *Task, now time.Time) {
    if t.Handle != "" {
        delete(c.byHandle, t.Handle)
    }
    c.running--
    for len(c.queue) > 0 {
        next := c.queue[0]
        c.queue = c.queue[1:]
        if next.Phase.terminal() {
            continue
        }
        c.startTaskLocked(ctx, next, now)
        break
    }
}

// OnRebalanceComplete is the completion callback from the data-movement
// collaborator. The task moves to Verifying and, if the consistency check
// passes, Complete.
func (c *Coordinator) OnRebalanceComplete(ctx context.Context, h rebalance.TaskHandle, now time.Time) {
    c.mu.Lock()
    t, ok := c.byHandle[h]
    if !ok || t.Phase != PhaseRebalanceRequested {
        c.mu.Unlock()
        return
    }
    c.enterPhaseLocked(ctx, t, PhaseVerifying, now, "rebalance completed")
    c.mu.Unlock()

    // The consistency check may take a while and may call back in; it runs
    // off the lock, and the phase is re-checked before committing.
    err := c.verifier.Verify(ctx, t.GroupID, t.MemberID)

    c.mu.Lock()
    if t.Phase == PhaseVerifying {
        if err != nil {
            c.abortLocked(ctx, t, now, fmt.Sprintf("verification failed: %v", err))
        } else {
            c.enterPhaseLocked(ctx, t, PhaseComplete, now, "recovery verified")
        }
    }
    c.mu.Unlock()
    c.drainRequests(ctx, now)
}

// OnRebalanceFailed is the failure callback from the data-movement
// collaborator.
func (c *Coordinator) OnRebalanceFailed(ctx context.Context, h rebalance.TaskHandle, cause string, now time.Time) {
    c.mu.Lock()
    if t, ok := c.byHandle[h]; ok && !t.Phase.terminal() {
        c.abortLocked(ctx, t, now, fmt.Sprintf("rebalance failed: %s", cause))
    }
    c.mu.Unlock()
    c.drainRequests(ctx, now)
}

// Tick runs the deadline sweep and one disk-policy evaluation cycle. The
// owner calls it on a fixed interval.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) {
    c.sweepDeadlines(ctx, now)
    c.evaluateDisks(ctx, now)
    c.drainRequests(ctx, now)
}

func (c *Coordinator) sweepDeadlines(ctx context.Context, now time.Time) {
    c.mu.Lock()
    defer c.mu.Unlock()
    for _, t := range c.tasks {
        if t.Phase.terminal() || t.Phase == "" {
            continue
        }
        if now.After(t.Deadline) {
            c.abortLocked(ctx, t, now, fmt.Sprintf("phase %s exceeded recovery timeout", t.Phase))
        }
    }
}

// evaluateDisks applies the elimination policy to every tracked disk.
// Detector and collector reads happen before c.mu is taken, the quorum
// safety check under it, and the detector mutation last with no locks held:
// ForceFail re-enters OnVerdict holding the per-member detector lock, which
// sits above both c.mu and the quorum lock.
func (c *Coordinator) evaluateDisks(ctx context.Context, now time.Time) {
    type observation struct {
        id     string
        breach bool
        why    string
    }
    var observed []observation
    for _, id := range c.det.Members(detector.KindDisk) {
        if st, err := c.det.Liveness(id); err != nil || st == detector.StateFailed {
            continue
        }
        stats, err := c.col.Stats(id, c.cfg.Policy.Window)
        if err != nil {
            continue
        }
        breach, why := c.cfg.Policy.breached(stats)
        observed = append(observed, observation{id: id, breach: breach, why: why})
    }

    type decision struct {
        memberID string
        reason   string
    }
    var eliminate []decision

    c.mu.Lock()
    for _, o := range observed {
        id, why := o.id, o.why
        if !o.breach {
            c.strikes[id] = 0
            continue
        }
        c.strikes[id]++
        if c.strikes[id] < c.cfg.Policy.ConsecutiveFailures {
            continue
        }
        q := c.group(id)
        if q == nil {
            continue
        }
        groupID := q.GroupID()
        if c.paused[groupID] {
            continue
        }
        if err := q.CheckEliminate(id); err != nil {
            // fail-safe over fail-fast: refusing and pausing beats pushing
            // the group into Critical ourselves
            c.paused[groupID] = true
            c.emitEvent(Event{Kind: EventEliminationRefused, MemberID: id, GroupID: groupID, At: now,
                Reason: fmt.Sprintf("%s; elimination paused for group: %v", why, err)})
            continue
        }
        c.strikes[id] = 0
        c.elims = append(c.elims, EliminationRecord{
            MemberID: id,
            GroupID:  groupID,
            Reason:   why,
            At:       now,
            History:  append([]detector.Transition(nil), c.history[id]...),
        })
        c.emitEvent(Event{Kind: EventEliminated, MemberID: id, GroupID: groupID, At: now, Reason: why})
        eliminate = append(eliminate, decision{memberID: id, reason: why})
    }
    c.mu.Unlock()

    // ForceFail re-enters OnVerdict through the transition callback, so it
    // must run without holding c.mu.
    for _, d := range eliminate {
        _ = c.det.ForceFail(d.memberID, "eliminated: "+d.reason, now)
    }
}

// ResumeEliminations lifts the elimination pause for a group after operator
// review.
func (c *Coordinator) ResumeEliminations(groupID string) {
    c.mu.Lock()
    delete(c.paused, groupID)
    c.mu.Unlock()
}

// EliminationsPaused reports whether the group's eliminations are paused.
func (c *Coordinator) EliminationsPaused(groupID string) bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.paused[groupID]
}

// VerifyAndRestore runs the consistency check after a rejoin brought the
// group's unavailable count back to zero, committing the return to Active
// on success.
func (c *Coordinator) VerifyAndRestore(ctx context.Context, q *quorum.Manager, memberID string, now time.Time) error {
    if q.Unavailable() != 0 {
        return nil
    }
    if err := c.verifier.Verify(ctx, q.GroupID(), memberID); err != nil {
        c.emitEvent(Event{Kind: EventEscalation, MemberID: memberID, GroupID: q.GroupID(), At: now,
            Reason: fmt.Sprintf("post-rejoin verification failed: %v", err)})
        return err
    }
    q.MarkVerified(now)
    return nil
}

// OnRejoin closes any in-flight recovery task for a member that was
// explicitly re-admitted, and clears its policy strikes.
func (c *Coordinator) OnRejoin(ctx context.Context, memberID string, now time.Time) {
    c.mu.Lock()
    c.strikes[memberID] = 0
    t, ok := c.tasks[memberID]
    switch {
    case !ok || t.Phase.terminal():
    case t.Phase == "":
        // still queued: drop it without occupying a slot
        t.Phase = PhaseAborted
        c.emitEvent(Event{Kind: EventRecoveryPhase, MemberID: memberID, GroupID: t.GroupID, TaskID: t.ID, NewPhase: PhaseAborted, At: now, Reason: "member rejoined"})
    default:
        c.abortLocked(ctx, t, now, "member rejoined")
    }
    c.mu.Unlock()
    c.drainRequests(ctx, now)
}

// Tasks returns a snapshot of recovery tasks, including terminal ones not
// yet superseded.
func (c *Coordinator) Tasks() []Task {
    c.mu.Lock()
    defer c.mu.Unlock()
    out := make([]Task, 0, len(c.tasks))
    for _, t := range c.tasks {
        out = append(out, *t)
    }
    return out
}

// Running reports the number of in-flight (slot-occupying) tasks.
func (c *Coordinator) Running() int {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.running
}

// Queued reports the number of tasks waiting for a slot.
func (c *Coordinator) Queued() int {
    c.mu.Lock()
    defer c.mu.Unlock()
    n := 0
    for _, t := range c.queue {
        if !t.Phase.terminal() {
            n++
        }
    }
    return n
}

// EliminationHistory returns a copy of the append-only elimination log.
func (c *Coordinator) EliminationHistory() []EliminationRecord {
    c.mu.Lock()
    defer c.mu.Unlock()
    return append([]EliminationRecord(nil), c.elims...)
}

func (c *Coordinator) emitEvent(ev Event) {
    if c.emit != nil {
        c.emit(ev)
    }
}

// ErrNoTask reports a phase signal for a member without a recovery task.
var ErrNoTask = errors.New("coordinator: no recovery task")
