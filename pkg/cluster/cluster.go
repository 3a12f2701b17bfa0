package cluster

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/housemecn/rustfs/pkg/coordinator"
    "github.com/housemecn/rustfs/pkg/detector"
    "github.com/housemecn/rustfs/pkg/health"
    "github.com/housemecn/rustfs/pkg/internal/logutil"
    "github.com/housemecn/rustfs/pkg/membership"
    obsmetrics "github.com/housemecn/rustfs/pkg/observability/metrics"
    "github.com/housemecn/rustfs/pkg/observability/tracing"
    "github.com/housemecn/rustfs/pkg/quorum"
    "github.com/housemecn/rustfs/pkg/transport"
)

// Facade exposes the high-level API for embedding the reliability core.
type Facade interface {
    Start(ctx context.Context) error
    Status(ctx context.Context) (*ClusterStatus, error)
    Stop(ctx context.Context) error
}

// Core is the concrete implementation of the Facade. It wires together the
// health collector, failure detector, per-group quorum managers and the
// elimination/recovery coordinator, translates their callbacks into a
// unified event stream, and serves the management endpoint.
//
// Lock order: quorum and coordinator locks are acquired from detector
// callbacks (which run under a per-member lock), so Core methods must never
// take a detector member lock while holding the coordinator lock, and the
// registry lock is a leaf held only for directory access.
type Core struct {
    opts Options
    mu   sync.RWMutex
    run  struct {
        started bool
        closed  bool
    }
    reg    *registry
    col    *health.Collector
    det    *detector.Detector
    groups map[string]*quorum.Manager
    coord  *coordinator.Coordinator
    mem    membership.Membership
    rpcS   transport.RPCServer
    eb     eventBus
    cancel context.CancelFunc
}

// New constructs the reliability core from validated options. It performs no
// network activity; call Start to launch loops and the management endpoint.
func New(ctx context.Context, opts Options) (*Core, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    c := &Core{
        opts:   opts,
        reg:    newRegistry(),
        col:    health.NewCollector(opts.retention()),
        groups: make(map[string]*quorum.Manager, len(opts.Groups)),
        mem:    opts.Membership,
        rpcS:   opts.RPCServer,
    }
    for _, gc := range opts.Groups {
        q, err := quorum.NewManager(gc, c.onQuorumTransition)
        if err != nil {
            return nil, err
        }
        c.groups[gc.GroupID] = q
    }
    c.det = detector.New(opts.Detector, c.onLivenessTransition, c.onPossiblePartition)
    c.coord = coordinator.New(opts.Coordinator, c.col, c.det, c.groupOf, opts.Rebalancer, opts.Verifier, c.onCoordinatorEvent)
    return c, nil
}

// Close is a convenience alias for Stop with a background context.
func (c *Core) Close() error {
    return c.Stop(context.Background())
}

// Start launches the evaluation loop, the optional membership feed and the
// management endpoint.
func (c *Core) Start(ctx context.Context) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.run.started {
        return nil
    }
    c.run.started = true
    obsmetrics.Register()

    loopCtx, cancel := context.WithCancel(context.Background())
    c.cancel = cancel

    if c.mem != nil {
        if err := c.mem.Start(ctx); err != nil {
            return err
        }
        if c.opts.Discovery != nil {
            if seeds := c.opts.Discovery.Seeds(); len(seeds) > 0 {
                logutil.Infof(c.opts.Logger, "joining membership seeds: %v", seeds)
                _ = c.mem.Join(seeds)
            }
        }
        go c.membershipEventsLoop(loopCtx)
    }
    go c.evalLoop(loopCtx)

    if c.rpcS != nil {
        h := transport.Handlers{
            Status:           func(ctx context.Context) ([]byte, error) { return c.statusJSON(ctx) },
            Health:           func(ctx context.Context) ([]byte, error) { return c.healthJSON(ctx) },
            Eliminations:     func(ctx context.Context) ([]byte, error) { return json.Marshal(c.EliminationHistory()) },
            AddMember:        c.handleAddMember,
            RemoveMember:     c.handleRemoveMember,
            Rejoin:           c.handleRejoin,
            Heartbeat:        c.handleHeartbeat,
            Metric:           c.handleMetric,
            ResolvePartition: c.handleResolvePartition,
        }
        if err := c.rpcS.Start(ctx, h); err != nil {
            return err
        }
        logutil.Infof(c.opts.Logger, "management endpoint listening at %s (status/metrics/healthz)", c.rpcS.Addr())
        // Servers that can stream events to subscribed peers get a feed from
        // the event bus.
        if bc, ok := c.rpcS.(interface{ BroadcastEvent(data []byte) int }); ok {
            go c.eventBroadcastLoop(loopCtx, bc)
        }
    }
    return nil
}

// eventBroadcastLoop mirrors the local event bus onto the transport's stream
// subscribers. Best effort, like the bus itself.
func (c *Core) eventBroadcastLoop(ctx context.Context, bc interface{ BroadcastEvent(data []byte) int }) {
    ch := c.Subscribe(ctx)
    for {
        select {
        case <-ctx.Done():
            return
        case ev, ok := <-ch:
            if !ok {
                return
            }
            if b, err := json.Marshal(ev); err == nil {
                bc.BroadcastEvent(b)
            }
        }
    }
}

// Stop shuts down loops, membership and the management server. Stopping a
// core that was never started returns ErrNotStarted.
func (c *Core) Stop(ctx context.Context) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if !c.run.started {
        return ErrNotStarted
    }
    if c.run.closed {
        return nil
    }
    c.run.closed = true
    if c.cancel != nil {
        c.cancel()
    }
    if c.mem != nil {
        _ = c.mem.Leave()
        _ = c.mem.Stop()
    }
    if c.rpcS != nil {
        _ = c.rpcS.Stop(ctx)
    }
    return nil
}

// evalLoop drives periodic detector sweeps and coordinator ticks.
func (c *Core) evalLoop(ctx context.Context) {
    ticker := time.NewTicker(c.opts.evalInterval())
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case now := <-ticker.C:
            c.det.Evaluate(now)
            c.coord.Tick(ctx, now)
            obsmetrics.RecoveryTasksRunning.Set(float64(c.coord.Running()))
            obsmetrics.RecoveryTasksQueued.Set(float64(c.coord.Queued()))
        }
    }
}

// membershipEventsLoop translates gossip observations into liveness
// evidence: a visible member is a live member, a gossip-failed member is a
// missed heartbeat. Gossip never declares failure by itself; the detector
// keeps that authority.
func (c *Core) membershipEventsLoop(ctx context.Context) {
    evch := c.mem.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case e, ok := <-evch:
            if !ok {
                return
            }
            switch e.Type {
            case membership.EventJoin:
                if _, tracked := c.reg.get(e.Member.ID); !tracked {
                    if err := c.AddMember(e.Member.ID, detector.KindNode, ""); err != nil {
                        logutil.Warnf(c.opts.Logger, "gossip join not tracked: id=%s err=%v", e.Member.ID, err)
                        continue
                    }
                }
                _ = c.DeliverHeartbeatResult(e.Member.ID, true, 0, e.At)
            case membership.EventAlive:
                _ = c.DeliverHeartbeatResult(e.Member.ID, true, 0, e.At)
            case membership.EventFailed:
                _ = c.DeliverHeartbeatResult(e.Member.ID, false, 0, e.At)
            case membership.EventLeave:
                // graceful leave; removal stays an operator decision
                logutil.Infof(c.opts.Logger, "gossip leave observed: id=%s", e.Member.ID)
            }
        }
    }
}

// groupOf resolves the quorum manager governing a member, nil when the
// member is unknown or ungrouped.
func (c *Core) groupOf(memberID string) *quorum.Manager {
    m, ok := c.reg.get(memberID)
    if !ok || m.Group == "" {
        return nil
    }
    return c.groups[m.Group]
}

// AddMember registers a node or disk for monitoring. Disks must name an
// existing redundancy group; nodes may be ungrouped.
func (c *Core) AddMember(id string, kind detector.Kind, group string) error {
    if group != "" {
        if _, ok := c.groups[group]; !ok {
            return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
        }
    }
    now := time.Now()
    if err := c.reg.add(Member{ID: id, Kind: kind, Group: group, AddedAt: now}); err != nil {
        return err
    }
    c.col.Track(id)
    c.det.Track(id, kind, now)
    obsmetrics.MembersTracked.WithLabelValues(string(kind)).Inc()
    logutil.Infof(c.opts.Logger, "member tracked: id=%s kind=%s group=%s", id, kind, group)
    c.eb.publish(Event{Kind: EventMemberAdded, At: now, MemberID: id, GroupID: group, NewState: string(detector.StateHealthy)})
    if group != "" {
        c.replaceDecommissioned(c.groups[group], id, now)
    }
    return nil
}

// replaceDecommissioned lets a newly admitted group member fill the oldest
// retired slot, so a decommissioned disk's replacement can bring the group
// back up. The return to Active stays gated by the verifier, exactly like a
// rejoin: the replacement holds no data until the rebuild completes.
func (c *Core) replaceDecommissioned(q *quorum.Manager, newID string, now time.Time) {
    dec := q.Decommissioned()
    if len(dec) == 0 {
        return
    }
    q.MarkReplaced(dec[0], now)
    logutil.Infof(c.opts.Logger, "member %s replaces decommissioned %s in group %s", newID, dec[0], q.GroupID())
    if q.Unavailable() == 0 {
        // escalation on verifier refusal is emitted by the coordinator
        _ = c.coord.VerifyAndRestore(context.Background(), q, newID, now)
    }
}

// RemoveMember stops monitoring a member. Removing an available member
// reduces its group's redundancy, so the group is consulted first: when the
// loss would push the group past parity tolerance the call is refused with
// ErrInvalidTransition unless force is set. The slot keeps counting as
// unavailable until a replacement member is admitted into the group.
func (c *Core) RemoveMember(ctx context.Context, id string, force bool) error {
    _, end := tracing.StartSpan(ctx, "cluster.RemoveMember")
    defer end()
    m, ok := c.reg.get(id)
    if !ok {
        return fmt.Errorf("%w: %s", health.ErrUnknownMember, id)
    }
    now := time.Now()
    q := c.groupOf(id)
    if q != nil {
        if !q.IsFailed(id) && !force && q.WouldExceedTolerance(1) {
            return fmt.Errorf("%w: removing %s would leave group %s past parity tolerance", quorum.ErrInvalidTransition, id, q.GroupID())
        }
        q.MarkDecommissioned(id, now, "member removed")
    }
    c.reg.remove(id)
    c.det.Forget(id)
    c.col.Forget(id)
    obsmetrics.MembersTracked.WithLabelValues(string(m.Kind)).Dec()
    logutil.Infof(c.opts.Logger, "member removed: id=%s force=%v", id, force)
    c.eb.publish(Event{Kind: EventMemberRemoved, At: now, MemberID: id, GroupID: m.Group, Reason: "removed by operator"})
    return nil
}

// Decommission is a graceful removal that never forces past quorum safety.
func (c *Core) Decommission(ctx context.Context, id string) error {
    return c.RemoveMember(ctx, id, false)
}

// RejoinMember re-admits a Failed member after repair. The liveness reset
// flows through the detector callback (quorum rejoin accounting and recovery
// task closure); the group only returns to Active once the verifier accepts
// the post-rejoin consistency check.
func (c *Core) RejoinMember(ctx context.Context, id string) error {
    ctx, end := tracing.StartSpan(ctx, "cluster.RejoinMember")
    defer end()
    now := time.Now()
    if err := c.det.Rejoin(id, now); err != nil {
        return err
    }
    logutil.Infof(c.opts.Logger, "member rejoined: id=%s", id)
    if q := c.groupOf(id); q != nil {
        return c.coord.VerifyAndRestore(ctx, q, id, now)
    }
    return nil
}

// ExportMembers encodes the member directory for backup or migration.
func (c *Core) ExportMembers() ([]byte, error) {
    return c.reg.Snapshot()
}

// ImportMembers replays an ExportMembers blob through the regular admission
// path, so restored members are tracked by the detector and counted by their
// groups. Already-tracked ids are skipped. Returns the number of members
// admitted.
func (c *Core) ImportMembers(buf []byte) (int, error) {
    ms, err := decodeSnapshot(buf)
    if err != nil {
        return 0, err
    }
    n := 0
    for _, m := range ms {
        if _, ok := c.reg.get(m.ID); ok {
            continue
        }
        if err := c.AddMember(m.ID, m.Kind, m.Group); err != nil {
            return n, err
        }
        n++
    }
    return n, nil
}

// DeliverHeartbeatResult ingests one heartbeat probe outcome observed at
// the given time.
func (c *Core) DeliverHeartbeatResult(id string, success bool, latency time.Duration, at time.Time) error {
    result := "success"
    if !success {
        result = "miss"
    }
    obsmetrics.HeartbeatsTotal.WithLabelValues(result).Inc()
    if success && latency > 0 {
        if err := c.col.Record(id, health.MetricHeartbeatRTT, float64(latency)/float64(time.Millisecond), at); err != nil {
            return err
        }
    }
    return c.det.ObserveHeartbeat(id, success, latency, at)
}

// DeliverHealthMetric ingests one pushed health sample (latency, error or
// success marker) for a member.
func (c *Core) DeliverHealthMetric(id string, kind health.MetricKind, value float64, at time.Time) error {
    if err := c.col.Record(id, kind, value, at); err != nil {
        return err
    }
    obsmetrics.SamplesTotal.WithLabelValues(string(kind)).Inc()
    return nil
}

// ResolvePartition closes an ambiguous partition episode: confirmFailed
// promotes the deferred suspects to Failed, otherwise they resume normal
// evaluation.
func (c *Core) ResolvePartition(confirmFailed bool) {
    logutil.Warnf(c.opts.Logger, "partition resolved by operator: confirmFailed=%v", confirmFailed)
    c.det.ResolvePartition(confirmFailed, time.Now())
}

// ResumeEliminations lifts the elimination pause set when a refusal
// occurred in the group.
func (c *Core) ResumeEliminations(group string) error {
    if _, ok := c.groups[group]; !ok {
        return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
    }
    c.coord.ResumeEliminations(group)
    logutil.Infof(c.opts.Logger, "eliminations resumed: group=%s", group)
    return nil
}

// ForceReadOnly pins a group to ReadOnly until ResumeWrites.
func (c *Core) ForceReadOnly(group, reason string) error {
    q, ok := c.groups[group]
    if !ok {
        return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
    }
    return q.ForceReadOnly(time.Now(), reason)
}

// ResumeWrites lifts a forced ReadOnly pin.
func (c *Core) ResumeWrites(group string) error {
    q, ok := c.groups[group]
    if !ok {
        return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
    }
    return q.ResumeWrites(time.Now())
}

// CheckWrite reports whether the group currently admits writes.
func (c *Core) CheckWrite(group string) error {
    q, ok := c.groups[group]
    if !ok {
        return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
    }
    return q.CheckWrite()
}

// CanRead reports the group's read capability.
func (c *Core) CanRead(group string) (quorum.ReadCapability, error) {
    q, ok := c.groups[group]
    if !ok {
        return quorum.ReadCapability{}, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
    }
    return q.CanRead(), nil
}

// QuorumState reports the group's current state.
func (c *Core) QuorumState(group string) (quorum.State, error) {
    q, ok := c.groups[group]
    if !ok {
        return "", fmt.Errorf("%w: %s", ErrUnknownGroup, group)
    }
    return q.State(), nil
}

// MemberLiveness reports the detector's verdict for a member.
func (c *Core) MemberLiveness(id string) (detector.State, error) {
    return c.det.Liveness(id)
}

// EliminationHistory returns the append-only elimination audit log.
func (c *Core) EliminationHistory() []coordinator.EliminationRecord {
    return c.coord.EliminationHistory()
}

// HealthReport aggregates per-member windowed health and the adaptive
// thresholds currently applied.
func (c *Core) HealthReport() HealthReport {
    var rep HealthReport
    for _, m := range c.reg.list() {
        mh := MemberHealth{ID: m.ID, Kind: m.Kind}
        if st, err := c.det.Liveness(m.ID); err == nil {
            mh.Liveness = st
        }
        if w, err := c.col.Stats(m.ID, c.opts.retention()); err == nil {
            mh.Window = w
        }
        if s, f, err := c.det.Thresholds(m.ID); err == nil {
            mh.SuspectAfterMS = float64(s) / float64(time.Millisecond)
            mh.FailAfterMS = float64(f) / float64(time.Millisecond)
        }
        mh.DroppedSamples = c.col.Dropped(m.ID)
        if mh.Liveness != detector.StateHealthy {
            rep.Warnings = append(rep.Warnings, fmt.Sprintf("member %s is %s", m.ID, mh.Liveness))
        }
        rep.Members = append(rep.Members, mh)
    }
    return rep
}

// Status synthesizes a snapshot of groups, members and recovery load.
func (c *Core) Status(ctx context.Context) (*ClusterStatus, error) {
    s := &ClusterStatus{Healthy: true}
    for _, gc := range c.opts.Groups {
        q := c.groups[gc.GroupID]
        st := q.State()
        gs := GroupStatus{
            ID:           q.GroupID(),
            State:        st,
            Unavailable:  q.Unavailable(),
            DataShards:   q.Erasure().DataShards,
            ParityShards: q.Erasure().ParityShards,
            WritesOK:     q.CanWrite(),
        }
        if st != quorum.StateActive {
            s.Healthy = false
            s.Warnings = append(s.Warnings, fmt.Sprintf("group %s is %s (%d unavailable)", gs.ID, st, gs.Unavailable))
        }
        s.Groups = append(s.Groups, gs)
    }
    for _, m := range c.reg.list() {
        ms := MemberStatus{ID: m.ID, Kind: m.Kind, Group: m.Group}
        if st, err := c.det.Liveness(m.ID); err == nil {
            ms.Liveness = st
            if st != detector.StateHealthy {
                s.Warnings = append(s.Warnings, fmt.Sprintf("member %s is %s", m.ID, st))
            }
        }
        s.Members = append(s.Members, ms)
    }
    s.RecoveriesRunning = c.coord.Running()
    s.RecoveriesQueued = c.coord.Queued()
    return s, nil
}

func (c *Core) statusJSON(ctx context.Context) ([]byte, error) {
    st, err := c.Status(ctx)
    if err != nil { return nil, err }
    return json.Marshal(st)
}

func (c *Core) healthJSON(ctx context.Context) ([]byte, error) {
    return json.Marshal(c.HealthReport())
}

// onLivenessTransition runs under the detector's per-member lock. It feeds
// quorum accounting first so the coordinator observes post-transition group
// state, then hands the verdict to the coordinator.
func (c *Core) onLivenessTransition(tr detector.Transition) {
    obsmetrics.LivenessTransitionsTotal.WithLabelValues(string(tr.From), string(tr.To)).Inc()
    c.eb.publish(Event{Kind: EventLivenessChanged, At: tr.At, MemberID: tr.MemberID,
        OldState: string(tr.From), NewState: string(tr.To), Reason: tr.Reason})
    switch {
    case tr.To == detector.StateFailed:
        logutil.Warnf(c.opts.Logger, "member failed: id=%s kind=%s reason=%s", tr.MemberID, tr.Kind, tr.Reason)
        if q := c.groupOf(tr.MemberID); q != nil {
            q.MarkFailed(tr.MemberID, tr.At, tr.Reason)
        }
        c.coord.OnVerdict(context.Background(), tr)
    case tr.From == detector.StateFailed && tr.To == detector.StateHealthy:
        if q := c.groupOf(tr.MemberID); q != nil {
            q.MarkRejoined(tr.MemberID, tr.At)
        }
        c.coord.OnRejoin(context.Background(), tr.MemberID, tr.At)
    default:
        logutil.Infof(c.opts.Logger, "liveness changed: id=%s %s -> %s (%s)", tr.MemberID, tr.From, tr.To, tr.Reason)
        c.coord.OnVerdict(context.Background(), tr)
    }
}

func (c *Core) onQuorumTransition(tr quorum.Transition) {
    obsmetrics.QuorumState.WithLabelValues(tr.GroupID).Set(obsmetrics.StateValue(string(tr.To)))
    obsmetrics.UnavailableMembers.WithLabelValues(tr.GroupID).Set(float64(tr.Unavailable))
    obsmetrics.QuorumTransitionsTotal.WithLabelValues(tr.GroupID, string(tr.From), string(tr.To)).Inc()
    if tr.To == quorum.StateReadOnly || tr.To == quorum.StateCritical {
        logutil.Warnf(c.opts.Logger, "quorum state: group=%s %s -> %s unavailable=%d (%s)", tr.GroupID, tr.From, tr.To, tr.Unavailable, tr.Reason)
    } else {
        logutil.Infof(c.opts.Logger, "quorum state: group=%s %s -> %s unavailable=%d (%s)", tr.GroupID, tr.From, tr.To, tr.Unavailable, tr.Reason)
    }
    c.eb.publish(Event{Kind: EventQuorumChanged, At: tr.At, GroupID: tr.GroupID,
        OldState: string(tr.From), NewState: string(tr.To), Reason: tr.Reason,
        Details: map[string]string{"unavailable": fmt.Sprintf("%d", tr.Unavailable)}})
}

func (c *Core) onPossiblePartition(ambiguous []string, at time.Time) {
    obsmetrics.PartitionSignalsTotal.Inc()
    logutil.Warnf(c.opts.Logger, "possible partition: %d members unresponsive, failure declarations deferred", len(ambiguous))
    details := make(map[string]string, len(ambiguous))
    for i, id := range ambiguous {
        details[fmt.Sprintf("member%d", i)] = id
    }
    c.eb.publish(Event{Kind: EventPossiblePartition, At: at, Reason: "majority of members unresponsive", Details: details})
}

func (c *Core) onCoordinatorEvent(ev coordinator.Event) {
    out := Event{At: ev.At, MemberID: ev.MemberID, GroupID: ev.GroupID, Reason: ev.Reason,
        OldState: string(ev.OldPhase), NewState: string(ev.NewPhase)}
    if ev.TaskID != "" {
        out.Details = map[string]string{"taskId": ev.TaskID}
    }
    switch ev.Kind {
    case coordinator.EventEliminated:
        out.Kind = EventEliminated
        obsmetrics.EliminationsTotal.WithLabelValues("eliminated").Inc()
        logutil.Warnf(c.opts.Logger, "disk eliminated: id=%s group=%s reason=%s", ev.MemberID, ev.GroupID, ev.Reason)
    case coordinator.EventEliminationRefused:
        out.Kind = EventEliminationRefused
        obsmetrics.EliminationsTotal.WithLabelValues("refused").Inc()
        logutil.Warnf(c.opts.Logger, "elimination refused: id=%s group=%s reason=%s", ev.MemberID, ev.GroupID, ev.Reason)
    case coordinator.EventEscalation:
        out.Kind = EventEscalation
        obsmetrics.EscalationsTotal.Inc()
        logutil.Errorf(c.opts.Logger, "recovery escalation: id=%s group=%s reason=%s", ev.MemberID, ev.GroupID, ev.Reason)
    case coordinator.EventRecoveryPhase:
        out.Kind = EventRecoveryPhase
        obsmetrics.RecoveryPhasesTotal.WithLabelValues(string(ev.NewPhase)).Inc()
        logutil.Infof(c.opts.Logger, "recovery phase: id=%s %s -> %s", ev.MemberID, ev.OldPhase, ev.NewPhase)
    default:
        return
    }
    c.eb.publish(out)
}

// management endpoint handlers

func (c *Core) handleAddMember(ctx context.Context, req transport.AddMemberRequest) (transport.AddMemberResponse, error) {
    _, end := tracing.StartSpan(ctx, "cluster.handleAddMember")
    defer end()
    if err := c.AddMember(req.ID, detector.Kind(req.Kind), req.Group); err != nil {
        return transport.AddMemberResponse{Accepted: false, Error: err.Error()}, nil
    }
    return transport.AddMemberResponse{Accepted: true}, nil
}

func (c *Core) handleRemoveMember(ctx context.Context, req transport.RemoveMemberRequest) (transport.RemoveMemberResponse, error) {
    _, end := tracing.StartSpan(ctx, "cluster.handleRemoveMember")
    defer end()
    err := c.RemoveMember(ctx, req.ID, req.Force)
    if err != nil {
        resp := transport.RemoveMemberResponse{Accepted: false, Error: err.Error()}
        if errors.Is(err, quorum.ErrInvalidTransition) {
            resp.RequiresForce = true
        }
        return resp, nil
    }
    return transport.RemoveMemberResponse{Accepted: true}, nil
}

func (c *Core) handleRejoin(ctx context.Context, req transport.RejoinRequest) (transport.RejoinResponse, error) {
    _, end := tracing.StartSpan(ctx, "cluster.handleRejoin")
    defer end()
    if err := c.RejoinMember(ctx, req.ID); err != nil {
        return transport.RejoinResponse{Accepted: false, Error: err.Error()}, nil
    }
    return transport.RejoinResponse{Accepted: true}, nil
}

func (c *Core) handleHeartbeat(ctx context.Context, req transport.HeartbeatRequest) (transport.HeartbeatResponse, error) {
    at := time.Now()
    latency := time.Duration(req.LatencyMS * float64(time.Millisecond))
    if err := c.DeliverHeartbeatResult(req.ID, req.Success, latency, at); err != nil {
        return transport.HeartbeatResponse{Error: err.Error()}, nil
    }
    return transport.HeartbeatResponse{}, nil
}

func (c *Core) handleMetric(ctx context.Context, req transport.MetricRequest) (transport.MetricResponse, error) {
    if err := c.DeliverHealthMetric(req.ID, health.MetricKind(req.Kind), req.Value, time.Now()); err != nil {
        return transport.MetricResponse{Error: err.Error()}, nil
    }
    return transport.MetricResponse{}, nil
}

func (c *Core) handleResolvePartition(ctx context.Context, req transport.ResolvePartitionRequest) (transport.ResolvePartitionResponse, error) {
    c.ResolvePartition(req.ConfirmFailed)
    return transport.ResolvePartitionResponse{Accepted: true}, nil
}
