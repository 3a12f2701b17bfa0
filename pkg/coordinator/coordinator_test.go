package coordinator

import (
    "context"
    "fmt"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/housemecn/rustfs/pkg/detector"
    "github.com/housemecn/rustfs/pkg/health"
    "github.com/housemecn/rustfs/pkg/quorum"
    "github.com/housemecn/rustfs/pkg/rebalance"
)

type fixture struct {
    col   *health.Collector
    det   *detector.Detector
    q     *quorum.Manager
    reb   *rebalance.Recorder
    coord *Coordinator
    events []Event
    t0    time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
    t.Helper()
    f := &fixture{
        col: health.NewCollector(time.Minute),
        reb: &rebalance.Recorder{},
        t0:  time.Unix(3000, 0),
    }
    var err error
    f.q, err = quorum.NewManager(quorum.Config{
        GroupID: "g1",
        Erasure: quorum.ErasureCodeConfig{DataShards: 6, ParityShards: 3},
    }, nil)
    require.NoError(t, err)

    f.coord = New(cfg, nil, nil, func(string) *quorum.Manager { return f.q }, f.reb, nil,
        func(ev Event) { f.events = append(f.events, ev) })

    // route detector verdicts the way the cluster facade does
    f.det = detector.New(detector.Config{}, func(tr detector.Transition) {
        if tr.To == detector.StateFailed {
            f.q.MarkFailed(tr.MemberID, tr.At, tr.Reason)
        }
        f.coord.OnVerdict(context.Background(), tr)
    }, nil)
    f.coord.det = f.det
    f.coord.col = f.col
    return f
}

func (f *fixture) addDisk(id string) {
    f.col.Track(id)
    f.det.Track(id, detector.KindDisk, f.t0)
}

// fill records a cycle's worth of operations with the given error ratio.
func (f *fixture) fill(id string, at time.Time, errRate float64) {
    const ops = 100
    errs := int(errRate * ops)
    for i := 0; i < ops-errs; i++ {
        _ = f.col.Record(id, health.MetricSuccess, 1, at)
    }
    for i := 0; i < errs; i++ {
        _ = f.col.Record(id, health.MetricError, 1, at)
    }
}

func (f *fixture) eventsOf(kind EventKind) []Event {
    var out []Event
    for _, ev := range f.events {
        if ev.Kind == kind {
            out = append(out, ev)
        }
    }
    return out
}

func TestGracePeriodBlocksTransientBreach(t *testing.T) {
    // Scenario: error rate above threshold for 2 cycles, recovered on the
    // 3rd; with ConsecutiveFailures=3 elimination must not trigger.
    f := newFixture(t, Config{Policy: DiskPolicy{MaxErrorRate: 0.05, ConsecutiveFailures: 3, Window: 10 * time.Second}})
    f.addDisk("disk-1")
    ctx := context.Background()

    at := f.t0
    for cycle := 0; cycle < 2; cycle++ {
        at = at.Add(15 * time.Second) // each cycle sees only its own samples
        f.fill("disk-1", at, 0.08)
        f.coord.Tick(ctx, at)
    }
    at = at.Add(15 * time.Second)
    f.fill("disk-1", at, 0.01)
    f.coord.Tick(ctx, at)

    assert.Empty(t, f.coord.EliminationHistory(), "grace period not satisfied")
    st, _ := f.det.Liveness("disk-1")
    assert.Equal(t, detector.StateHealthy, st)

    // strikes were reset: two more bad cycles still must not eliminate
    for cycle := 0; cycle < 2; cycle++ {
        at = at.Add(15 * time.Second)
        f.fill("disk-1", at, 0.08)
        f.coord.Tick(ctx, at)
    }
    assert.Empty(t, f.coord.EliminationHistory())
}

func TestPersistentBreachEliminates(t *testing.T) {
    f := newFixture(t, Config{Policy: DiskPolicy{MaxErrorRate: 0.05, ConsecutiveFailures: 3, Window: 10 * time.Second}})
    f.addDisk("disk-1")
    ctx := context.Background()

    at := f.t0
    for cycle := 0; cycle < 3; cycle++ {
        at = at.Add(15 * time.Second)
        f.fill("disk-1", at, 0.10)
        f.coord.Tick(ctx, at)
    }

    hist := f.coord.EliminationHistory()
    require.Len(t, hist, 1)
    assert.Equal(t, "disk-1", hist[0].MemberID)
    assert.Contains(t, hist[0].Reason, "error rate")

    st, _ := f.det.Liveness("disk-1")
    assert.Equal(t, detector.StateFailed, st)
    assert.Equal(t, quorum.StateDegraded, f.q.State())

    // the verdict opened a recovery workflow with exactly one rebalance request
    require.Len(t, f.reb.Requests(), 1)
    assert.Equal(t, []string{"disk-1"}, f.reb.Requests()[0].Excluded)
}

func TestEliminationRefusedWhenUnsafe(t *testing.T) {
    f := newFixture(t, Config{Policy: DiskPolicy{MaxErrorRate: 0.05, ConsecutiveFailures: 1, Window: 10 * time.Second}})
    ctx := context.Background()

    // exhaust parity tolerance with prior losses
    now := f.t0
    for i := 0; i < 3; i++ {
        f.q.MarkFailed(fmt.Sprintf("dead-%d", i), now, "lost")
    }
    require.Equal(t, quorum.StateReadOnly, f.q.State())

    f.addDisk("disk-1")
    at := now.Add(15 * time.Second)
    f.fill("disk-1", at, 0.20)
    f.coord.Tick(ctx, at)

    assert.Empty(t, f.coord.EliminationHistory(), "elimination must be refused, not recorded")
    st, _ := f.det.Liveness("disk-1")
    assert.Equal(t, detector.StateHealthy, st, "disk must not be force-failed")
    require.Len(t, f.eventsOf(EventEliminationRefused), 1)
    assert.True(t, f.coord.EliminationsPaused("g1"))

    // refusal is terminal for the attempt: further cycles stay paused
    at = at.Add(15 * time.Second)
    f.fill("disk-1", at, 0.20)
    f.coord.Tick(ctx, at)
    assert.Len(t, f.eventsOf(EventEliminationRefused), 1)

    f.coord.ResumeEliminations("g1")
    assert.False(t, f.coord.EliminationsPaused("g1"))
}

func TestPhaseEntryIdempotent(t *testing.T) {
    f := newFixture(t, Config{})
    f.addDisk("disk-1")
    ctx := context.Background()

    now := f.t0.Add(time.Second)
    require.NoError(t, f.det.ForceFail("disk-1", "test", now))
    require.Len(t, f.reb.Requests(), 1)

    // re-delivering the rebalance phase-entry signal must not duplicate the
    // downstream request
    require.NoError(t, f.coord.Signal(ctx, "disk-1", PhaseRebalanceRequested, now))
    require.NoError(t, f.coord.Signal(ctx, "disk-1", PhaseRebalanceRequested, now))
    assert.Len(t, f.reb.Requests(), 1)

    // a second Failed verdict for the same member must not open a second task
    f.coord.OnVerdict(ctx, detector.Transition{MemberID: "disk-1", To: detector.StateFailed, At: now})
    assert.Len(t, f.reb.Requests(), 1)
}

func TestRecoveryCompletesThroughCallbacks(t *testing.T) {
    f := newFixture(t, Config{})
    f.addDisk("disk-1")
    ctx := context.Background()

    now := f.t0.Add(time.Second)
    require.NoError(t, f.det.ForceFail("disk-1", "test", now))
    handles := f.reb.Handles()
    require.Len(t, handles, 1)

    f.coord.OnRebalanceComplete(ctx, handles[0], now.Add(time.Second))

    var task Task
    for _, tk := range f.coord.Tasks() {
        if tk.MemberID == "disk-1" {
            task = tk
        }
    }
    assert.Equal(t, PhaseComplete, task.Phase)
    assert.Equal(t, 0, f.coord.Running())

    phases := f.eventsOf(EventRecoveryPhase)
    var seq []Phase
    for _, ev := range phases {
        seq = append(seq, ev.NewPhase)
    }
    assert.Equal(t, []Phase{PhaseDetected, PhaseNotified, PhaseFailoverRequested, PhaseRebalanceRequested, PhaseVerifying, PhaseComplete}, seq)
}

func TestRecoveryTimeoutAborts(t *testing.T) {
    f := newFixture(t, Config{RecoveryTimeout: 5 * time.Second})
    f.addDisk("disk-1")
    ctx := context.Background()

    now := f.t0.Add(time.Second)
    require.NoError(t, f.det.ForceFail("disk-1", "test", now))

    // no callback arrives; the deadline sweep must abort and escalate
    f.coord.Tick(ctx, now.Add(10*time.Second))

    var task Task
    for _, tk := range f.coord.Tasks() {
        if tk.MemberID == "disk-1" {
            task = tk
        }
    }
    assert.Equal(t, PhaseAborted, task.Phase)
    assert.NotEmpty(t, f.eventsOf(EventEscalation))
    assert.Equal(t, 0, f.coord.Running(), "aborted task must release its slot")
}

func TestParallelRecoveryLimitAndFIFO(t *testing.T) {
    f := newFixture(t, Config{MaxParallelRecoveries: 2})
    ctx := context.Background()
    now := f.t0.Add(time.Second)

    for i := 0; i < 4; i++ {
        id := fmt.Sprintf("disk-%d", i)
        f.addDisk(id)
        require.NoError(t, f.det.ForceFail(id, "test", now))
    }
    assert.Equal(t, 2, f.coord.Running())
    assert.Equal(t, 2, f.coord.Queued())
    require.Len(t, f.reb.Requests(), 2, "queued tasks must not issue requests yet")

    // completing the first slot starts the third failure, in arrival order
    h := f.reb.Handles()[0]
    f.coord.OnRebalanceComplete(ctx, h, now.Add(time.Second))
    assert.Equal(t, 2, f.coord.Running())
    assert.Equal(t, 1, f.coord.Queued())
    require.Len(t, f.reb.Requests(), 3)
    assert.Equal(t, []string{"disk-2"}, f.reb.Requests()[2].Excluded)
}

func TestRejoinAbortsInflightTask(t *testing.T) {
    f := newFixture(t, Config{})
    f.addDisk("disk-1")
    ctx := context.Background()
    now := f.t0.Add(time.Second)

    require.NoError(t, f.det.ForceFail("disk-1", "test", now))
    f.coord.OnRejoin(ctx, "disk-1", now.Add(time.Second))

    var task Task
    for _, tk := range f.coord.Tasks() {
        if tk.MemberID == "disk-1" {
            task = tk
        }
    }
    assert.Equal(t, PhaseAborted, task.Phase)
    assert.Equal(t, 0, f.coord.Running())
}

// reentrantRebalancer queries the coordinator from inside the request call,
// the way a collaborator reporting progress synchronously would.
type reentrantRebalancer struct {
    coord *Coordinator
    inner rebalance.Recorder
}

func (r *reentrantRebalancer) RequestRebalance(ctx context.Context, req rebalance.Request) (rebalance.TaskHandle, error) {
    _ = r.coord.Running()
    return r.inner.RequestRebalance(ctx, req)
}

type reentrantVerifier struct{ coord *Coordinator }

func (v *reentrantVerifier) Verify(context.Context, string, string) error {
    _ = v.coord.Tasks()
    return nil
}

func TestCollaboratorCallsRunOffTheLock(t *testing.T) {
    q, err := quorum.NewManager(quorum.Config{
        GroupID: "g1",
        Erasure: quorum.ErasureCodeConfig{DataShards: 6, ParityShards: 3},
    }, nil)
    require.NoError(t, err)
    reb := &reentrantRebalancer{}
    ver := &reentrantVerifier{}
    coord := New(Config{}, health.NewCollector(time.Minute), nil,
        func(string) *quorum.Manager { return q }, reb, ver, nil)
    reb.coord, ver.coord = coord, coord
    det := detector.New(detector.Config{}, func(tr detector.Transition) {
        coord.OnVerdict(context.Background(), tr)
    }, nil)
    coord.det = det

    now := time.Unix(3000, 0)
    det.Track("disk-1", detector.KindDisk, now)

    // the request is issued from inside the verdict callback; the
    // collaborator's re-entrant status query must not block on the
    // coordinator lock
    require.NoError(t, det.ForceFail("disk-1", "test", now.Add(time.Second)))
    require.Len(t, reb.inner.Requests(), 1)

    // same for the verifier on the completion path
    coord.OnRebalanceComplete(context.Background(), reb.inner.Handles()[0], now.Add(2*time.Second))
    assert.Equal(t, 0, coord.Running())
    for _, tk := range coord.Tasks() {
        assert.Equal(t, PhaseComplete, tk.Phase)
    }
}

func TestVerifyAndRestore(t *testing.T) {
    f := newFixture(t, Config{})
    ctx := context.Background()
    now := f.t0

    f.q.MarkFailed("disk-1", now, "lost")
    require.Equal(t, quorum.StateDegraded, f.q.State())
    f.q.MarkRejoined("disk-1", now.Add(time.Second))
    require.Equal(t, quorum.StateDegraded, f.q.State(), "verification still pending")

    require.NoError(t, f.coord.VerifyAndRestore(ctx, f.q, "disk-1", now.Add(2*time.Second)))
    assert.Equal(t, quorum.StateActive, f.q.State())
}
