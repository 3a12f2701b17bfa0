package cluster

import (
    "context"
    "io"
    "log"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/housemecn/rustfs/pkg/detector"
    "github.com/housemecn/rustfs/pkg/health"
    "github.com/housemecn/rustfs/pkg/quorum"
    "github.com/housemecn/rustfs/pkg/rebalance"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestCore(t *testing.T, groups ...quorum.Config) (*Core, *rebalance.Recorder) {
    t.Helper()
    if len(groups) == 0 {
        groups = []quorum.Config{{GroupID: "g1", Erasure: quorum.ErasureCodeConfig{DataShards: 4, ParityShards: 2}}}
    }
    rec := &rebalance.Recorder{}
    c, err := New(context.Background(), Options{
        NodeID:     "monitor-1",
        Groups:     groups,
        Logger:     testLogger(),
        Rebalancer: rec,
    })
    require.NoError(t, err)
    return c, rec
}

// feed delivers enough successful heartbeats to seed latency statistics.
func feed(t *testing.T, c *Core, id string, at time.Time) {
    t.Helper()
    for i := 0; i < 4; i++ {
        require.NoError(t, c.DeliverHeartbeatResult(id, true, 100*time.Millisecond, at.Add(time.Duration(i)*100*time.Millisecond)))
    }
}

func TestOptionsValidate(t *testing.T) {
    rec := &rebalance.Recorder{}
    base := Options{NodeID: "n1", Logger: testLogger(), Rebalancer: rec,
        Groups: []quorum.Config{{GroupID: "g1", Erasure: quorum.ErasureCodeConfig{DataShards: 2, ParityShards: 1}}}}
    require.NoError(t, base.Validate())

    bad := base
    bad.NodeID = ""
    assert.Error(t, bad.Validate())

    bad = base
    bad.Groups = nil
    assert.Error(t, bad.Validate())

    bad = base
    bad.Groups = append([]quorum.Config{}, base.Groups[0], base.Groups[0])
    assert.Error(t, bad.Validate())

    bad = base
    bad.Rebalancer = nil
    assert.Error(t, bad.Validate())
}

func TestAddRemoveMember(t *testing.T) {
    c, _ := newTestCore(t)

    require.NoError(t, c.AddMember("disk-1", detector.KindDisk, "g1"))
    err := c.AddMember("disk-1", detector.KindDisk, "g1")
    assert.ErrorIs(t, err, ErrMemberExists)

    err = c.AddMember("disk-2", detector.KindDisk, "nope")
    assert.ErrorIs(t, err, ErrUnknownGroup)

    err = c.RemoveMember(context.Background(), "ghost", false)
    assert.ErrorIs(t, err, health.ErrUnknownMember)

    require.NoError(t, c.RemoveMember(context.Background(), "disk-1", false))
    _, err = c.MemberLiveness("disk-1")
    assert.ErrorIs(t, err, detector.ErrUnknownMember)
}

func TestFailureFlowsToQuorumAndRecovery(t *testing.T) {
    c, rec := newTestCore(t)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    events := c.Subscribe(ctx)

    t0 := time.Now()
    for _, id := range []string{"disk-1", "disk-2", "disk-3"} {
        require.NoError(t, c.AddMember(id, detector.KindDisk, "g1"))
        feed(t, c, id, t0)
    }

    // disk-1 goes silent; the others stay fresh
    tick1 := t0.Add(300*time.Millisecond + 700*time.Millisecond)
    for _, id := range []string{"disk-2", "disk-3"} {
        require.NoError(t, c.DeliverHeartbeatResult(id, true, 100*time.Millisecond, tick1.Add(-50*time.Millisecond)))
    }
    c.det.Evaluate(tick1)
    st, err := c.MemberLiveness("disk-1")
    require.NoError(t, err)
    assert.Equal(t, detector.StateSuspected, st)

    tick2 := tick1.Add(10 * time.Second)
    for _, id := range []string{"disk-2", "disk-3"} {
        require.NoError(t, c.DeliverHeartbeatResult(id, true, 100*time.Millisecond, tick2.Add(-50*time.Millisecond)))
    }
    c.det.Evaluate(tick2)
    st, err = c.MemberLiveness("disk-1")
    require.NoError(t, err)
    assert.Equal(t, detector.StateFailed, st)

    qs, err := c.QuorumState("g1")
    require.NoError(t, err)
    assert.Equal(t, quorum.StateDegraded, qs)
    assert.NoError(t, c.CheckWrite("g1"))

    // recovery opened and rebalance requested for the group minus the disk
    reqs := rec.Requests()
    require.Len(t, reqs, 1)
    assert.Equal(t, "g1", reqs[0].GroupID)
    assert.Contains(t, reqs[0].Excluded, "disk-1")

    cancel()
    var kinds []EventKind
    for ev := range events {
        kinds = append(kinds, ev.Kind)
    }
    assert.Contains(t, kinds, EventLivenessChanged)
    assert.Contains(t, kinds, EventQuorumChanged)
    assert.Contains(t, kinds, EventRecoveryPhase)
}

func TestRejoinRestoresActive(t *testing.T) {
    c, _ := newTestCore(t)
    t0 := time.Now()
    require.NoError(t, c.AddMember("disk-1", detector.KindDisk, "g1"))
    feed(t, c, "disk-1", t0)

    // fail it directly; single-member group, guard does not apply
    require.NoError(t, c.det.ForceFail("disk-1", "test", t0.Add(time.Second)))
    qs, _ := c.QuorumState("g1")
    assert.Equal(t, quorum.StateDegraded, qs)

    // rejoin does not self-promote: verification gates the return to Active
    ctx, cancel := context.WithCancel(context.Background())
    events := c.Subscribe(ctx)
    require.NoError(t, c.RejoinMember(context.Background(), "disk-1"))

    st, err := c.MemberLiveness("disk-1")
    require.NoError(t, err)
    assert.Equal(t, detector.StateHealthy, st)
    qs, _ = c.QuorumState("g1")
    assert.Equal(t, quorum.StateActive, qs)

    cancel()
    toActive := 0
    for ev := range events {
        if ev.Kind == EventQuorumChanged && ev.NewState == string(quorum.StateActive) {
            toActive++
        }
    }
    assert.Equal(t, 1, toActive)

    // rejoin of a healthy member is refused
    err = c.RejoinMember(context.Background(), "disk-1")
    assert.ErrorIs(t, err, detector.ErrNotFailed)
}

func TestDecommissionReplacementRestoresActive(t *testing.T) {
    c, _ := newTestCore(t)
    t0 := time.Now()
    require.NoError(t, c.AddMember("disk-1", detector.KindDisk, "g1"))
    feed(t, c, "disk-1", t0)

    // removal retires the slot: the group stays degraded, heartbeats or no
    require.NoError(t, c.Decommission(context.Background(), "disk-1"))
    qs, _ := c.QuorumState("g1")
    assert.Equal(t, quorum.StateDegraded, qs)

    // the replacement disk fills the slot and, once verified, restores Active
    require.NoError(t, c.AddMember("disk-2", detector.KindDisk, "g1"))
    feed(t, c, "disk-2", t0.Add(time.Second))
    qs, _ = c.QuorumState("g1")
    assert.Equal(t, quorum.StateActive, qs)
    assert.NoError(t, c.CheckWrite("g1"))
}

func TestRemoveMemberQuorumSafety(t *testing.T) {
    c, _ := newTestCore(t, quorum.Config{GroupID: "g1", Erasure: quorum.ErasureCodeConfig{DataShards: 2, ParityShards: 1}})
    t0 := time.Now()
    for _, id := range []string{"disk-1", "disk-2"} {
        require.NoError(t, c.AddMember(id, detector.KindDisk, "g1"))
        feed(t, c, id, t0)
    }
    require.NoError(t, c.det.ForceFail("disk-1", "test", t0.Add(time.Second)))
    qs, _ := c.QuorumState("g1")
    assert.Equal(t, quorum.StateReadOnly, qs)

    // removing the last healthy disk would push past parity tolerance
    err := c.RemoveMember(context.Background(), "disk-2", false)
    assert.ErrorIs(t, err, quorum.ErrInvalidTransition)
    _, stillThere := c.reg.get("disk-2")
    assert.True(t, stillThere)

    require.NoError(t, c.RemoveMember(context.Background(), "disk-2", true))
    qs, _ = c.QuorumState("g1")
    assert.Equal(t, quorum.StateCritical, qs)
}

func TestExportImportMembers(t *testing.T) {
    c, _ := newTestCore(t)
    require.NoError(t, c.AddMember("disk-1", detector.KindDisk, "g1"))
    require.NoError(t, c.AddMember("node-1", detector.KindNode, ""))

    buf, err := c.ExportMembers()
    require.NoError(t, err)

    // a fresh core admits the snapshot through the regular path: the
    // detector tracks restored members and groups count them
    fresh, _ := newTestCore(t)
    n, err := fresh.ImportMembers(buf)
    require.NoError(t, err)
    assert.Equal(t, 2, n)

    ms := fresh.reg.list()
    require.Len(t, ms, 2)
    assert.Equal(t, "disk-1", ms[0].ID)
    assert.Equal(t, "g1", ms[0].Group)
    assert.Equal(t, detector.KindNode, ms[1].Kind)
    st, err := fresh.MemberLiveness("disk-1")
    require.NoError(t, err)
    assert.Equal(t, detector.StateHealthy, st)

    // re-importing is a no-op, not a duplicate-member error
    n, err = fresh.ImportMembers(buf)
    require.NoError(t, err)
    assert.Equal(t, 0, n)
}

func TestStopBeforeStart(t *testing.T) {
    c, _ := newTestCore(t)
    assert.ErrorIs(t, c.Stop(context.Background()), ErrNotStarted)
    assert.ErrorIs(t, c.Close(), ErrNotStarted)
}

func TestStatusReport(t *testing.T) {
    c, _ := newTestCore(t)
    t0 := time.Now()
    require.NoError(t, c.AddMember("disk-1", detector.KindDisk, "g1"))
    feed(t, c, "disk-1", t0)

    st, err := c.Status(context.Background())
    require.NoError(t, err)
    assert.True(t, st.Healthy)
    require.Len(t, st.Groups, 1)
    assert.True(t, st.Groups[0].WritesOK)
    require.Len(t, st.Members, 1)
    assert.Equal(t, detector.StateHealthy, st.Members[0].Liveness)

    require.NoError(t, c.det.ForceFail("disk-1", "test", t0.Add(time.Second)))
    st, err = c.Status(context.Background())
    require.NoError(t, err)
    assert.False(t, st.Healthy)
    assert.NotEmpty(t, st.Warnings)

    rep := c.HealthReport()
    require.Len(t, rep.Members, 1)
    assert.Equal(t, detector.StateFailed, rep.Members[0].Liveness)
    assert.NotEmpty(t, rep.Warnings)
    assert.Greater(t, rep.Members[0].FailAfterMS, rep.Members[0].SuspectAfterMS)
}

func TestConcurrentStatusDuringTransitions(t *testing.T) {
    c, _ := newTestCore(t)
    t0 := time.Now()
    ids := []string{"disk-1", "disk-2", "disk-3", "disk-4"}
    for _, id := range ids {
        require.NoError(t, c.AddMember(id, detector.KindDisk, "g1"))
        feed(t, c, id, t0)
    }

    var wg sync.WaitGroup
    stop := make(chan struct{})
    for i := 0; i < 4; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for {
                select {
                case <-stop:
                    return
                default:
                }
                st, err := c.Status(context.Background())
                if err != nil {
                    t.Error(err)
                    return
                }
                for _, g := range st.Groups {
                    switch g.State {
                    case quorum.StateActive, quorum.StateDegraded, quorum.StateReadOnly, quorum.StateCritical:
                    default:
                        t.Errorf("torn quorum state %q", g.State)
                        return
                    }
                }
                _ = c.HealthReport()
            }
        }()
    }

    at := t0.Add(time.Second)
    for _, id := range ids {
        require.NoError(t, c.det.ForceFail(id, "churn", at))
        require.NoError(t, c.RejoinMember(context.Background(), id))
        at = at.Add(time.Second)
    }
    close(stop)
    wg.Wait()

    qs, err := c.QuorumState("g1")
    require.NoError(t, err)
    assert.Equal(t, quorum.StateActive, qs)
}

func TestUnknownGroupQueries(t *testing.T) {
    c, _ := newTestCore(t)
    _, err := c.QuorumState("nope")
    assert.ErrorIs(t, err, ErrUnknownGroup)
    _, err = c.CanRead("nope")
    assert.ErrorIs(t, err, ErrUnknownGroup)
    assert.ErrorIs(t, c.CheckWrite("nope"), ErrUnknownGroup)
    assert.ErrorIs(t, c.ResumeEliminations("nope"), ErrUnknownGroup)
    assert.ErrorIs(t, c.ForceReadOnly("nope", "maintenance"), ErrUnknownGroup)
    assert.ErrorIs(t, c.ResumeWrites("nope"), ErrUnknownGroup)
}

func TestForceReadOnlyRoundTrip(t *testing.T) {
    c, _ := newTestCore(t)
    require.NoError(t, c.ForceReadOnly("g1", "maintenance"))
    err := c.CheckWrite("g1")
    assert.ErrorIs(t, err, quorum.ErrInsufficientQuorum)
    require.NoError(t, c.ResumeWrites("g1"))
    assert.NoError(t, c.CheckWrite("g1"))
}
