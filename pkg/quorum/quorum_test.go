package quorum

import (
    "errors"
    "fmt"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func newGroup(t *testing.T, d, p int, sink *[]Transition) *Manager {
    t.Helper()
    m, err := NewManager(Config{
        GroupID: "g1",
        Erasure: ErasureCodeConfig{DataShards: d, ParityShards: p},
    }, func(tr Transition) {
        if sink != nil {
            *sink = append(*sink, tr)
        }
    })
    require.NoError(t, err)
    return m
}

func TestManager_ScenarioEliminateOneAtATime(t *testing.T) {
    // d=6, p=3: Active → Degraded → Degraded → ReadOnly, then refusal.
    var trs []Transition
    m := newGroup(t, 6, 3, &trs)
    now := time.Unix(2000, 0)

    require.Equal(t, StateActive, m.State())

    want := []State{StateDegraded, StateDegraded, StateReadOnly}
    for i, exp := range want {
        id := fmt.Sprintf("disk-%d", i)
        require.NoError(t, m.CheckEliminate(id))
        m.MarkFailed(id, now.Add(time.Duration(i)*time.Second), "eliminated")
        assert.Equal(t, exp, m.State(), "after elimination %d", i+1)
    }

    // a fourth elimination must be refused, not silently accepted
    err := m.CheckEliminate("disk-3")
    require.Error(t, err)
    assert.True(t, errors.Is(err, ErrDataLossRisk))
}

func TestManager_CountMappingInvariant(t *testing.T) {
    m := newGroup(t, 6, 3, nil)
    now := time.Unix(2000, 0)
    for i := 0; i < 5; i++ {
        m.MarkFailed(fmt.Sprintf("disk-%d", i), now, "lost")
        u := m.Unavailable()
        st := m.State()
        if u > 3 {
            require.Equal(t, StateCritical, st, "unavailable=%d", u)
        } else {
            require.NotEqual(t, StateCritical, st, "unavailable=%d", u)
        }
    }
    require.Equal(t, 5, m.Unavailable())
    require.Equal(t, StateCritical, m.State())
}

func TestManager_WriteReadAdmission(t *testing.T) {
    m := newGroup(t, 4, 2, nil)
    now := time.Unix(2000, 0)

    assert.True(t, m.CanWrite())
    assert.Equal(t, ReadCapability{Allowed: true}, m.CanRead())

    m.MarkFailed("d1", now, "lost")
    assert.True(t, m.CanWrite(), "degraded still accepts writes")
    assert.True(t, m.CanRead().ReconstructionRequired)

    m.MarkFailed("d2", now, "lost")
    assert.Equal(t, StateReadOnly, m.State())
    assert.False(t, m.CanWrite())
    err := m.CheckWrite()
    require.Error(t, err)
    assert.True(t, errors.Is(err, ErrInsufficientQuorum))

    m.MarkFailed("d3", now, "lost")
    assert.Equal(t, StateCritical, m.State())
    rc := m.CanRead()
    assert.True(t, rc.Allowed, "reads stay best-effort in critical")
    assert.True(t, rc.LossWarning)
}

func TestManager_RejoinNeedsVerification(t *testing.T) {
    var trs []Transition
    m := newGroup(t, 6, 3, &trs)
    now := time.Unix(2000, 0)

    m.MarkFailed("d1", now, "lost")
    require.Equal(t, StateDegraded, m.State())

    m.MarkRejoined("d1", now.Add(time.Second))
    // unavailable is back to 0 but the group must not self-promote
    assert.Equal(t, StateDegraded, m.State())
    assert.Equal(t, 0, m.Unavailable())

    m.MarkVerified(now.Add(2 * time.Second))
    assert.Equal(t, StateActive, m.State())

    // exactly one pair of transitions: Active→Degraded, Degraded→Active
    require.Len(t, trs, 2)
    assert.Equal(t, StateDegraded, trs[0].To)
    assert.Equal(t, StateActive, trs[1].To)

    // a second verification is a no-op, not a second transition
    m.MarkVerified(now.Add(3 * time.Second))
    assert.Len(t, trs, 2)
}

func TestManager_PartialRejoinFollowsCount(t *testing.T) {
    m := newGroup(t, 6, 3, nil)
    now := time.Unix(2000, 0)
    for i := 0; i < 4; i++ {
        m.MarkFailed(fmt.Sprintf("d%d", i), now, "lost")
    }
    require.Equal(t, StateCritical, m.State())

    m.MarkRejoined("d0", now.Add(time.Second))
    assert.Equal(t, StateReadOnly, m.State())
    m.MarkRejoined("d1", now.Add(2*time.Second))
    assert.Equal(t, StateDegraded, m.State())
}

func TestManager_DecommissionCountsUntilReplaced(t *testing.T) {
    var trs []Transition
    m := newGroup(t, 6, 3, &trs)
    now := time.Unix(2000, 0)

    m.MarkDecommissioned("d1", now, "member removed")
    assert.Equal(t, StateDegraded, m.State())
    assert.Equal(t, 1, m.Unavailable())

    // a retired slot is not a failed member: rejoin cannot resurrect it
    m.MarkRejoined("d1", now.Add(time.Second))
    assert.Equal(t, StateDegraded, m.State())
    assert.Equal(t, 1, m.Unavailable())

    // the replacement clears the slot; Active still waits for verification
    m.MarkReplaced("d1", now.Add(2*time.Second))
    assert.Equal(t, 0, m.Unavailable())
    assert.Equal(t, StateDegraded, m.State())
    m.MarkVerified(now.Add(3 * time.Second))
    assert.Equal(t, StateActive, m.State())

    require.Len(t, trs, 2)
    assert.Equal(t, StateDegraded, trs[0].To)
    assert.Equal(t, StateActive, trs[1].To)
}

func TestManager_DecommissionFailedMember(t *testing.T) {
    m := newGroup(t, 6, 3, nil)
    now := time.Unix(2000, 0)

    m.MarkFailed("d1", now, "lost")
    require.Equal(t, StateDegraded, m.State())

    // removal of the already-failed member keeps the count and closes the
    // rejoin path for good
    m.MarkDecommissioned("d1", now.Add(time.Second), "member removed")
    assert.Equal(t, 1, m.Unavailable())
    assert.False(t, m.IsFailed("d1"))
    m.MarkRejoined("d1", now.Add(2*time.Second))
    assert.Equal(t, 1, m.Unavailable())
    assert.Equal(t, []string{"d1"}, m.Decommissioned())

    m.MarkReplaced("d1", now.Add(3*time.Second))
    m.MarkVerified(now.Add(4 * time.Second))
    assert.Equal(t, StateActive, m.State())
    assert.Empty(t, m.Decommissioned())
}

func TestManager_ForceReadOnlyAndResume(t *testing.T) {
    m := newGroup(t, 6, 3, nil)
    now := time.Unix(2000, 0)

    require.NoError(t, m.ForceReadOnly(now, "maintenance"))
    assert.Equal(t, StateReadOnly, m.State())
    assert.False(t, m.CanWrite())

    // forcing again from readonly is an invalid transition
    err := m.ForceReadOnly(now, "again")
    require.Error(t, err)
    assert.True(t, errors.Is(err, ErrInvalidTransition))

    // a member failing while forced must not resume writes
    m.MarkFailed("d1", now.Add(time.Second), "lost")
    assert.Equal(t, StateReadOnly, m.State())
    m.MarkRejoined("d1", now.Add(2*time.Second))
    m.MarkVerified(now.Add(3 * time.Second))
    assert.Equal(t, StateReadOnly, m.State(), "verification must not override the operator")

    require.NoError(t, m.ResumeWrites(now.Add(4*time.Second)))
    assert.Equal(t, StateActive, m.State())
}

func TestManager_MarkFailedIdempotent(t *testing.T) {
    var trs []Transition
    m := newGroup(t, 6, 3, &trs)
    now := time.Unix(2000, 0)
    m.MarkFailed("d1", now, "lost")
    m.MarkFailed("d1", now, "lost")
    assert.Equal(t, 1, m.Unavailable())
    assert.Len(t, trs, 1)
}

func TestManager_ConcurrentReadsDuringTransitions(t *testing.T) {
    m := newGroup(t, 6, 3, nil)
    now := time.Unix(2000, 0)

    valid := map[State]bool{StateActive: true, StateDegraded: true, StateReadOnly: true, StateCritical: true}
    var wg sync.WaitGroup
    stop := make(chan struct{})
    for i := 0; i < 8; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for {
                select {
                case <-stop:
                    return
                default:
                }
                st := m.State()
                if !valid[st] {
                    t.Errorf("torn state read: %q", st)
                    return
                }
                _ = m.CanWrite()
                _ = m.CanRead()
            }
        }()
    }
    for i := 0; i < 100; i++ {
        id := fmt.Sprintf("d%d", i%5)
        m.MarkFailed(id, now, "flap")
        m.MarkRejoined(id, now)
        m.MarkVerified(now)
    }
    close(stop)
    wg.Wait()
}
