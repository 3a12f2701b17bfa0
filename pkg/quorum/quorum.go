// Package quorum owns the redundancy bookkeeping for one erasure-coded
// group: which members are unavailable, what that means for the group's
// state, and whether reads and writes may currently be admitted.
package quorum

import (
    "fmt"
    "sort"
    "sync"
    "time"
)

// State is the group-wide availability classification.
type State string

const (
    // StateActive: no unavailable members, full redundancy.
    StateActive State = "active"
    // StateDegraded: some members lost, still within parity tolerance;
    // writes permitted, reads may require reconstruction.
    StateDegraded State = "degraded"
    // StateReadOnly: at the edge of tolerance; writes refused.
    StateReadOnly State = "readonly"
    // StateCritical: losses exceed parity; durability is already
    // compromised for at least one object.
    StateCritical State = "critical"
)

// ErasureCodeConfig fixes the data/parity split for the object set the
// group governs. Immutable after cluster formation.
type ErasureCodeConfig struct {
    DataShards   int `json:"dataShards"`
    ParityShards int `json:"parityShards"`
}

// Config assembles one redundancy group.
type Config struct {
    GroupID string
    Erasure ErasureCodeConfig
    // ReadOnlyAt is the unavailable count at which writes stop. Zero means
    // the default policy: refuse writes when unavailable == ParityShards.
    ReadOnlyAt int
}

// Transition is one immutable quorum state change.
type Transition struct {
    GroupID     string    `json:"groupId"`
    From        State     `json:"from"`
    To          State     `json:"to"`
    Unavailable int       `json:"unavailable"`
    At          time.Time `json:"at"`
    Reason      string    `json:"reason"`
}

// ReadCapability answers a read-admission query.
type ReadCapability struct {
    Allowed                bool `json:"allowed"`
    ReconstructionRequired bool `json:"reconstructionRequired"`
    // LossWarning marks best-effort reads in Critical state: some objects
    // may be unrecoverable.
    LossWarning bool `json:"lossWarning"`
}

// Manager is the quorum state machine for one redundancy group. The current
// state is the single coordination point between many concurrent admission
// checks and rare transitions, so it sits behind a RWMutex: reads are O(1)
// against the last committed state, transitions are serialized and
// published atomically.
//
// Lock order: the Manager is a leaf. Detector transition callbacks and
// coordinator safety checks call in here with their own locks held
// (detector per-member lock outermost), and the Manager's transition
// callback, which runs under m.mu, must not call back into either of them.
type Manager struct {
    mu            sync.RWMutex
    cfg           Config
    state         State
    failed        map[string]struct{}
    decom         map[string]struct{} // retired slots awaiting replacement
    verifyPending bool
    forced        bool // operator-forced readonly, clamps recomputed states
    onTransition  func(Transition)
}

// NewManager builds a group in Active state. onTransition receives every
// committed state change.
func NewManager(cfg Config, onTransition func(Transition)) (*Manager, error) {
    if cfg.GroupID == "" {
        return nil, fmt.Errorf("quorum: empty group id")
    }
    if cfg.Erasure.DataShards <= 0 || cfg.Erasure.ParityShards <= 0 {
        return nil, fmt.Errorf("quorum: invalid erasure config d=%d p=%d",
            cfg.Erasure.DataShards, cfg.Erasure.ParityShards)
    }
    if cfg.ReadOnlyAt <= 0 || cfg.ReadOnlyAt > cfg.Erasure.ParityShards {
        cfg.ReadOnlyAt = cfg.Erasure.ParityShards
    }
    return &Manager{
        cfg:          cfg,
        state:        StateActive,
        failed:       make(map[string]struct{}),
        decom:        make(map[string]struct{}),
        onTransition: onTransition,
    }, nil
}

// GroupID returns the group identifier.
func (m *Manager) GroupID() string { return m.cfg.GroupID }

// Erasure returns the immutable erasure-code configuration.
func (m *Manager) Erasure() ErasureCodeConfig { return m.cfg.Erasure }

// stateFor is the deterministic count→state mapping. The invariant
// "unavailable > p implies Critical" holds by construction. An operator
// forced-readonly clamps anything better than ReadOnly; Critical still wins.
func (m *Manager) stateFor(unavailable int) State {
    p := m.cfg.Erasure.ParityShards
    var s State
    switch {
    case unavailable == 0:
        s = StateActive
    case unavailable > p:
        s = StateCritical
    case unavailable >= m.cfg.ReadOnlyAt:
        s = StateReadOnly
    default:
        s = StateDegraded
    }
    if m.forced && (s == StateActive || s == StateDegraded) {
        s = StateReadOnly
    }
    return s
}

// unavailableLocked is the group's unavailable-member count: failed members
// plus retired slots not yet replaced. Caller holds m.mu.
func (m *Manager) unavailableLocked() int {
    return len(m.failed) + len(m.decom)
}

// MarkFailed records a member as unavailable and recomputes the group
// state. Idempotent for an already-failed member.
func (m *Manager) MarkFailed(memberID string, at time.Time, reason string) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.failed[memberID]; ok {
        return
    }
    if _, ok := m.decom[memberID]; ok {
        return // already counted as a retired slot
    }
    m.failed[memberID] = struct{}{}
    m.verifyPending = false
    m.commitLocked(m.stateFor(m.unavailableLocked()), at, reason)
}

// MarkRejoined removes a member from the unavailable set after an explicit
// rejoin. Intermediate improvements (Critical→Degraded, ...) follow the
// count mapping, but the final step back to Active is withheld until
// MarkVerified confirms a data-consistency check: a rejoined member is not
// assumed trustworthy.
func (m *Manager) MarkRejoined(memberID string, at time.Time) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.failed[memberID]; !ok {
        return
    }
    delete(m.failed, memberID)
    u := m.unavailableLocked()
    if u == 0 {
        m.verifyPending = true
        return
    }
    m.commitLocked(m.stateFor(u), at, fmt.Sprintf("member %s rejoined", memberID))
}

// MarkDecommissioned retires a member from the group after an operator
// removal. The slot keeps counting as unavailable until MarkReplaced admits
// a successor: taking a disk away does not restore redundancy. A member that
// was already failed moves from the failed set to the retired set, so a
// removal can never be undone by Rejoin.
func (m *Manager) MarkDecommissioned(memberID string, at time.Time, reason string) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.decom[memberID]; ok {
        return
    }
    delete(m.failed, memberID)
    m.decom[memberID] = struct{}{}
    m.verifyPending = false
    m.commitLocked(m.stateFor(m.unavailableLocked()), at, reason)
}

// MarkReplaced fills one retired slot with a newly admitted member. Like a
// rejoin, the final step back to Active is withheld until MarkVerified
// confirms the rebuilt data: a fresh disk holds nothing until the rebalance
// completes.
func (m *Manager) MarkReplaced(oldID string, at time.Time) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.decom[oldID]; !ok {
        return
    }
    delete(m.decom, oldID)
    u := m.unavailableLocked()
    if u == 0 {
        m.verifyPending = true
        return
    }
    m.commitLocked(m.stateFor(u), at, fmt.Sprintf("member %s replaced", oldID))
}

// Decommissioned lists retired slots awaiting replacement, sorted.
func (m *Manager) Decommissioned() []string {
    m.mu.RLock()
    defer m.mu.RUnlock()
    out := make([]string, 0, len(m.decom))
    for id := range m.decom {
        out = append(out, id)
    }
    sort.Strings(out)
    return out
}

// MarkVerified commits the return to Active once a rejoin brought the
// unavailable count back to zero and the consistency check passed.
func (m *Manager) MarkVerified(at time.Time) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if !m.verifyPending || m.unavailableLocked() != 0 {
        return
    }
    m.verifyPending = false
    m.commitLocked(m.stateFor(0), at, "recovery verified")
}

// commitLocked publishes a state change. Caller holds m.mu.
func (m *Manager) commitLocked(to State, at time.Time, reason string) {
    from := m.state
    if from == to {
        return
    }
    m.state = to
    if m.onTransition != nil {
        m.onTransition(Transition{GroupID: m.cfg.GroupID, From: from, To: to, Unavailable: m.unavailableLocked(), At: at, Reason: reason})
    }
}

// State returns the last committed group state.
func (m *Manager) State() State {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return m.state
}

// Unavailable returns the current unavailable-member count.
func (m *Manager) Unavailable() int {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return m.unavailableLocked()
}

// CanWrite reports write admission: true only in Active or Degraded.
func (m *Manager) CanWrite() bool {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return m.state == StateActive || m.state == StateDegraded
}

// CheckWrite returns ErrInsufficientQuorum when writes are not admitted.
func (m *Manager) CheckWrite() error {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.state == StateActive || m.state == StateDegraded {
        return nil
    }
    return fmt.Errorf("%w: group %s is %s", ErrInsufficientQuorum, m.cfg.GroupID, m.state)
}

// CanRead reports read admission against the last committed state.
func (m *Manager) CanRead() ReadCapability {
    m.mu.RLock()
    defer m.mu.RUnlock()
    switch m.state {
    case StateActive:
        return ReadCapability{Allowed: true}
    case StateDegraded, StateReadOnly:
        return ReadCapability{Allowed: true, ReconstructionRequired: true}
    default:
        return ReadCapability{Allowed: true, ReconstructionRequired: true, LossWarning: true}
    }
}

// WouldExceedTolerance reports whether losing extra more members would push
// the group past its parity tolerance into Critical.
func (m *Manager) WouldExceedTolerance(extra int) bool {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return m.unavailableLocked()+extra > m.cfg.Erasure.ParityShards
}

// CheckEliminate is the safety gate for planned eliminations: the result
// must stay within parity tolerance, never self-inflicted Critical.
func (m *Manager) CheckEliminate(memberID string) error {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if _, ok := m.failed[memberID]; ok {
        return nil // already counted
    }
    if u := m.unavailableLocked() + 1; u > m.cfg.Erasure.ParityShards {
        return fmt.Errorf("%w: eliminating %s would leave %d unavailable with parity %d",
            ErrDataLossRisk, memberID, u, m.cfg.Erasure.ParityShards)
    }
    return nil
}

// ForceReadOnly is the one administrative transition: operators may stop
// writes ahead of planned maintenance. Only reachable from Active or
// Degraded; anything else is refused with ErrInvalidTransition.
func (m *Manager) ForceReadOnly(at time.Time, reason string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.state != StateActive && m.state != StateDegraded {
        return fmt.Errorf("%w: cannot force readonly from %s", ErrInvalidTransition, m.state)
    }
    m.forced = true
    m.commitLocked(StateReadOnly, at, reason)
    return nil
}

// ResumeWrites lifts a forced readonly and recommits the count-derived
// state. Refused while the group is Critical.
func (m *Manager) ResumeWrites(at time.Time) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if !m.forced {
        return fmt.Errorf("%w: group %s is not forced readonly", ErrInvalidTransition, m.cfg.GroupID)
    }
    if m.state == StateCritical {
        return fmt.Errorf("%w: group %s is critical", ErrInvalidTransition, m.cfg.GroupID)
    }
    m.forced = false
    if m.unavailableLocked() == 0 {
        // went readonly with no losses: nothing to verify, back to Active
        m.verifyPending = false
        m.commitLocked(StateActive, at, "writes resumed")
        return nil
    }
    m.commitLocked(m.stateFor(m.unavailableLocked()), at, "writes resumed")
    return nil
}

// IsFailed reports whether a member is currently counted unavailable.
func (m *Manager) IsFailed(memberID string) bool {
    m.mu.RLock()
    defer m.mu.RUnlock()
    _, ok := m.failed[memberID]
    return ok
}
