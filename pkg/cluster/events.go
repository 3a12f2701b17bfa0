package cluster

import (
    "context"
    "sync"
    "time"
)

type EventKind string

const (
    EventMemberAdded        EventKind = "member_added"
    EventMemberRemoved      EventKind = "member_removed"
    EventLivenessChanged    EventKind = "liveness_changed"
    EventQuorumChanged      EventKind = "quorum_changed"
    EventPossiblePartition  EventKind = "possible_partition"
    EventEliminated         EventKind = "eliminated"
    EventEliminationRefused EventKind = "elimination_refused"
    EventRecoveryPhase      EventKind = "recovery_phase"
    EventEscalation         EventKind = "escalation"
)

// Event is an application-consumable audit record describing a reliability
// state change. Only the fields relevant to an event kind are populated.
// Events concerning the same member are published in causal order.
type Event struct {
    Kind     EventKind         `json:"kind"`
    At       time.Time         `json:"at"`
    MemberID string            `json:"memberId,omitempty"`
    GroupID  string            `json:"groupId,omitempty"`
    OldState string            `json:"oldState,omitempty"`
    NewState string            `json:"newState,omitempty"`
    Reason   string            `json:"reason,omitempty"`
    Details  map[string]string `json:"details,omitempty"`
}

// Subscribe returns a channel of events. The returned channel is buffered and
// closed automatically when ctx is done. Events may be dropped if the consumer
// is too slow (best-effort delivery) to avoid back-pressuring internals.
func (c *Core) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    c.eb.add(ch)
    go func() {
        <-ctx.Done()
        c.eb.remove(ch)
        close(ch)
    }()
    return ch
}

// internal event bus
type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if e.subs != nil { delete(e.subs, ch) }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
            // drop if receiver is slow
        }
    }
    e.mu.Unlock()
}
