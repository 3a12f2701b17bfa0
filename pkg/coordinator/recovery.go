package coordinator

import (
    "time"

    "github.com/google/uuid"

    "github.com/housemecn/rustfs/pkg/rebalance"
)

// Phase is a recovery task's position in the workflow. Phases advance
// strictly in order; Complete and Aborted are terminal.
type Phase string

const (
    PhaseDetected           Phase = "detected"
    PhaseNotified           Phase = "notified"
    PhaseFailoverRequested  Phase = "failover_requested"
    PhaseRebalanceRequested Phase = "rebalance_requested"
    PhaseVerifying          Phase = "verifying"
    PhaseComplete           Phase = "complete"
    PhaseAborted            Phase = "aborted"
)

// next maps each non-terminal phase to its successor.
var nextPhase = map[Phase]Phase{
    PhaseDetected:           PhaseNotified,
    PhaseNotified:           PhaseFailoverRequested,
    PhaseFailoverRequested:  PhaseRebalanceRequested,
    PhaseRebalanceRequested: PhaseVerifying,
    PhaseVerifying:          PhaseComplete,
}

func (p Phase) terminal() bool { return p == PhaseComplete || p == PhaseAborted }

// Task is one bounded recovery workflow for a failed member.
type Task struct {
    ID       string                `json:"id"`
    MemberID string                `json:"memberId"`
    GroupID  string                `json:"groupId"`
    Phase    Phase                 `json:"phase"`
    Deadline time.Time             `json:"deadline"`
    Handle   rebalance.TaskHandle  `json:"handle,omitempty"`
    Started  time.Time             `json:"started"`
}

func newTask(memberID, groupID string, now time.Time) *Task {
    return &Task{ID: uuid.NewString(), MemberID: memberID, GroupID: groupID, Started: now}
}

// EventKind classifies coordinator audit events.
type EventKind string

const (
    EventRecoveryPhase      EventKind = "recovery_phase"
    EventEscalation         EventKind = "escalation"
    EventEliminated         EventKind = "eliminated"
    EventEliminationRefused EventKind = "elimination_refused"
)

// Event is one immutable coordinator decision or phase change.
type Event struct {
    Kind     EventKind `json:"kind"`
    MemberID string    `json:"memberId"`
    GroupID  string    `json:"groupId"`
    TaskID   string    `json:"taskId,omitempty"`
    OldPhase Phase     `json:"oldPhase,omitempty"`
    NewPhase Phase     `json:"newPhase,omitempty"`
    At       time.Time `json:"at"`
    Reason   string    `json:"reason"`
}
