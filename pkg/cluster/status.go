package cluster

import (
    "github.com/housemecn/rustfs/pkg/detector"
    "github.com/housemecn/rustfs/pkg/health"
    "github.com/housemecn/rustfs/pkg/quorum"
)

// GroupStatus is a JSON-serializable snapshot of one redundancy group.
type GroupStatus struct {
    ID           string       `json:"id"`
    State        quorum.State `json:"state"`
    Unavailable  int          `json:"unavailable"`
    DataShards   int          `json:"dataShards"`
    ParityShards int          `json:"parityShards"`
    WritesOK     bool         `json:"writesOk"`
}

// MemberStatus is a JSON-serializable snapshot of one tracked member.
type MemberStatus struct {
    ID       string         `json:"id"`
    Kind     detector.Kind  `json:"kind"`
    Group    string         `json:"group,omitempty"`
    Liveness detector.State `json:"liveness"`
}

// ClusterStatus is a high-level, JSON-serializable snapshot of the
// reliability core, suitable for external status endpoints and tooling.
type ClusterStatus struct {
    // Healthy indicates every group is at full redundancy.
    Healthy  bool           `json:"healthy"`
    Groups   []GroupStatus  `json:"groups"`
    Members  []MemberStatus `json:"members"`
    // RecoveriesRunning and RecoveriesQueued expose coordinator load.
    RecoveriesRunning int `json:"recoveriesRunning"`
    RecoveriesQueued  int `json:"recoveriesQueued"`
    // Warnings contains non-fatal observations (degraded groups, suspects).
    Warnings []string `json:"warnings,omitempty"`
}

// MemberHealth pairs a member's liveness verdict with its windowed health
// aggregates and the adaptive thresholds currently applied to it.
type MemberHealth struct {
    ID               string             `json:"id"`
    Kind             detector.Kind      `json:"kind"`
    Liveness         detector.State     `json:"liveness"`
    Window           health.WindowStats `json:"window"`
    SuspectAfterMS   float64            `json:"suspectAfterMs"`
    FailAfterMS      float64            `json:"failAfterMs"`
    DroppedSamples   uint64             `json:"droppedSamples"`
}

// HealthReport aggregates per-member health for operators.
type HealthReport struct {
    Members  []MemberHealth `json:"members"`
    Warnings []string       `json:"warnings,omitempty"`
}
