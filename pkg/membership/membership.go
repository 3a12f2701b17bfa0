package membership

import (
    "context"
    "time"
)

// MemberInfo describes a cluster node as observed by the gossip layer.
// Meta can carry auxiliary data such as the management address.
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

type EventType string

const (
    // EventJoin indicates a node joined or became visible.
    EventJoin EventType = "join"
    // EventAlive indicates a known node is still visible; consumers use it
    // as liveness evidence between join/leave edges.
    EventAlive EventType = "alive"
    // EventLeave indicates a node left the cluster gracefully.
    EventLeave EventType = "leave"
    // EventFailed indicates gossip marked the node unreachable. This is
    // evidence, not a verdict; the failure detector decides state.
    EventFailed EventType = "failed"
)

// Event is the translated membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the abstraction over the underlying gossip layer. It is
// responsible for peer discovery, join/leave and event delivery. The
// reliability core consumes its events as heartbeat evidence for node-kind
// members; it never treats gossip output as an authoritative failure
// declaration.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}
