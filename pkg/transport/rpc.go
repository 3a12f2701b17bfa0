package transport

import "context"

// StatusFunc returns a JSON-encoded status payload for management /status.
// Using []byte avoids import cycles on cluster types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// ReportFunc returns a JSON-encoded payload for read-only management
// endpoints (health report, elimination history).
type ReportFunc func(ctx context.Context) ([]byte, error)

// AddMemberRequest registers a node or disk for monitoring.
type AddMemberRequest struct {
    ID    string `json:"id"`
    Kind  string `json:"kind"`
    Group string `json:"group,omitempty"`
}

type AddMemberResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

// RemoveMemberRequest asks to stop monitoring a member. Force overrides the
// quorum safety refusal.
type RemoveMemberRequest struct {
    ID    string `json:"id"`
    Force bool   `json:"force,omitempty"`
}

type RemoveMemberResponse struct {
    Accepted bool `json:"accepted"`
    // RequiresForce is set when the removal was refused because it would
    // push the member's group past parity tolerance.
    RequiresForce bool   `json:"requiresForce,omitempty"`
    Error         string `json:"error,omitempty"`
}

// RejoinRequest re-admits a previously failed member after repair.
type RejoinRequest struct {
    ID string `json:"id"`
}

type RejoinResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

// HeartbeatRequest carries one heartbeat probe outcome for a member.
type HeartbeatRequest struct {
    ID        string  `json:"id"`
    Success   bool    `json:"success"`
    LatencyMS float64 `json:"latencyMs,omitempty"`
}

type HeartbeatResponse struct {
    Error string `json:"error,omitempty"`
}

// MetricRequest carries one pushed health sample for a member.
type MetricRequest struct {
    ID    string  `json:"id"`
    Kind  string  `json:"kind"`
    Value float64 `json:"value"`
}

type MetricResponse struct {
    Error string `json:"error,omitempty"`
}

// ResolvePartitionRequest closes an ambiguous partition episode.
type ResolvePartitionRequest struct {
    ConfirmFailed bool `json:"confirmFailed"`
}

type ResolvePartitionResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

type (
    AddMemberFunc        func(ctx context.Context, req AddMemberRequest) (AddMemberResponse, error)
    RemoveMemberFunc     func(ctx context.Context, req RemoveMemberRequest) (RemoveMemberResponse, error)
    RejoinFunc           func(ctx context.Context, req RejoinRequest) (RejoinResponse, error)
    HeartbeatFunc        func(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error)
    MetricFunc           func(ctx context.Context, req MetricRequest) (MetricResponse, error)
    ResolvePartitionFunc func(ctx context.Context, req ResolvePartitionRequest) (ResolvePartitionResponse, error)
)

// Handlers bundles the management API callbacks an RPCServer dispatches to.
// Nil entries render the corresponding endpoint unimplemented.
type Handlers struct {
    Status           StatusFunc
    Health           ReportFunc
    Eliminations     ReportFunc
    AddMember        AddMemberFunc
    RemoveMember     RemoveMemberFunc
    Rejoin           RejoinFunc
    Heartbeat        HeartbeatFunc
    Metric           MetricFunc
    ResolvePartition ResolvePartitionFunc
}

// RPCServer exposes the management endpoints (status, member admin,
// heartbeat/metric ingestion, metrics/healthz) for intra-cluster calls.
type RPCServer interface {
    Start(ctx context.Context, h Handlers) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient performs management calls against other nodes using the chosen
// protocol (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    GetHealth(ctx context.Context, addr string) ([]byte, error)
    GetEliminations(ctx context.Context, addr string) ([]byte, error)
    PostAddMember(ctx context.Context, addr string, req AddMemberRequest) (AddMemberResponse, error)
    PostRemoveMember(ctx context.Context, addr string, req RemoveMemberRequest) (RemoveMemberResponse, error)
    PostRejoin(ctx context.Context, addr string, req RejoinRequest) (RejoinResponse, error)
    PostHeartbeat(ctx context.Context, addr string, req HeartbeatRequest) (HeartbeatResponse, error)
    PostMetric(ctx context.Context, addr string, req MetricRequest) (MetricResponse, error)
    PostResolvePartition(ctx context.Context, addr string, req ResolvePartitionRequest) (ResolvePartitionResponse, error)
}
