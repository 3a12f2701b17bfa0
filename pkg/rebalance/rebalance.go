// Package rebalance defines the interface to the external data-movement
// subsystem. The reliability core decides that and what to rebalance; the
// collaborator behind this interface moves the bytes and reports back.
package rebalance

import (
    "context"
    "sync"

    "github.com/google/uuid"
)

// Priority orders rebalance requests at the collaborator.
type Priority string

const (
    PriorityLow    Priority = "low"
    PriorityNormal Priority = "normal"
    PriorityHigh   Priority = "high"
)

// TaskHandle identifies an accepted rebalance request; completion and
// failure callbacks reference it.
type TaskHandle string

// NewTaskHandle returns a unique handle.
func NewTaskHandle() TaskHandle { return TaskHandle(uuid.NewString()) }

// Request asks the data-movement subsystem to rebuild the data held by the
// excluded members onto the remaining members of the group.
type Request struct {
    GroupID  string   `json:"groupId"`
    Excluded []string `json:"excluded"`
    Priority Priority `json:"priority"`
}

// Rebalancer accepts rebalance requests. Implementations respond
// asynchronously through the callbacks registered by the caller.
type Rebalancer interface {
    RequestRebalance(ctx context.Context, req Request) (TaskHandle, error)
}

// Recorder is a Rebalancer for tests and demos: it records requests and
// lets the owner fire the completion callbacks explicitly.
type Recorder struct {
    mu       sync.Mutex
    requests []Request
    handles  []TaskHandle
}

func (r *Recorder) RequestRebalance(_ context.Context, req Request) (TaskHandle, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    h := NewTaskHandle()
    r.requests = append(r.requests, req)
    r.handles = append(r.handles, h)
    return h, nil
}

// Requests returns a copy of the recorded requests.
func (r *Recorder) Requests() []Request {
    r.mu.Lock()
    defer r.mu.Unlock()
    return append([]Request(nil), r.requests...)
}

// Handles returns a copy of the issued task handles, in request order.
func (r *Recorder) Handles() []TaskHandle {
    r.mu.Lock()
    defer r.mu.Unlock()
    return append([]TaskHandle(nil), r.handles...)
}
