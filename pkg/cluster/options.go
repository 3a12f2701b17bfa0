package cluster

import (
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/housemecn/rustfs/pkg/coordinator"
    "github.com/housemecn/rustfs/pkg/detector"
    "github.com/housemecn/rustfs/pkg/discovery"
    "github.com/housemecn/rustfs/pkg/health"
    "github.com/housemecn/rustfs/pkg/membership"
    "github.com/housemecn/rustfs/pkg/quorum"
    "github.com/housemecn/rustfs/pkg/rebalance"
    "github.com/housemecn/rustfs/pkg/transport"
)

type NodeID string

// Options carries dependency-injected components and runtime configuration
// used to assemble the reliability core. Instances are typically produced
// from bootstrap.Config.
type Options struct {
    // NodeID identifies this monitoring node in logs and status output.
    NodeID NodeID
    // Groups declares the redundancy groups to govern. At least one.
    Groups []quorum.Config
    // Detector tunes adaptive heartbeat timeouts; zero fields use defaults.
    Detector detector.Config
    // Coordinator tunes elimination policy and recovery workflows.
    Coordinator coordinator.Config
    // Retention bounds the health sample window. Zero means
    // health.DefaultRetention.
    Retention time.Duration
    // EvalInterval is the cadence of detector sweeps and coordinator ticks.
    EvalInterval time.Duration
    // Logger is used to report operational messages.
    Logger *log.Logger

    // Rebalancer executes data redistribution requests (required).
    Rebalancer rebalance.Rebalancer
    // Verifier gates a group's return to Active after rejoin. Nil means
    // every verification passes.
    Verifier coordinator.Verifier

    // Membership optionally feeds node liveness evidence from gossip.
    Membership membership.Membership
    // Discovery provides seed nodes for the membership join.
    Discovery discovery.Discovery

    // RPCServer optionally serves the management API.
    RPCServer transport.RPCServer
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
    if o.NodeID == "" {
        return errors.New("cluster: empty NodeID")
    }
    if o.Logger == nil {
        return errors.New("cluster: nil Logger")
    }
    if o.Rebalancer == nil {
        return errors.New("cluster: nil Rebalancer")
    }
    if len(o.Groups) == 0 {
        return errors.New("cluster: no redundancy groups configured")
    }
    seen := make(map[string]bool, len(o.Groups))
    for _, g := range o.Groups {
        if g.GroupID == "" {
            return errors.New("cluster: group with empty id")
        }
        if seen[g.GroupID] {
            return fmt.Errorf("cluster: duplicate group %s", g.GroupID)
        }
        seen[g.GroupID] = true
        if g.Erasure.DataShards <= 0 || g.Erasure.ParityShards <= 0 {
            return fmt.Errorf("cluster: group %s has invalid erasure config", g.GroupID)
        }
    }
    return nil
}

func (o Options) retention() time.Duration {
    if o.Retention <= 0 {
        return health.DefaultRetention
    }
    return o.Retention
}

func (o Options) evalInterval() time.Duration {
    if o.EvalInterval <= 0 {
        return time.Second
    }
    return o.EvalInterval
}
