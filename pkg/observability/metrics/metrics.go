package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    MembersTracked = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "rustfs",
        Name:      "members_tracked",
        Help:      "Current number of tracked members by kind",
    }, []string{"kind"})

    HeartbeatsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "rustfs",
        Name:      "heartbeats_total",
        Help:      "Total heartbeat results ingested",
    }, []string{"result"})

    SamplesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "rustfs",
        Name:      "health_samples_total",
        Help:      "Total health samples ingested by metric kind",
    }, []string{"kind"})

    LivenessTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "rustfs",
        Name:      "liveness_transitions_total",
        Help:      "Total liveness verdict transitions",
    }, []string{"from", "to"})

    PartitionSignalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "rustfs",
        Name:      "partition_signals_total",
        Help:      "Total possible-partition signals raised by the failure detector",
    })

    QuorumState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "rustfs",
        Subsystem: "quorum",
        Name:      "state",
        Help:      "Quorum state per redundancy group (0=active 1=degraded 2=readonly 3=critical)",
    }, []string{"group"})

    UnavailableMembers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "rustfs",
        Subsystem: "quorum",
        Name:      "unavailable_members",
        Help:      "Unavailable member count per redundancy group",
    }, []string{"group"})

    QuorumTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "rustfs",
        Subsystem: "quorum",
        Name:      "transitions_total",
        Help:      "Total quorum state transitions per group",
    }, []string{"group", "from", "to"})

    EliminationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "rustfs",
        Name:      "eliminations_total",
        Help:      "Total disk elimination decisions by outcome",
    }, []string{"outcome"})

    RecoveryTasksRunning = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "rustfs",
        Subsystem: "recovery",
        Name:      "tasks_running",
        Help:      "Recovery tasks currently occupying a slot",
    })

    RecoveryTasksQueued = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "rustfs",
        Subsystem: "recovery",
        Name:      "tasks_queued",
        Help:      "Recovery tasks waiting for a free slot",
    })

    RecoveryPhasesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "rustfs",
        Subsystem: "recovery",
        Name:      "phases_total",
        Help:      "Total recovery phase entries",
    }, []string{"phase"})

    EscalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "rustfs",
        Subsystem: "recovery",
        Name:      "escalations_total",
        Help:      "Total recovery escalations (timeouts and rebalance failures)",
    })

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "rustfs",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "rustfs",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "rustfs",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "rustfs",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// StateValue maps a quorum state name to its gauge encoding.
func StateValue(state string) float64 {
    switch state {
    case "active":
        return 0
    case "degraded":
        return 1
    case "readonly":
        return 2
    case "critical":
        return 3
    default:
        return -1
    }
}

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(MembersTracked)
        prometheus.MustRegister(HeartbeatsTotal)
        prometheus.MustRegister(SamplesTotal)
        prometheus.MustRegister(LivenessTransitionsTotal)
        prometheus.MustRegister(PartitionSignalsTotal)
        prometheus.MustRegister(QuorumState)
        prometheus.MustRegister(UnavailableMembers)
        prometheus.MustRegister(QuorumTransitionsTotal)
        prometheus.MustRegister(EliminationsTotal)
        prometheus.MustRegister(RecoveryTasksRunning)
        prometheus.MustRegister(RecoveryTasksQueued)
        prometheus.MustRegister(RecoveryPhasesTotal)
        prometheus.MustRegister(EscalationsTotal)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}
