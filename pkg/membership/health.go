package membership

// HealthReporter is an optional interface that a Membership implementation
// may provide to report a local health score. Higher scores indicate
// degraded local gossip health (missed probes, saturated links); the score
// describes this node's own connectivity, not any peer's liveness.
//
// Implementations that do not support health reporting can ignore this.
type HealthReporter interface {
    // HealthScore returns an integer health score. 0 is healthy; higher is
    // worse. A return value of -1 indicates the implementation is not
    // started or unavailable.
    HealthScore() int
}
