package quorum

import "errors"

var (
    // ErrInsufficientQuorum refuses a write while the group is not writable.
    ErrInsufficientQuorum = errors.New("quorum: insufficient quorum for write")
    // ErrInvalidTransition refuses an administrative request for a state
    // unreachable from the current one.
    ErrInvalidTransition = errors.New("quorum: invalid state transition")
    // ErrDataLossRisk signals that an action would (or did) push the group
    // beyond its parity tolerance. It is a refusal, not a fault.
    ErrDataLossRisk = errors.New("quorum: data loss risk")
)
