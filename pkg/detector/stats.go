package detector

import (
    "math"
    "time"
)

// latencyStats tracks an exponentially weighted mean and variance of
// heartbeat latency for one member. All values are in milliseconds.
// The math is kept free of clocks and I/O so thresholds are unit-testable.
type latencyStats struct {
    mean     float64
    variance float64
    count    int
}

// observe folds one latency observation into the running statistics using
// the standard EWMA recurrences.
func (s *latencyStats) observe(latencyMS, alpha float64) {
    if s.count == 0 {
        s.mean = latencyMS
        s.variance = 0
        s.count = 1
        return
    }
    diff := latencyMS - s.mean
    s.mean += alpha * diff
    s.variance = (1 - alpha) * (s.variance + alpha*diff*diff)
    s.count++
}

// stddev returns the observed standard deviation, floored to defaultStddev
// while history is short (fewer than minHistory samples) and to minStddev
// always, so threshold windows never collapse to zero width.
func (s *latencyStats) stddev(defaultStddev, minStddev float64) float64 {
    if s.count < minHistory {
        return math.Max(defaultStddev, minStddev)
    }
    sd := math.Sqrt(s.variance)
    if sd < minStddev {
        return minStddev
    }
    return sd
}

// minHistory is the sample count below which the configured default stddev
// is used instead of the observed one.
const minHistory = 5

// SuspectThreshold is the silence span after which a member becomes
// Suspected: base_timeout + 3×stddev.
func SuspectThreshold(base time.Duration, stddev time.Duration) time.Duration {
    return base + 3*stddev
}

// FailureThreshold is the silence span after which a Suspected member
// becomes Failed: base_timeout + 6×stddev.
func FailureThreshold(base time.Duration, stddev time.Duration) time.Duration {
    return base + 6*stddev
}

func durationMS(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func msDuration(ms float64) time.Duration { return time.Duration(ms * float64(time.Millisecond)) }
