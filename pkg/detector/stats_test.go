package detector

import (
    "math"
    "testing"
    "time"
)

func TestThresholds(t *testing.T) {
    base := 100 * time.Millisecond
    sd := 10 * time.Millisecond
    if got := SuspectThreshold(base, sd); got != 130*time.Millisecond {
        t.Fatalf("suspect threshold: want 130ms, got %v", got)
    }
    if got := FailureThreshold(base, sd); got != 160*time.Millisecond {
        t.Fatalf("failure threshold: want 160ms, got %v", got)
    }
}

func TestLatencyStats_DefaultStddevWhileShortHistory(t *testing.T) {
    var s latencyStats
    for i := 0; i < minHistory-1; i++ {
        s.observe(50, 0.2)
    }
    if got := s.stddev(25, 1); got != 25 {
        t.Fatalf("want default stddev 25 with short history, got %v", got)
    }
    s.observe(50, 0.2)
    // history is long enough now; identical samples give near-zero variance,
    // floored to the minimum
    if got := s.stddev(25, 1); got != 1 {
        t.Fatalf("want floored stddev 1, got %v", got)
    }
}

func TestLatencyStats_EWMAConverges(t *testing.T) {
    var s latencyStats
    for i := 0; i < 200; i++ {
        s.observe(80, 0.2)
    }
    if math.Abs(s.mean-80) > 1e-9 {
        t.Fatalf("mean did not converge: %v", s.mean)
    }
    if sd := s.stddev(0, 0); sd > 1e-6 {
        t.Fatalf("stddev should be ~0 for constant input, got %v", sd)
    }
}

func TestLatencyStats_VarianceTracksJitter(t *testing.T) {
    var s latencyStats
    for i := 0; i < 500; i++ {
        v := 40.0
        if i%2 == 0 {
            v = 60.0
        }
        s.observe(v, 0.2)
    }
    sd := s.stddev(0, 0)
    if sd < 5 || sd > 15 {
        t.Fatalf("stddev out of expected band for ±10 jitter: %v", sd)
    }
}
