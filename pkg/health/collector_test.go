package health

import (
    "errors"
    "testing"
    "time"
)

func TestCollector_RecordAndRecent(t *testing.T) {
    c := NewCollector(time.Minute)
    c.Track("d1")

    base := time.Now()
    for i := 0; i < 5; i++ {
        if err := c.Record("d1", MetricLatency, float64(10+i), base.Add(time.Duration(i)*time.Second)); err != nil {
            t.Fatalf("record: %v", err)
        }
    }
    got, err := c.Recent("d1", time.Minute)
    if err != nil {
        t.Fatalf("recent: %v", err)
    }
    if len(got) != 5 {
        t.Fatalf("want 5 samples, got %d", len(got))
    }
    for i := 1; i < len(got); i++ {
        if got[i].At.Before(got[i-1].At) {
            t.Fatalf("samples out of order at %d", i)
        }
    }
}

func TestCollector_RetentionEvictsOldest(t *testing.T) {
    c := NewCollector(10 * time.Second)
    c.Track("d1")

    base := time.Now()
    _ = c.Record("d1", MetricSuccess, 1, base)
    _ = c.Record("d1", MetricSuccess, 1, base.Add(5*time.Second))
    // 30s later than the first sample: the first must be evicted on insert
    _ = c.Record("d1", MetricSuccess, 1, base.Add(30*time.Second))

    got, err := c.Recent("d1", 0)
    if err != nil {
        t.Fatalf("recent: %v", err)
    }
    if len(got) != 1 {
        t.Fatalf("want 1 retained sample, got %d", len(got))
    }
    if !got[0].At.Equal(base.Add(30 * time.Second)) {
        t.Fatalf("wrong sample retained: %v", got[0].At)
    }
    if c.Dropped("d1") != 2 {
        t.Fatalf("want 2 dropped, got %d", c.Dropped("d1"))
    }
}

func TestCollector_UnknownMember(t *testing.T) {
    c := NewCollector(time.Minute)
    if err := c.Record("ghost", MetricLatency, 1, time.Now()); !errors.Is(err, ErrUnknownMember) {
        t.Fatalf("want ErrUnknownMember, got %v", err)
    }
    if _, err := c.Recent("ghost", 0); !errors.Is(err, ErrUnknownMember) {
        t.Fatalf("want ErrUnknownMember, got %v", err)
    }
}

func TestCollector_RejectsMalformed(t *testing.T) {
    c := NewCollector(time.Minute)
    c.Track("d1")
    if err := c.Record("d1", MetricLatency, -5, time.Now()); !errors.Is(err, ErrBadSample) {
        t.Fatalf("want ErrBadSample for negative value, got %v", err)
    }
    if err := c.Record("d1", MetricLatency, 5, time.Time{}); !errors.Is(err, ErrBadSample) {
        t.Fatalf("want ErrBadSample for zero timestamp, got %v", err)
    }
}

func TestCollector_Stats(t *testing.T) {
    c := NewCollector(time.Minute)
    c.Track("d1")

    base := time.Now()
    for i := 0; i < 8; i++ {
        _ = c.Record("d1", MetricSuccess, 1, base.Add(time.Duration(i)*time.Second))
    }
    for i := 8; i < 10; i++ {
        _ = c.Record("d1", MetricError, 1, base.Add(time.Duration(i)*time.Second))
    }
    _ = c.Record("d1", MetricLatency, 40, base.Add(10*time.Second))
    _ = c.Record("d1", MetricLatency, 60, base.Add(11*time.Second))

    st, err := c.Stats("d1", 0)
    if err != nil {
        t.Fatalf("stats: %v", err)
    }
    if st.Errors != 2 || st.Successes != 8 {
        t.Fatalf("wrong counts: %+v", st)
    }
    if st.ErrorRate != 0.2 {
        t.Fatalf("want error rate 0.2, got %v", st.ErrorRate)
    }
    if st.SuccessRate != 0.8 {
        t.Fatalf("want success rate 0.8, got %v", st.SuccessRate)
    }
    if st.AvgLatency != 50 {
        t.Fatalf("want avg latency 50, got %v", st.AvgLatency)
    }
}

func TestCollector_WindowCapBoundsMemory(t *testing.T) {
    c := NewCollector(time.Hour)
    c.Track("d1")
    base := time.Now()
    for i := 0; i < maxWindowSamples+100; i++ {
        _ = c.Record("d1", MetricSuccess, 1, base.Add(time.Duration(i)*time.Millisecond))
    }
    got, _ := c.Recent("d1", 0)
    if len(got) > maxWindowSamples {
        t.Fatalf("window exceeded cap: %d", len(got))
    }
}
