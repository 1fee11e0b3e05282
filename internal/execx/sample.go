package execx

import (
	"os"
	"time"
)

// Sample is the measured cost of one external invocation. Measured is
// false when the measurement facility was unavailable and the metrics are
// zero-valued fallbacks.
type Sample struct {
	Label    string
	Wall     time.Duration
	CPU      time.Duration
	PeakRSS  int64
	Measured bool
}

// Totals aggregates samples for a run: wall and cpu are sums, peak RSS is
// a max. Invocations within one monitor do not overlap in time, so the
// wall sum does not double-count.
type Totals struct {
	Wall     time.Duration
	CPU      time.Duration
	PeakRSS  int64
	Commands int
}

func (t *Totals) Add(s Sample) {
	t.Wall += s.Wall
	t.CPU += s.CPU
	if s.PeakRSS > t.PeakRSS {
		t.PeakRSS = s.PeakRSS
	}
	t.Commands++
}

func takeSample(label string, wall time.Duration, st *os.ProcessState) Sample {
	s := Sample{Label: label, Wall: wall}
	if st == nil {
		// Start failure: nothing to measure beyond the elapsed time.
		return s
	}
	s.CPU = st.UserTime() + st.SystemTime()
	if rss, ok := peakRSS(st); ok {
		s.PeakRSS = rss
		s.Measured = true
	}
	return s
}
