package gc

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/pprof/profile"
)

// CycleStats records one cycle's phase timings and outcome.
type CycleStats struct {
	Started    time.Time
	SnoopDur   time.Duration
	TraceDur   time.Duration
	HarvestDur time.Duration
	MarkDur    time.Duration
	SweepDur   time.Duration
	Roots      int
	Reclaimed  int
	Retained   int
}

const statsRingSize = 32

// statsRing keeps the most recent cycles' stats.
type statsRing struct {
	mu   sync.Mutex
	buf  [statsRingSize]CycleStats
	n    int
	next int
}

func (r *statsRing) record(s CycleStats) {
	r.mu.Lock()
	r.buf[r.next] = s
	r.next = (r.next + 1) % statsRingSize
	if r.n < statsRingSize {
		r.n++
	}
	r.mu.Unlock()
}

func (r *statsRing) snapshot() []CycleStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CycleStats, 0, r.n)
	start := (r.next - r.n + statsRingSize) % statsRingSize
	for i := 0; i < r.n; i++ {
		out = append(out, r.buf[(start+i)%statsRingSize])
	}
	return out
}

// Stats returns the most recent cycles' stats, oldest first.
func (g *GC) Stats() []CycleStats { return g.stats.snapshot() }

// profilePath caches the PENTAGON_GCPROF destination; empty disables
// profile emission.
var profilePath = os.Getenv("PENTAGON_GCPROF")

// maybeWriteProfile rewrites the cycle-phase profile after each cycle when
// PENTAGON_GCPROF names a destination file. The output is an ordinary
// pprof profile: one sample per phase, valued in nanoseconds summed across
// the recorded cycles, so hot phases dominate the flame graph the same way
// hot functions would in a CPU profile.
func (g *GC) maybeWriteProfile() {
	if profilePath == "" {
		return
	}
	f, err := os.Create(profilePath)
	if err != nil {
		return
	}
	defer f.Close()
	_ = g.WriteProfile(f)
}

// WriteProfile writes the cycle-phase pprof profile to w.
func (g *GC) WriteProfile(w io.Writer) error {
	cycles := g.stats.snapshot()
	phases := []struct {
		name string
		get  func(*CycleStats) time.Duration
	}{
		{"gc/snoop", func(s *CycleStats) time.Duration { return s.SnoopDur }},
		{"gc/trace", func(s *CycleStats) time.Duration { return s.TraceDur }},
		{"gc/harvest", func(s *CycleStats) time.Duration { return s.HarvestDur }},
		{"gc/mark", func(s *CycleStats) time.Duration { return s.MarkDur }},
		{"gc/sweep", func(s *CycleStats) time.Duration { return s.SweepDur }},
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "time", Unit: "nanoseconds"}},
	}
	if len(cycles) > 0 {
		p.TimeNanos = cycles[0].Started.UnixNano()
	}
	for i, ph := range phases {
		fn := &profile.Function{
			ID:         uint64(i + 1),
			Name:       ph.name,
			SystemName: ph.name,
		}
		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: fn}},
		}
		var total int64
		for j := range cycles {
			total += ph.get(&cycles[j]).Nanoseconds()
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{total},
		})
	}
	return p.Write(w)
}
