package sim

import (
	"slices"
	"time"
)

const (
	windowBuckets  = 10
	windowBucketMs = 100
	windowMs       = windowBuckets * windowBucketMs
)

// rollingSum sums values over the last second of simulation time in 100ms
// buckets. It is keyed by sim time only, so it is deterministic.
type rollingSum struct {
	buckets [windowBuckets]float64
	last    int64
	primed  bool
}

func (w *rollingSum) advance(now int64) {
	idx := now / windowBucketMs
	if !w.primed {
		w.last = idx
		w.primed = true
		return
	}
	if idx <= w.last {
		return
	}
	gap := idx - w.last
	if gap >= windowBuckets {
		w.buckets = [windowBuckets]float64{}
	} else {
		for i := w.last + 1; i <= idx; i++ {
			w.buckets[i%windowBuckets] = 0
		}
	}
	w.last = idx
}

func (w *rollingSum) add(now int64, v float64) {
	w.advance(now)
	w.buckets[(now/windowBucketMs)%windowBuckets] += v
}

func (w *rollingSum) sum(now int64) float64 {
	w.advance(now)
	var total float64
	for _, b := range w.buckets {
		total += b
	}
	return total
}

func (w *rollingSum) reset() {
	*w = rollingSum{}
}

const perfSamples = 256

// PerfStats summarises recent wall-clock step durations.
type PerfStats struct {
	Samples int
	P50     time.Duration
	P95     time.Duration
	Max     time.Duration
}

// perfWindow keeps the most recent step durations for percentile reporting.
type perfWindow struct {
	ring    [perfSamples]time.Duration
	next    int
	size    int
	scratch []time.Duration
}

func (p *perfWindow) observe(d time.Duration) {
	p.ring[p.next] = d
	p.next = (p.next + 1) % perfSamples
	if p.size < perfSamples {
		p.size++
	}
}

func (p *perfWindow) stats() PerfStats {
	if p.size == 0 {
		return PerfStats{}
	}
	p.scratch = append(p.scratch[:0], p.ring[:p.size]...)
	slices.Sort(p.scratch)
	return PerfStats{
		Samples: p.size,
		P50:     p.scratch[percentileIndex(p.size, 50)],
		P95:     p.scratch[percentileIndex(p.size, 95)],
		Max:     p.scratch[p.size-1],
	}
}

// percentileIndex is the nearest-rank index for pct of n sorted samples.
func percentileIndex(n, pct int) int {
	rank := (pct*n + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return rank - 1
}
