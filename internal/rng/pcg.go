// Package rng provides the deterministic random number generators used by the
// simulation. Every stream is a PCG32 generator (64-bit state, 32-bit output)
// derived from a single master seed, so a run can be replayed bit-for-bit from
// its seed and command sequence.
package rng

const (
	pcgMultiplier uint64 = 6364136223846793005
	pcgDefaultInc uint64 = 1442695040888963407
)

// PCG32 is a permuted congruential generator using the XSH-RR output
// function. All arithmetic is on uint64 and relies on Go's defined
// wraparound semantics for the multiply-add step.
type PCG32 struct {
	state uint64
	inc   uint64
}

// NewPCG32 seeds a generator. The sequence selects one of 2^63 distinct
// streams; two generators with the same seed and different sequences produce
// unrelated output.
func NewPCG32(seed, sequence uint64) *PCG32 {
	p := &PCG32{}
	p.Seed(seed, sequence)
	return p
}

// Seed resets the generator: the increment is forced odd, the state is
// advanced once, the seed is mixed in, and the state is advanced again.
func (p *PCG32) Seed(seed, sequence uint64) {
	p.state = 0
	p.inc = sequence<<1 | 1
	p.step()
	p.state += seed
	p.step()
}

func (p *PCG32) step() {
	p.state = p.state*pcgMultiplier + p.inc
}

// NextU32 returns the next 32-bit output. The rotation amount comes from the
// top five bits of the state before the update.
func (p *PCG32) NextU32() uint32 {
	old := p.state
	p.step()
	xorshifted := uint32(((old >> 18) ^ old) >> 27)
	rot := uint32(old >> 59)
	return xorshifted>>rot | xorshifted<<((-rot)&31)
}

// NextFloat01 returns a float in [0, 1) with 32 bits of resolution.
func (p *PCG32) NextFloat01() float64 {
	return float64(p.NextU32()) / (1 << 32)
}

// NextBounded returns a uniformly distributed value in [0, bound). Values in
// the final partial bucket are rejected so the result carries no modulo bias.
// A zero bound returns zero.
func (p *PCG32) NextBounded(bound uint32) uint32 {
	if bound == 0 {
		return 0
	}
	const maxValue = uint64(1) << 32
	threshold := maxValue - maxValue%uint64(bound)
	for {
		r := uint64(p.NextU32())
		if r < threshold {
			return uint32(r % uint64(bound))
		}
	}
}

// IntRange returns an integer in the inclusive range [lo, hi]. Swapped bounds
// are tolerated.
func (p *PCG32) IntRange(lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	span := uint64(hi) - uint64(lo) + 1
	if span == 0 || span > uint64(^uint32(0)) {
		return lo + int(p.next64Bounded(span))
	}
	return lo + int(p.NextBounded(uint32(span)))
}

// next64Bounded combines two draws into a 64-bit value in [0, span). Draws
// below 2^64 mod span are rejected so the modulo carries no bias. A zero span
// means the full 64-bit range.
func (p *PCG32) next64Bounded(span uint64) uint64 {
	threshold := uint64(0)
	if span != 0 {
		threshold = -span % span
	}
	for {
		v := uint64(p.NextU32())<<32 | uint64(p.NextU32())
		if v >= threshold {
			if span == 0 {
				return v
			}
			return v % span
		}
	}
}

// FloatRange returns a float in [lo, hi).
func (p *PCG32) FloatRange(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + float64(p.NextFloat01()*(hi-lo))
}

// Chance reports true with the given probability.
func (p *PCG32) Chance(probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	return p.NextFloat01() < probability
}

// State exposes the raw generator state for cloning and persistence.
func (p *PCG32) State() (state, inc uint64) {
	return p.state, p.inc
}

// Restore overwrites the raw generator state.
func (p *PCG32) Restore(state, inc uint64) {
	p.state = state
	p.inc = inc | 1
}

// Clone returns an independent copy that will produce the same sequence.
func (p *PCG32) Clone() *PCG32 {
	c := *p
	return &c
}
