package rng

// Hash32 is a polynomial rolling hash (base 31) over the bytes of s, used to
// key stream names. It is stable across platforms and releases.
func Hash32(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}

// Mix32 is a 32-bit avalanche finalizer: flipping any input bit flips each
// output bit with probability close to one half.
func Mix32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}
