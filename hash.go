package throttle

import (
	"math/bits"

	"github.com/spaolacci/murmur3"
)

// pcgMultiplier is the LCG multiplier from the reference 64/32 PCG
// generator (O'Neill, "PCG: A Family of Simple Fast Space-Efficient
// Statistically Good Algorithms for Random Number Generation").
const pcgMultiplier uint64 = 6364136223846793005

// signMask clears the sign bit of a uint32 hash output before it is
// reduced modulo a range, so the reduction never has to reason about
// negative values.
const signMask uint32 = 0x7FFFFFFF

// TweakedHash combines key with tweak into a uniform value in [0, rangeN)
// using a seeded 32-bit Murmur3 hash. Pure: identical inputs always
// produce the identical output.
//
// rangeN must be > 0.
func TweakedHash(key string, tweak int32, rangeN uint32) uint32 {
	if rangeN == 0 {
		panic("throttle: TweakedHash called with rangeN == 0")
	}
	h := murmur3.Sum32WithSeed([]byte(key), uint32(tweak))
	return (h & signMask) % rangeN
}

// pcg32 is a minimal 32-bit-output PCG generator: 64 bits of state, a
// single odd increment, the standard XSH-RR output permutation. It is not
// intended to be cryptographically strong — tweak rotation exists to
// dissolve hash collisions over time, not to resist adversaries.
type pcg32 struct {
	state uint64
	inc   uint64
}

// next advances the generator and returns one 32-bit draw.
func (p *pcg32) next() uint32 {
	oldState := p.state
	p.state = oldState*pcgMultiplier + p.inc
	xorshifted := uint32(((oldState >> 18) ^ oldState) >> 27)
	rot := uint32(oldState >> 59)
	return bits.RotateLeft32(xorshifted, -int(rot))
}

// newPcg32 seeds a generator from a 64-bit state value and a tweak, whose
// doubled-plus-one encoding guarantees the PCG increment is odd (required
// for the generator to have full period) regardless of tweak's sign.
func newPcg32(seed uint64, tweak int32) *pcg32 {
	return &pcg32{
		state: seed,
		inc:   uint64(2*int64(tweak) + 1),
	}
}

// GenerateNHashes draws n values in [0, rangeN) for key, tweaked by tweak.
// The seed is the low 64 bits of a Murmur3-128 hash of key seeded with
// tweak, so the whole draw sequence is pure and deterministic. Two priming
// draws are discarded before the first returned value, per the reference
// PCG initialization sequence. Draws may repeat — for the Bloom-filter
// throttle's probes this is expected behavior, not a defect.
//
// rangeN must be > 0; n may be 0, in which case an empty slice is returned.
// This is the allocating, general-purpose entry point; the Bloom-filter
// throttle's hot path uses generateNHashesInto instead to avoid a slice
// allocation on every admission check.
func GenerateNHashes(key string, tweak int32, n int, rangeN uint32) []uint32 {
	if n <= 0 {
		if rangeN == 0 {
			panic("throttle: GenerateNHashes called with rangeN == 0")
		}
		return nil
	}
	var buf [bfftMaxProbes]uint32
	if n <= len(buf) {
		generateNHashesInto(&buf, key, tweak, n, rangeN)
		out := make([]uint32, n)
		copy(out, buf[:n])
		return out
	}
	out := make([]uint32, n)
	generateNHashesSlice(out, key, tweak, rangeN)
	return out
}

// generateNHashesInto fills dst[:n] with the same draw sequence as
// GenerateNHashes, without allocating. n must not exceed len(dst).
func generateNHashesInto(dst *[bfftMaxProbes]uint32, key string, tweak int32, n int, rangeN uint32) {
	if rangeN == 0 {
		panic("throttle: generateNHashesInto called with rangeN == 0")
	}
	if n > len(dst) {
		panic("throttle: generateNHashesInto n exceeds dst capacity")
	}
	generateNHashesSlice(dst[:n], key, tweak, rangeN)
}

// generateNHashesSlice is the shared draw loop: seed, discard two priming
// draws, then fill out with n masked-and-reduced values.
func generateNHashesSlice(out []uint32, key string, tweak int32, rangeN uint32) {
	seed, _ := murmur3.Sum128WithSeed([]byte(key), uint32(tweak))
	rng := newPcg32(seed, tweak)

	// Priming draws: the first two outputs of a freshly seeded PCG are
	// discarded before anything is returned.
	rng.next()
	rng.next()

	for i := range out {
		v := rng.next() & signMask
		out[i] = v % rangeN
	}
}
