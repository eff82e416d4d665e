package throttle

import (
	"math"
	"sync/atomic"
)

// AIMD tuning constants. These are not exposed as package-level variables
// because mutating them would change behavior for every throttle in the
// process, not just one.
const (
	aimdAdditiveIncrease     = 1.0
	aimdMultiplicativeDecay  = 0.7
	defaultFloorTps          = 5.0
	sftTweakRotationNs       = 5_000_000_000  // 5s
	bfftTweakRotationNs      = 60_000_000_000 // 60s
	bfftMaxProbes            = 3
	bfftDefaultBucketCap     = 100.0
	tokenRefillSkipThreshold = 1.0
)

func defaultCeilingTps() float64 {
	return math.Inf(1)
}

// SharedAIMD is the additive-increase/multiplicative-decrease control loop
// shared by every bucket belonging to one throttle instance. Updates are
// last-writer-wins: concurrent successes and failures race on a single
// atomic word, and that race is accepted as the source of the stochastic
// random walk toward the downstream's true capacity.
type SharedAIMD struct {
	targetTpsBits atomic.Uint64 // float64 bit pattern; no native atomic float64
	floorTps      float64
	ceilingTps    float64
}

// NewSharedAIMD constructs a SharedAIMD. Panics if floorTps > ceilingTps or
// initialTps falls outside [floorTps, ceilingTps].
func NewSharedAIMD(initialTps, floorTps, ceilingTps float64) *SharedAIMD {
	if floorTps < 0 {
		panic("throttle: NewSharedAIMD floorTps must be >= 0")
	}
	if floorTps > ceilingTps {
		panic("throttle: NewSharedAIMD floorTps must be <= ceilingTps")
	}
	if initialTps < floorTps || initialTps > ceilingTps {
		panic("throttle: NewSharedAIMD initialTps must be within [floorTps, ceilingTps]")
	}

	a := &SharedAIMD{
		floorTps:   floorTps,
		ceilingTps: ceilingTps,
	}
	a.targetTpsBits.Store(math.Float64bits(initialTps))
	return a
}

// GetTargetTps returns the current target rate.
func (a *SharedAIMD) GetTargetTps() float64 {
	return math.Float64frombits(a.targetTpsBits.Load())
}

// SetTargetTps sets the target rate directly, clamped to
// [floorTps, ceilingTps]. Used by tests and simulators to inject goodput
// changes; not part of the normal feedback loop.
func (a *SharedAIMD) SetTargetTps(v float64) {
	a.targetTpsBits.Store(math.Float64bits(clamp(v, a.floorTps, a.ceilingTps)))
}

// OnSuccess applies the additive-increase step: target_tps <- min(ceiling,
// target_tps + 1.0). This is a plain load-then-store, not a CAS loop —
// tearing under concurrent successes/failures is accepted, since the value
// stored is always computed from some valid prior observation, so the
// [floor, ceiling] invariant holds even when a racing update's result is
// clobbered a moment later.
func (a *SharedAIMD) OnSuccess() {
	oldV := math.Float64frombits(a.targetTpsBits.Load())
	newV := math.Min(a.ceilingTps, oldV+aimdAdditiveIncrease)
	a.targetTpsBits.Store(math.Float64bits(newV))
}

// OnFailure applies the multiplicative-decrease step: target_tps <-
// max(floor, target_tps * 0.7).
func (a *SharedAIMD) OnFailure() {
	oldV := math.Float64frombits(a.targetTpsBits.Load())
	newV := math.Max(a.floorTps, oldV*aimdMultiplicativeDecay)
	a.targetTpsBits.Store(math.Float64bits(newV))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
