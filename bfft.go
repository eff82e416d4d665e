package throttle

import (
	"math/rand"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// BloomFilterFairThrottle is an array of B AIMD token buckets plus
// k = min(3, B) probes. Admission is conjunctive: admit iff every probed
// bucket admits; on admit, one token is consumed from each.
//
// Mirrors the teacher's thin-constructor-wraps-full-constructor shape
// (iryndin-limitron's BuildRateLimiterRps -> BuildRateLimiter ->
// BuildRateLimiterFull): NewBloomFilterFairThrottle covers the common
// (initial_tps, buckets, time_source) constructor, and
// NewBloomFilterFairThrottleFull exposes the floor/ceiling/capacity/logger
// overrides for callers who need them.
type BloomFilterFairThrottle struct {
	buckets []*tokenBucket
	probes  int
	aimd    *SharedAIMD
	clock   TimeSource
	logger  zerolog.Logger

	tweak             atomic.Int32
	lastTweakUpdateNs atomic.Int64
}

// NewBloomFilterFairThrottle constructs a BFFT with the standard defaults
// for floor (5), ceiling (+Inf), and bucket capacity (100).
func NewBloomFilterFairThrottle(initialTps float64, buckets int, clock TimeSource) *BloomFilterFairThrottle {
	return NewBloomFilterFairThrottleFull(initialTps, buckets, clock, defaultFloorTps, defaultCeilingTps(), bfftDefaultBucketCap, nil)
}

// NewBloomFilterFairThrottleFull is the fully-parameterized constructor.
// Panics on buckets <= 0, a nil clock, or floor/initial/ceiling out of
// order — all programmer errors, never a runtime condition reachable from
// valid configuration.
func NewBloomFilterFairThrottleFull(
	initialTps float64,
	buckets int,
	clock TimeSource,
	floorTps, ceilingTps, bucketCapacity float64,
	logger *zerolog.Logger,
) *BloomFilterFairThrottle {
	if buckets <= 0 {
		panic("throttle: NewBloomFilterFairThrottleFull requires buckets > 0")
	}
	if buckets > maxPackableBuckets {
		panic("throttle: NewBloomFilterFairThrottleFull buckets exceeds maxPackableBuckets")
	}
	if clock == nil {
		panic("throttle: NewBloomFilterFairThrottleFull requires a non-nil TimeSource")
	}
	if bucketCapacity == 0 {
		bucketCapacity = bfftDefaultBucketCap
	}

	aimd := NewSharedAIMD(initialTps, floorTps, ceilingTps)
	probes := buckets
	if probes > bfftMaxProbes {
		probes = bfftMaxProbes
	}

	b := &BloomFilterFairThrottle{
		buckets: make([]*tokenBucket, buckets),
		probes:  probes,
		aimd:    aimd,
		clock:   clock,
		logger:  resolveLogger(logger),
	}
	for i := range b.buckets {
		b.buckets[i] = newTokenBucket(bucketCapacity, aimd, clock)
	}
	b.tweak.Store(rand.Int31())
	b.lastTweakUpdateNs.Store(clock.NowNs())
	return b
}

// ShouldAccept implements FairThrottle. Both the probe draw and the
// probed-bucket lookup use fixed-size stack arrays instead of slices, so
// a denial — the hot path under sustained overload — never allocates.
func (b *BloomFilterFairThrottle) ShouldAccept(key string) *ThrottleResult {
	b.updateTweak()

	var hashes [bfftMaxProbes]uint32
	generateNHashesInto(&hashes, key, b.tweak.Load(), b.probes, uint32(len(b.buckets)))

	var probedBuckets [bfftMaxProbes]*tokenBucket
	for i := 0; i < b.probes; i++ {
		probedBuckets[i] = b.buckets[hashes[i]]
		if !probedBuckets[i].WouldAllow() {
			return deniedResult
		}
	}

	for i := 0; i < b.probes; i++ {
		probedBuckets[i].ClaimToken()
	}
	return allowedResult(probedBuckets[:b.probes], hashes[:b.probes])
}

// updateTweak rotates the tweak at most once per 60-second window, same
// CAS-and-let-losers-skip pattern as StochasticFairThrottle, just on a
// longer schedule.
func (b *BloomFilterFairThrottle) updateTweak() {
	now := b.clock.NowNs()
	last := b.lastTweakUpdateNs.Load()
	if now-last <= bfftTweakRotationNs {
		return
	}
	if !b.lastTweakUpdateNs.CompareAndSwap(last, now) {
		return
	}
	newTweak := rand.Int31()
	b.tweak.Store(newTweak)
	b.logger.Debug().
		Str("throttle", "bfft").
		Int("buckets", len(b.buckets)).
		Int("probes", b.probes).
		Int32("tweak", newTweak).
		Msg("tweak rotated")
}

// TargetTps returns the shared AIMD's current target rate. Diagnostic
// only; not part of the admission decision path.
func (b *BloomFilterFairThrottle) TargetTps() float64 {
	return b.aimd.GetTargetTps()
}
