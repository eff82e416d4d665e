package throttle

import (
	"math"
	"sync/atomic"
)

// casRetries bounds the last_refill_ns CAS retry loop in refill(). Every
// retry represents another thread winning the race to record a refill;
// losing the whole budget just means this call's would-refill work is
// discarded and the next caller retries it, which is always safe — the
// refill loop is linearizable on last_refill_ns, and giving up and
// returning the current tokens reading is still a valid observation.
const casRetries = 8

// tokenBucket is one AIMD-fed token bucket. It never blocks, never
// allocates after construction, and is safe for concurrent use by many
// goroutines.
//
// Two independent atomics back the mutable state (tokens, lastRefillNs)
// rather than one combined word: splitting them is substantially faster
// under contention than a monolithic CAS, at the cost of a small bounded
// overshoot/undershoot near full capacity, corrected on the next refill
// cycle.
type tokenBucket struct {
	capacity     float64 // immutable
	tokensBits   atomic.Uint64
	lastRefillNs atomic.Int64
	aimd         *SharedAIMD
	clock        TimeSource
}

// newTokenBucket constructs a bucket starting full, sharing aimd for its
// refill rate.
func newTokenBucket(capacity float64, aimd *SharedAIMD, clock TimeSource) *tokenBucket {
	if capacity <= 0 {
		panic("throttle: newTokenBucket capacity must be > 0")
	}
	if aimd == nil {
		panic("throttle: newTokenBucket requires a non-nil SharedAIMD")
	}
	if clock == nil {
		panic("throttle: newTokenBucket requires a non-nil TimeSource")
	}
	b := &tokenBucket{
		capacity: capacity,
		aimd:     aimd,
		clock:    clock,
	}
	b.tokensBits.Store(math.Float64bits(capacity))
	b.lastRefillNs.Store(clock.NowNs())
	return b
}

// tokens returns the current raw token reading, with no refill side effect.
func (b *tokenBucket) tokens() float64 {
	return math.Float64frombits(b.tokensBits.Load())
}

// WouldAllow reports whether a call would currently be admitted. The fast
// path reads tokens with relaxed semantics and may return false under
// heavy contention even when a racing refill would have admitted — the
// caller is expected to retry.
func (b *tokenBucket) WouldAllow() bool {
	if b.tokens() > 1.0 {
		return true
	}
	b.refill()
	return b.tokens() > 1.0
}

// ClaimToken atomically subtracts one token. May transiently drive tokens
// below zero under contention; the next refill corrects it.
func (b *tokenBucket) ClaimToken() {
	for {
		old := b.tokensBits.Load()
		newV := math.Float64frombits(old) - 1.0
		if b.tokensBits.CompareAndSwap(old, math.Float64bits(newV)) {
			return
		}
	}
}

// OnSuccess forwards to the shared AIMD.
func (b *tokenBucket) OnSuccess() { b.aimd.OnSuccess() }

// OnFailure forwards to the shared AIMD.
func (b *tokenBucket) OnFailure() { b.aimd.OnFailure() }

// refill is the critical concurrent section: read the shared target rate,
// compute how many tokens elapsed time is worth, and — if that's at least
// one whole token — CAS the refill timestamp forward and add the
// (capacity-capped) amount. Losers of the timestamp CAS simply retry, up
// to a bounded number of attempts, since the operation must complete in
// bounded wall-clock time.
func (b *tokenBucket) refill() float64 {
	for i := 0; i < casRetries; i++ {
		now := b.clock.NowNs()
		last := b.lastRefillNs.Load()

		targetTps := b.aimd.GetTargetTps()
		toAdd := targetTps * float64(now-last) / 1e9
		if toAdd < tokenRefillSkipThreshold {
			return b.tokens()
		}

		if !b.lastRefillNs.CompareAndSwap(last, now) {
			continue // another thread refilled first; retry with fresh reading
		}

		lastTokens := b.tokens()
		capped := math.Min(toAdd, b.capacity-lastTokens)
		return b.fetchAddTokens(capped)
	}
	return b.tokens()
}

// fetchAddTokens adds delta to tokens unconditionally and returns the new
// value, simulating a fetch-add on top of a bit-pattern atomic (there is
// no native atomic float64). The CAS loop here retries until it wins, same
// as a true fetch-add would: it adds the same fixed delta regardless of
// what ClaimToken calls do to tokens in between, which is exactly the
// source of the bounded overshoot/undershoot described above.
func (b *tokenBucket) fetchAddTokens(delta float64) float64 {
	for {
		old := b.tokensBits.Load()
		newV := math.Float64frombits(old) + delta
		if b.tokensBits.CompareAndSwap(old, math.Float64bits(newV)) {
			return newV
		}
	}
}
