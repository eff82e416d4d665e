// Package throttle implements a client-side fair service throttle: an
// in-process admission-control engine placed in front of calls to a
// remote dependency. It adapts the rate of admitted calls to the
// downstream's available goodput via an AIMD control loop fed by
// caller-reported success/failure, and spreads admission across a
// dynamic set of opaque tenant keys using one of two O(1)-space fairness
// schemes: StochasticFairThrottle (one bucket per hashed tenant slot) or
// BloomFilterFairThrottle (admission requires all of k probed buckets to
// admit).
//
// Every operation is non-blocking and lock-free: admission decisions and
// outcome feedback are built entirely out of atomic loads, stores, and
// compare-and-swap loops, with no mutexes and no per-tenant memory. The
// engine does no I/O; callers drive it entirely through ShouldAccept and
// the ThrottleResult it returns.
package throttle
