package throttle

import (
	"math/rand"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// defaultSFTBuckets, defaultInitialTps are the standard construction
// defaults for a StochasticFairThrottle.
const (
	defaultSFTBuckets = 17
	defaultInitialTps = 100.0
)

// SFTConfig configures a StochasticFairThrottle. Zero-value fields fall
// back to the stated defaults below; Clock is the one field with no
// sensible zero value and must be set (NewStochasticFairThrottle panics on
// a nil Clock).
type SFTConfig struct {
	Clock TimeSource

	// Buckets is the number of independent per-slot token buckets. Default
	// 17.
	Buckets int

	// InitialTps is the SharedAIMD's starting target rate. Default 100.
	InitialTps float64

	// FloorTps is the SharedAIMD's floor. Default 5. Note: zero is treated
	// as "unset" and replaced with the default, so a floor of exactly 0
	// cannot be requested through this field — pass a small epsilon (e.g.
	// 1e-9) instead if that's genuinely needed.
	FloorTps float64

	// CeilingTps is the SharedAIMD's ceiling. Default +Inf.
	CeilingTps float64

	// BucketCapacity overrides each bucket's capacity. Zero falls back to
	// InitialTps (the default bucket capacity for SFT equals the initial
	// rate). Exposed so a caller can size SFT and BFFT buckets comparably
	// when running both against the same traffic shape, since BFFT's
	// default bucket capacity is a flat constant instead.
	BucketCapacity float64

	// Logger receives Debug-level tweak-rotation diagnostics. Nil is
	// replaced with a no-op logger.
	Logger *zerolog.Logger
}

func (c SFTConfig) resolve() SFTConfig {
	if c.Clock == nil {
		panic("throttle: NewStochasticFairThrottle requires a non-nil Clock")
	}
	if c.Buckets == 0 {
		c.Buckets = defaultSFTBuckets
	}
	if c.InitialTps == 0 {
		c.InitialTps = defaultInitialTps
	}
	if c.FloorTps == 0 {
		c.FloorTps = defaultFloorTps
	}
	if c.CeilingTps == 0 {
		c.CeilingTps = defaultCeilingTps()
	}
	if c.BucketCapacity == 0 {
		c.BucketCapacity = c.InitialTps
	}
	return c
}

// StochasticFairThrottle is an array of B independent AIMD token buckets
// sharing one SharedAIMD, with a time-rotated tweak shuffling the
// key->bucket mapping every 5 seconds.
type StochasticFairThrottle struct {
	buckets []*tokenBucket
	aimd    *SharedAIMD
	clock   TimeSource
	logger  zerolog.Logger

	tweak             atomic.Int32
	lastTweakUpdateNs atomic.Int64
}

// NewStochasticFairThrottle constructs an SFT. Zero-valued fields take
// their defaults first (Buckets: 0 means 17). Panics on a nil Clock,
// negative Buckets, or floor/initial/ceiling out of order — all programmer
// errors, never a runtime condition reachable from valid configuration.
func NewStochasticFairThrottle(cfg SFTConfig) *StochasticFairThrottle {
	cfg = cfg.resolve()
	if cfg.Buckets <= 0 {
		panic("throttle: NewStochasticFairThrottle requires Buckets > 0")
	}
	if cfg.Buckets > maxPackableBuckets {
		panic("throttle: NewStochasticFairThrottle Buckets exceeds maxPackableBuckets")
	}

	logger := resolveLogger(cfg.Logger)
	aimd := NewSharedAIMD(cfg.InitialTps, cfg.FloorTps, cfg.CeilingTps)

	s := &StochasticFairThrottle{
		buckets: make([]*tokenBucket, cfg.Buckets),
		aimd:    aimd,
		clock:   cfg.Clock,
		logger:  logger,
	}
	for i := range s.buckets {
		s.buckets[i] = newTokenBucket(cfg.BucketCapacity, aimd, cfg.Clock)
	}
	s.tweak.Store(rand.Int31())
	s.lastTweakUpdateNs.Store(cfg.Clock.NowNs())
	return s
}

// ShouldAccept implements FairThrottle.
func (s *StochasticFairThrottle) ShouldAccept(key string) *ThrottleResult {
	s.updateTweak()

	i := TweakedHash(key, s.tweak.Load(), uint32(len(s.buckets)))
	bucket := s.buckets[i]

	if bucket.WouldAllow() {
		bucket.ClaimToken()
		return allowedResult([]*tokenBucket{bucket}, []uint32{i})
	}
	return deniedResult
}

// updateTweak rotates the tweak at most once per 5-second window. The
// thread that wins the last-tweak-update CAS writes a fresh random tweak;
// losers make no change — this guarantees at most one rotation per window
// with no lock.
func (s *StochasticFairThrottle) updateTweak() {
	now := s.clock.NowNs()
	last := s.lastTweakUpdateNs.Load()
	if now-last <= sftTweakRotationNs {
		return
	}
	if !s.lastTweakUpdateNs.CompareAndSwap(last, now) {
		return
	}
	newTweak := rand.Int31()
	s.tweak.Store(newTweak)
	s.logger.Debug().
		Str("throttle", "sft").
		Int("buckets", len(s.buckets)).
		Int32("tweak", newTweak).
		Msg("tweak rotated")
}

// TargetTps returns the shared AIMD's current target rate. Diagnostic
// only; not part of the admission decision path.
func (s *StochasticFairThrottle) TargetTps() float64 {
	return s.aimd.GetTargetTps()
}
