package throttle

import "github.com/rs/zerolog"

// nopLogger backs every throttle that isn't given an explicit logger, so
// call sites never need a nil check.
func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// resolveLogger returns l if non-nil, otherwise a no-op logger. Grounded
// on the admission-control logging idiom in the retrieval pack's
// gosuda-portal ratelimit/bucket.go, which logs throttle events at Debug
// level and nothing hotter.
func resolveLogger(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return nopLogger()
	}
	return *l
}
