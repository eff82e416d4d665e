package throttle

import (
	"fmt"
	"testing"
)

// TestTweakedHash_InRange checks that for all keys and any tweak,
// TweakedHash(key, tweak, R) is in [0, R).
func TestTweakedHash_InRange(t *testing.T) {
	keys := []string{"", "a", "tenant-1", "a-much-longer-tenant-identifier-string"}
	tweaks := []int32{0, 1, -1, 12345, -999999}
	ranges := []uint32{1, 2, 17, 100, 1023}

	for _, key := range keys {
		for _, tweak := range tweaks {
			for _, r := range ranges {
				h := TweakedHash(key, tweak, r)
				if h >= r {
					t.Fatalf("TweakedHash(%q, %d, %d) = %d, want < %d", key, tweak, r, h, r)
				}
			}
		}
	}
}

func TestTweakedHash_Deterministic(t *testing.T) {
	a := TweakedHash("tenant-42", 7, 100)
	b := TweakedHash("tenant-42", 7, 100)
	if a != b {
		t.Fatalf("TweakedHash not pure: got %d then %d for identical inputs", a, b)
	}
}

func TestTweakedHash_PanicsOnZeroRange(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for rangeN == 0")
		}
	}()
	TweakedHash("x", 0, 0)
}

// TestTweakedHash_ChiSquareUniform checks distributional uniformity: 10,000
// samples over 100 buckets should give chi^2 < 160 (the 1/10000 quantile
// bound for 100 degrees of freedom).
func TestTweakedHash_ChiSquareUniform(t *testing.T) {
	const buckets = 100
	const samples = 10_000

	counts := make([]int, buckets)
	for i := 0; i < samples; i++ {
		key := fmt.Sprintf("tenant-%d", i)
		h := TweakedHash(key, 0, buckets)
		counts[h]++
	}

	chi2 := chiSquare(counts, samples, buckets)
	if chi2 >= 160 {
		t.Fatalf("chi^2 = %f, want < 160 for %d buckets at n=%d", chi2, buckets, samples)
	}
}

// TestGenerateNHashes_InRange checks that every draw lands in [0, R).
func TestGenerateNHashes_InRange(t *testing.T) {
	ranges := []uint32{1, 17, 33, 1023}
	for _, r := range ranges {
		hashes := GenerateNHashes("tenant-x", 99, 10, r)
		for _, h := range hashes {
			if h >= r {
				t.Fatalf("GenerateNHashes entry %d >= range %d", h, r)
			}
		}
	}
}

func TestGenerateNHashes_Deterministic(t *testing.T) {
	a := GenerateNHashes("tenant-x", 99, 5, 30)
	b := GenerateNHashes("tenant-x", 99, 5, 30)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("GenerateNHashes not pure at index %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestGenerateNHashes_ZeroNReturnsEmpty(t *testing.T) {
	if got := GenerateNHashes("x", 0, 0, 10); len(got) != 0 {
		t.Fatalf("expected empty slice for n=0, got %v", got)
	}
}

func TestGenerateNHashes_PanicsOnZeroRange(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for rangeN == 0")
		}
	}()
	GenerateNHashes("x", 0, 3, 0)
}

// TestGenerateNHashes_ChiSquareUniform checks that for a single key, 10,000
// hashes mod 33 give chi^2 < 70.
func TestGenerateNHashes_ChiSquareUniform(t *testing.T) {
	const buckets = 33
	const samples = 10_000

	hashes := GenerateNHashes("the-one-key", 1, samples, buckets)
	counts := make([]int, buckets)
	for _, h := range hashes {
		counts[h]++
	}

	chi2 := chiSquare(counts, samples, buckets)
	if chi2 >= 70 {
		t.Fatalf("chi^2 = %f, want < 70 for %d buckets at n=%d", chi2, buckets, samples)
	}
}

// TestGenerateNHashes_TripleCollisionBound checks that across 1,000 distinct
// keys, no 3-tuple produced by GenerateNHashes(n=3, R=30) should appear more
// than 5 times.
func TestGenerateNHashes_TripleCollisionBound(t *testing.T) {
	type tuple [3]uint32
	counts := make(map[tuple]int)

	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("distinct-key-%d", i)
		h := GenerateNHashes(key, 0, 3, 30)
		tup := tuple{h[0], h[1], h[2]}
		counts[tup]++
	}

	for tup, c := range counts {
		if c > 5 {
			t.Fatalf("3-tuple %v appeared %d times, want <= 5", tup, c)
		}
	}
}

// chiSquare computes the chi-squared goodness-of-fit statistic for counts
// observed across `buckets` equally-likely categories from `samples` draws.
func chiSquare(counts []int, samples, buckets int) float64 {
	expected := float64(samples) / float64(buckets)
	var chi2 float64
	for _, c := range counts {
		diff := float64(c) - expected
		chi2 += diff * diff / expected
	}
	return chi2
}
