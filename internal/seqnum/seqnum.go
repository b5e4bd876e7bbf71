// Package seqnum implements 32-bit TCP sequence-number arithmetic: wrapping
// values, and the wrap/unwrap translation between a 32-bit wire seqno and
// the 64-bit absolute index it represents relative to a zero point.
//
// The comparison helpers mirror the wraparound-aware seqLT/seqGT/seqOverlap
// helpers used throughout the teacher's TCP send/receive buffers, extended
// here into a named type so seqno arithmetic can't be confused with a plain
// uint32 byte count elsewhere in the stack.
package seqnum

// Value is a 32-bit wrapping sequence number. Arithmetic on it is modulo
// 2^32, matching TCP wire semantics.
type Value uint32

// Wrap computes wrap(n, zeroPoint): the 32-bit wire representation of the
// absolute sequence number n relative to zeroPoint.
func Wrap(n uint64, zeroPoint Value) Value {
	return zeroPoint + Value(uint32(n))
}

// Unwrap returns the absolute 64-bit value A such that Wrap(A, zeroPoint)
// equals this seqno and |A - checkpoint| is minimized, ties broken toward
// the lower A, never returning a negative A.
func (v Value) Unwrap(zeroPoint Value, checkpoint uint64) uint64 {
	const span = uint64(1) << 32

	d := uint64(uint32(v - zeroPoint))

	base := checkpoint / span
	candidates := make([]uint64, 0, 3)
	if base > 0 {
		candidates = append(candidates, (base-1)*span+d)
	}
	candidates = append(candidates, base*span+d)
	candidates = append(candidates, (base+1)*span+d)

	best := candidates[0]
	bestDist := absDiff(best, checkpoint)
	for _, c := range candidates[1:] {
		dist := absDiff(c, checkpoint)
		if dist < bestDist {
			best, bestDist = c, dist
		}
	}
	return best
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// LessThan reports whether a precedes b on the wrapping number line (a < b
// accounting for wraparound), matching the teacher's seqLT helper.
func LessThan(a, b Value) bool { return int32(a-b) < 0 }

// LessOrEqual reports a <= b accounting for wraparound.
func LessOrEqual(a, b Value) bool { return int32(a-b) <= 0 }

// GreaterThan reports a > b accounting for wraparound.
func GreaterThan(a, b Value) bool { return int32(a-b) > 0 }

// GreaterOrEqual reports a >= b accounting for wraparound.
func GreaterOrEqual(a, b Value) bool { return int32(a-b) >= 0 }
