package ring

import (
	"fmt"
)

const (
	// M is the bit width of the identifier space.
	M = 3

	// Size is the number of identifiers on the ring (2^M).
	Size = 1 << M
)

// Mode selects which endpoints of an interval count as members.
type Mode string

const (
	Start Mode = "start" // [start, end)
	End   Mode = "end"   // (start, end]
	Both  Mode = "both"  // [start, end]
	None  Mode = "none"  // (start, end)
)

// ParseMode converts an operator supplied string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Start, End, Both, None:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown range mode %q", s)
	}
}

// FingerIndex returns the start of the k-th finger (1-based) of id, that is
// (id + 2^(k-1)) mod 2^M. It returns -1 when k is outside [1, M].
func FingerIndex(id, k int) int {
	if k < 1 || k > M {
		return -1
	}
	return Normalize(id + (1 << (k - 1)))
}

// InRange reports whether x lies on the circular interval from start to end.
//
// When start == end the interval covers the whole ring: under None every point
// except end is a member, under the other modes only end itself is.
func InRange(x, start, end int, mode Mode) bool {
	if start == end {
		if mode == None {
			return x != end
		}
		return x == end
	}

	if x == start {
		return mode == Start || mode == Both
	}
	if x == end {
		return mode == End || mode == Both
	}

	if start < end {
		return start < x && x < end
	}
	// Interval wraps through zero.
	return x > start || x < end
}

// Normalize maps any integer onto the ring.
func Normalize(x int) int {
	x %= Size
	if x < 0 {
		x += Size
	}
	return x
}
