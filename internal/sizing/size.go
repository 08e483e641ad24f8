// Package sizing provides safe offset arithmetic and conversions to prevent overflow.
package sizing

import (
	"math"
)

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// AddInt adds two non-negative ints, returning (result, false) on overflow.
func AddInt(a, b int) (int, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a > math.MaxInt-b {
		return 0, false
	}
	return a + b, true
}

// AddInt64 adds two non-negative int64 values, returning (result, false) on overflow.
func AddInt64(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// MulInt multiplies two non-negative ints, returning (result, false) on overflow.
func MulInt(a, b int) (int, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt/b {
		return 0, false
	}
	return a * b, true
}

// InBounds reports whether [off, off+n) lies within a buffer of length size.
func InBounds(off, n, size int) bool {
	if off < 0 || n < 0 {
		return false
	}
	end, ok := AddInt(off, n)
	return ok && end <= size
}
