package common

import "math/bits"

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// DivCeil divides n by d rounding up. d must be non-zero.
//
// Parameters:
//   - n: the dividend
//   - d: the divisor
//
// Returns:
//   - uint32: ceil(n / d)
func DivCeil(n, d uint32) uint32 {
	return (n + d - 1) / d
}

// PrevPowerOfTwo returns the largest power of two that is less than or equal to v.
// Returns 0 for 0.
func PrevPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 0
	}
	return 1 << (31 - bits.LeadingZeros32(v))
}

// Log2Floor returns floor(log2(v)) for v > 0 and 0 for v == 0.
func Log2Floor(v uint32) uint32 {
	if v == 0 {
		return 0
	}
	return uint32(31 - bits.LeadingZeros32(v))
}

// Log2Ceil returns ceil(log2(v)) for v > 0 and 0 for v <= 1.
func Log2Ceil(v uint32) uint32 {
	if v <= 1 {
		return 0
	}
	return uint32(32 - bits.LeadingZeros32(v-1))
}
