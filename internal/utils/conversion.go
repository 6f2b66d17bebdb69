/*
This file contains common utility functions for converting between SDK decimal
values and float64, plus the small clamping helpers the accounting engines
lean on. Conversions are string-mediated to avoid binary float drift.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrAmountNil        = errors.New("amount is nil")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// DecToFloat64 converts a LegacyDec to float64, rejecting nil and non-finite
// results.
func DecToFloat64(d sdkmath.LegacyDec) (float64, error) {
	if d.IsNil() {
		return 0, ErrAmountNil
	}
	f, err := d.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, f)
	}
	return f, nil
}

// Float64ToDec converts a float64 to a LegacyDec through its decimal string
// form, which keeps the 18-place representation deterministic.
func Float64ToDec(f float64) (sdkmath.LegacyDec, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: amount is %f", ErrNotFinite, f)
	}
	s := fmt.Sprintf("%.18f", f)
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: failed to create decimal from string: %w", ErrConversionFailed, err)
	}
	return d, nil
}

// MaxDec returns the larger of a and b.
func MaxDec(a, b sdkmath.LegacyDec) sdkmath.LegacyDec {
	if a.GT(b) {
		return a
	}
	return b
}

// MinDec returns the smaller of a and b.
func MinDec(a, b sdkmath.LegacyDec) sdkmath.LegacyDec {
	if a.LT(b) {
		return a
	}
	return b
}

// FloorZero clamps a to zero from below. The accounting engines never let a
// transiently negative category escape.
func FloorZero(a sdkmath.LegacyDec) sdkmath.LegacyDec {
	if a.IsNegative() {
		return sdkmath.LegacyZeroDec()
	}
	return a
}

// ClampDec restricts v to [lo, hi].
func ClampDec(v, lo, hi sdkmath.LegacyDec) sdkmath.LegacyDec {
	if v.LT(lo) {
		return lo
	}
	if v.GT(hi) {
		return hi
	}
	return v
}
