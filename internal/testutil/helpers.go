// Package testutil provides assertion helpers shared by the receiver tests.
package testutil

import (
	"fmt"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Default tolerances for various test scenarios.
const (
	// ExactTolerance is for integer-valued signals that survive float32 exactly.
	ExactTolerance = 0
	// SampleTolerance absorbs float32 rounding of unit-scale samples.
	SampleTolerance = 1e-5
	// AccumTolerance absorbs reordered float32 accumulation over long blocks.
	AccumTolerance = 1e-4
)

// AssertComplexNear verifies |want - got| <= tolerance component-wise.
func AssertComplexNear(t *testing.T, want, got complex128, tolerance float64, msgAndArgs ...any) bool {
	t.Helper()
	okRe := assert.InDelta(t, real(want), real(got), tolerance, msgAndArgs...)
	okIm := assert.InDelta(t, imag(want), imag(got), tolerance, msgAndArgs...)
	return okRe && okIm
}

// AssertComplexSlicesNear verifies two complex64 slices element by element.
// It stops at the first mismatch.
func AssertComplexSlicesNear(t *testing.T, want, got []complex64, tolerance float64) bool {
	t.Helper()
	if !assert.Len(t, got, len(want)) {
		return false
	}
	for i := range want {
		if !AssertComplexNear(t, complex128(want[i]), complex128(got[i]), tolerance, "index %d", i) {
			return false
		}
	}
	return true
}

// AssertNoNaNOrInf verifies that no element has a NaN or Inf component.
func AssertNoNaNOrInf(t *testing.T, s []complex64) bool {
	t.Helper()
	for i, v := range s {
		c := complex128(v)
		if cmplx.IsNaN(c) {
			return assert.Fail(t, "found NaN", "s[%d] is NaN", i)
		}
		if cmplx.IsInf(c) {
			return assert.Fail(t, "found Inf", "s[%d] is Inf", i)
		}
	}
	return true
}

// AssertRelativeError verifies that the relative error between actual and expected is within tolerance.
func AssertRelativeError(t *testing.T, expected, actual, tolerance float64, msgAndArgs ...any) bool {
	t.Helper()
	if expected == 0 {
		return assert.InDelta(t, expected, actual, tolerance, msgAndArgs...)
	}
	relError := math.Abs(actual-expected) / math.Abs(expected)
	return assert.LessOrEqual(t, relError, tolerance,
		"relative error %e exceeds tolerance %e (expected=%f, actual=%f)",
		relError, tolerance, expected, actual)
}

// AssertInRange verifies that a value is within [min, max].
func AssertInRange[T int | float64](t *testing.T, value, minVal, maxVal T, msgAndArgs ...any) bool {
	t.Helper()
	if value < minVal || value > maxVal {
		return assert.Fail(t, fmt.Sprintf("value %v is outside range [%v, %v]", value, minVal, maxVal), msgAndArgs...)
	}
	return true
}
