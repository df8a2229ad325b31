// Package simdops binds the complex and float64 kernels the correlator needs
// to either the SIMD library or plain Go loops.
package simdops

import (
	"github.com/tphakala/simd/c128"
	"github.com/tphakala/simd/cpu"
	"github.com/tphakala/simd/f64"
)

// Ops is a table of vector kernels. All slices passed to one call must have
// the same length.
type Ops struct {
	// Mul computes the element-wise complex product: dst[i] = a[i] * b[i]
	Mul func(dst, a, b []complex128)

	// Sum returns the sum of all elements.
	Sum func(a []float64) float64

	// DotProduct returns Σ a[i]*b[i] without bounds checking.
	DotProduct func(a, b []float64) float64
}

// Pre-instantiated tables.
var (
	simdOps = Ops{
		Mul:        c128.Mul,
		Sum:        f64.Sum,
		DotProduct: f64.DotProductUnsafe,
	}
	goOps = Ops{
		Mul:        mulGo,
		Sum:        sumGo,
		DotProduct: dotGo,
	}
)

// For returns the SIMD table when simd is true and the pure Go table otherwise.
func For(simd bool) *Ops {
	if simd {
		return &simdOps
	}
	return &goOps
}

// Info describes the vector extensions detected on this CPU.
func Info() string {
	return cpu.Info()
}

func mulGo(dst, a, b []complex128) {
	for i := range dst {
		dst[i] = a[i] * b[i]
	}
}

func sumGo(a []float64) float64 {
	var s float64
	for _, v := range a {
		s += v
	}
	return s
}

func dotGo(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Widen converts src to complex128, optionally conjugating.
func Widen(dst []complex128, src []complex64, conj bool) {
	if conj {
		for i, v := range src {
			dst[i] = complex(float64(real(v)), -float64(imag(v)))
		}
		return
	}
	for i, v := range src {
		dst[i] = complex128(v)
	}
}

// Split copies the real and imaginary parts of src into re and im.
func Split(re, im []float64, src []complex128) {
	for i, v := range src {
		re[i] = real(v)
		im[i] = imag(v)
	}
}

// BlockSums writes the sum of each consecutive r-element block of x into dst.
// len(x) must be at least len(dst)*r.
func (o *Ops) BlockSums(dst, x []float64, r int) {
	for t := range dst {
		dst[t] = o.Sum(x[t*r : (t+1)*r])
	}
}

// BlockEnergy writes Σ re²+im² over each r-element block into dst.
func (o *Ops) BlockEnergy(dst, re, im []float64, r int) {
	for t := range dst {
		lo, hi := t*r, (t+1)*r
		dst[t] = o.DotProduct(re[lo:hi], re[lo:hi]) + o.DotProduct(im[lo:hi], im[lo:hi])
	}
}
