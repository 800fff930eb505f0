package tensor

import (
	"math"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Softmax applies the softmax function to x.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// LogSumExp returns log(sum(exp(x))) computed around the maximum for stability.
func LogSumExp(x []float32) float64 {
	if len(x) == 0 {
		return math.Inf(-1)
	}
	maxv := x[0]
	for _, v := range x[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v - maxv))
	}
	return float64(maxv) + math.Log(sum)
}

// GELU constants for the tanh approximation used by GPT-2.
const (
	geluSqrt2OverPi = 0.7978845608028654
	geluCoeff       = 0.044715
)

// GELU applies the tanh-approximated Gaussian Error Linear Unit.
func GELU(x float32) float32 {
	xf := float64(x)
	inner := geluSqrt2OverPi * (xf + geluCoeff*xf*xf*xf)
	return float32(0.5 * xf * (1 + math.Tanh(inner)))
}

// GELUGrad returns dGELU/dx at x.
func GELUGrad(x float32) float32 {
	xf := float64(x)
	inner := geluSqrt2OverPi * (xf + geluCoeff*xf*xf*xf)
	th := math.Tanh(inner)
	sech2 := 1 - th*th
	dInner := geluSqrt2OverPi * (1 + 3*geluCoeff*xf*xf)
	return float32(0.5*(1+th) + 0.5*xf*sech2*dInner)
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Argmax returns the index of the maximum value in x. It panics on an empty slice.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}
