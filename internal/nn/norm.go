package nn

import (
	"math"

	"github.com/samcharles93/chatlm/internal/tensor"
)

// LayerNorm normalizes every row of x to zero mean and unit variance, then
// applies scale (gamma) and, when beta is non-nil, shift:
//
//	y = (x - mean) / sqrt(var + eps) * gamma + beta
func LayerNorm(t *Tape, x, gamma, beta *Var, eps float32) *Var {
	n, c := x.Value.R, x.Value.C
	out := NewVar(tensor.NewMat(n, c))
	xhat := tensor.NewMat(n, c)
	invStd := make([]float32, n)

	for r := 0; r < n; r++ {
		row := x.Value.Row(r)
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(c)
		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(c)
		inv := 1 / math.Sqrt(variance+float64(eps))
		invStd[r] = float32(inv)

		xh := xhat.Row(r)
		y := out.Value.Row(r)
		for i, v := range row {
			xh[i] = float32((float64(v) - mean) * inv)
			y[i] = xh[i] * gamma.Value.Data[i]
			if beta != nil {
				y[i] += beta.Value.Data[i]
			}
		}
	}

	t.record(func() {
		if out.Grad == nil {
			return
		}
		dOut := out.gradMat()
		dx := x.gradMat()
		dGamma := gamma.ensureGrad()
		var dBeta []float32
		if beta != nil {
			dBeta = beta.ensureGrad()
		}
		dxhat := make([]float32, c)
		for r := 0; r < n; r++ {
			dy := dOut.Row(r)
			xh := xhat.Row(r)
			var m1, m2 float64
			for i := range dy {
				dGamma[i] += dy[i] * xh[i]
				if dBeta != nil {
					dBeta[i] += dy[i]
				}
				dxhat[i] = dy[i] * gamma.Value.Data[i]
				m1 += float64(dxhat[i])
				m2 += float64(dxhat[i] * xh[i])
			}
			m1 /= float64(c)
			m2 /= float64(c)
			dxr := dx.Row(r)
			for i := range dxr {
				dxr[i] += invStd[r] * (dxhat[i] - float32(m1) - xh[i]*float32(m2))
			}
		}
	})
	return out
}
