package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/chatlm/internal/tensor"
)

// AttentionShape describes how rows of a fused QKV matrix are grouped.
type AttentionShape struct {
	Batch   int // number of sequences
	SeqLen  int // positions per sequence
	Heads   int // attention heads
	HeadDim int // width of one head
}

// CausalSelfAttention runs scaled dot-product attention for every head of a
// fused projection. qkv is (Batch*SeqLen, 3*Heads*HeadDim) laid out as
// [q | k | v] per row; the result is (Batch*SeqLen, Heads*HeadDim) with heads
// concatenated.
//
// Query i only scores keys j <= i; later keys are excluded from the softmax
// and get a weight of exactly zero, which is equivalent to a -inf mask. With a
// non-nil rng the attention weights are dropped out with probability p. Every
// head's products run as BLAS calls on strided bands of qkv.
func CausalSelfAttention(t *Tape, qkv *Var, s AttentionShape, p float32, rng *rand.Rand) *Var {
	width := s.Heads * s.HeadDim
	if qkv.Value.C != 3*width || qkv.Value.R != s.Batch*s.SeqLen {
		panic(fmt.Sprintf("attention: qkv is %dx%d, want %dx%d",
			qkv.Value.R, qkv.Value.C, s.Batch*s.SeqLen, 3*width))
	}
	T := s.SeqLen
	scale := float32(1 / math.Sqrt(float64(s.HeadDim)))
	dropout := rng != nil && p > 0
	keep := float32(1)
	if dropout {
		keep = 1 / (1 - p)
	}

	// probs holds softmax weights; weights holds what multiplied V (probs
	// after dropout). Both are (Batch*Heads*T, T) with zeros above the diagonal.
	probs := make([]float32, s.Batch*s.Heads*T*T)
	weights := probs
	if dropout {
		weights = make([]float32, len(probs))
	}

	x := &qkv.Value
	out := NewVar(tensor.NewMat(x.R, width))
	for b := 0; b < s.Batch; b++ {
		for h := 0; h < s.Heads; h++ {
			r0, qOff, kOff, vOff := b*T, h*s.HeadDim, width+h*s.HeadDim, 2*width+h*s.HeadDim
			base := (b*s.Heads + h) * T * T
			P := square(probs[base:], T)

			// S = scale * Q K^T, then a row softmax over j <= i.
			tensor.GemmGeneral(tensor.NoTrans, tensor.Trans, scale,
				x.Band(r0, T, qOff, s.HeadDim), x.Band(r0, T, kOff, s.HeadDim), 0, P.Band(0, T, 0, T))
			for i := 0; i < T; i++ {
				row := P.Row(i)
				tensor.Softmax(row[:i+1])
				clear(row[i+1:])
				if dropout {
					wrow := weights[base+i*T : base+i*T+i+1]
					for j := range wrow {
						if rng.Float32() >= p {
							wrow[j] = row[j] * keep
						}
					}
				}
			}

			// O = W V
			W := square(weights[base:], T)
			tensor.GemmGeneral(tensor.NoTrans, tensor.NoTrans, 1,
				W.Band(0, T, 0, T), x.Band(r0, T, vOff, s.HeadDim), 0, out.Value.Band(r0, T, qOff, s.HeadDim))
		}
	}

	t.record(func() {
		if out.Grad == nil {
			return
		}
		dOut := out.gradMat()
		dqkv := qkv.gradMat()
		dP := tensor.NewMat(T, T)
		for b := 0; b < s.Batch; b++ {
			for h := 0; h < s.Heads; h++ {
				r0, qOff, kOff, vOff := b*T, h*s.HeadDim, width+h*s.HeadDim, 2*width+h*s.HeadDim
				base := (b*s.Heads + h) * T * T
				P, W := square(probs[base:], T), square(weights[base:], T)
				dO := dOut.Band(r0, T, qOff, s.HeadDim)

				// dW = dO V^T ; dV += W^T dO
				tensor.GemmGeneral(tensor.NoTrans, tensor.Trans, 1,
					dO, x.Band(r0, T, vOff, s.HeadDim), 0, dP.Band(0, T, 0, T))
				tensor.GemmGeneral(tensor.Trans, tensor.NoTrans, 1,
					W.Band(0, T, 0, T), dO, 1, dqkv.Band(r0, T, vOff, s.HeadDim))

				// Back through dropout and softmax, in place:
				// dS_ij = P_ij * (dP_ij - sum_k P_ik dP_ik) * scale for j <= i.
				for i := 0; i < T; i++ {
					prow, wrow, drow := P.Row(i), W.Row(i), dP.Row(i)
					if dropout {
						for j := 0; j <= i; j++ {
							if wrow[j] == 0 {
								drow[j] = 0
							} else {
								drow[j] *= keep
							}
						}
					}
					var dot float32
					for j := 0; j <= i; j++ {
						dot += prow[j] * drow[j]
					}
					for j := 0; j <= i; j++ {
						drow[j] = prow[j] * (drow[j] - dot) * scale
					}
					clear(drow[i+1:])
				}

				// dQ += dS K ; dK += dS^T Q
				tensor.GemmGeneral(tensor.NoTrans, tensor.NoTrans, 1,
					dP.Band(0, T, 0, T), x.Band(r0, T, kOff, s.HeadDim), 1, dqkv.Band(r0, T, qOff, s.HeadDim))
				tensor.GemmGeneral(tensor.Trans, tensor.NoTrans, 1,
					dP.Band(0, T, 0, T), x.Band(r0, T, qOff, s.HeadDim), 1, dqkv.Band(r0, T, kOff, s.HeadDim))
			}
		}
	})
	return out
}

// square views the first n*n elements of data as an n x n matrix.
func square(data []float32, n int) tensor.Mat {
	return tensor.NewMatFromData(n, n, data[:n*n])
}
