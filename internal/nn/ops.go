package nn

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/chatlm/internal/tensor"
)

// Embedding gathers table rows for each id. Output is (len(ids), C).
func Embedding(t *Tape, table *Var, ids []int) (*Var, error) {
	vocab, dim := table.Value.R, table.Value.C
	out := NewVar(tensor.NewMat(len(ids), dim))
	for r, id := range ids {
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("token id %d at position %d out of range [0, %d)", id, r, vocab)
		}
		copy(out.Value.Row(r), table.Value.Row(id))
	}
	t.record(func() {
		if out.Grad == nil {
			return
		}
		dTable := table.gradMat()
		dOut := out.gradMat()
		for r, id := range ids {
			tensor.Add(dTable.Row(id), dOut.Row(r))
		}
	})
	return out, nil
}

// AddPositional adds pos row (r mod seqLen) to every row r of x, where x holds
// seqLen consecutive positions per sequence.
func AddPositional(t *Tape, x, pos *Var, seqLen int) *Var {
	out := NewVar(x.Value.Clone())
	for r := 0; r < out.Value.R; r++ {
		tensor.Add(out.Value.Row(r), pos.Value.Row(r%seqLen))
	}
	t.record(func() {
		if out.Grad == nil {
			return
		}
		tensor.Add(x.ensureGrad(), out.Grad)
		dPos := pos.gradMat()
		dOut := out.gradMat()
		for r := 0; r < dOut.R; r++ {
			tensor.Add(dPos.Row(r%seqLen), dOut.Row(r))
		}
	})
	return out
}

// Linear computes x*w (+ b). x is (N, in), w is (in, out), b is (1, out) or nil.
func Linear(t *Tape, x, w, b *Var) *Var {
	if x.Value.C != w.Value.R {
		panic(fmt.Sprintf("linear: input width %d does not match weight rows %d", x.Value.C, w.Value.R))
	}
	out := NewVar(tensor.NewMat(x.Value.R, w.Value.C))
	tensor.Gemm(tensor.NoTrans, tensor.NoTrans, 1, &x.Value, &w.Value, 0, &out.Value)
	if b != nil {
		for r := 0; r < out.Value.R; r++ {
			tensor.Add(out.Value.Row(r), b.Value.Data)
		}
	}
	t.record(func() {
		if out.Grad == nil {
			return
		}
		dOut := out.gradMat()
		dx := x.gradMat()
		dw := w.gradMat()
		tensor.Gemm(tensor.NoTrans, tensor.Trans, 1, &dOut, &w.Value, 1, &dx)
		tensor.Gemm(tensor.Trans, tensor.NoTrans, 1, &x.Value, &dOut, 1, &dw)
		if b != nil {
			db := b.ensureGrad()
			for r := 0; r < dOut.R; r++ {
				tensor.Add(db, dOut.Row(r))
			}
		}
	})
	return out
}

// Add returns a + b element-wise (the residual connection).
func Add(t *Tape, a, b *Var) *Var {
	if len(a.Value.Data) != len(b.Value.Data) {
		panic("add: size mismatch")
	}
	out := NewVar(a.Value.Clone())
	tensor.Add(out.Value.Data, b.Value.Data)
	t.record(func() {
		if out.Grad == nil {
			return
		}
		tensor.Add(a.ensureGrad(), out.Grad)
		tensor.Add(b.ensureGrad(), out.Grad)
	})
	return out
}

// GELU applies the tanh-approximated GELU element-wise.
func GELU(t *Tape, x *Var) *Var {
	out := NewVar(tensor.NewMat(x.Value.R, x.Value.C))
	for i, v := range x.Value.Data {
		out.Value.Data[i] = tensor.GELU(v)
	}
	t.record(func() {
		if out.Grad == nil {
			return
		}
		dx := x.ensureGrad()
		for i, g := range out.Grad {
			dx[i] += g * tensor.GELUGrad(x.Value.Data[i])
		}
	})
	return out
}

// Dropout zeroes each element with probability p and scales survivors by
// 1/(1-p). A nil rng or p == 0 makes it the identity, which is how
// inference mode disables it.
func Dropout(t *Tape, x *Var, p float32, rng *rand.Rand) *Var {
	if rng == nil || p <= 0 {
		return x
	}
	keep := 1 / (1 - p)
	mask := make([]float32, len(x.Value.Data))
	out := NewVar(tensor.NewMat(x.Value.R, x.Value.C))
	for i, v := range x.Value.Data {
		if rng.Float32() >= p {
			mask[i] = keep
			out.Value.Data[i] = v * keep
		}
	}
	t.record(func() {
		if out.Grad == nil {
			return
		}
		dx := x.ensureGrad()
		for i, g := range out.Grad {
			dx[i] += g * mask[i]
		}
	})
	return out
}
