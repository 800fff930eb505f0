// Package nn implements reverse-mode differentiation for the operations a
// decoder-only transformer needs: embedding lookup, positional add, linear
// projection, layer normalization, GELU, causal multi-head attention, dropout,
// residual add and cross-entropy.
//
// Every operation takes a *Tape as its first argument. A nil tape means no
// gradient bookkeeping at all, which is how evaluation and generation run.
// With a tape, each op appends a closure that propagates the output gradient
// into its inputs; Backward replays those closures in reverse order.
package nn

import (
	"errors"
	"fmt"

	"github.com/samcharles93/chatlm/internal/tensor"
)

// ErrNotScalar is returned when Backward is asked to start from a non-scalar.
var ErrNotScalar = errors.New("backward: loss must be a 1x1 value")

// Var is a node in the computation: a value and, once gradients flow, its
// gradient with the same layout.
type Var struct {
	Value tensor.Mat
	Grad  []float32
}

// NewVar wraps an existing matrix.
func NewVar(m tensor.Mat) *Var {
	return &Var{Value: m}
}

// Scalar returns the single element of a 1x1 value.
func (v *Var) Scalar() float32 {
	return v.Value.Data[0]
}

func (v *Var) ensureGrad() []float32 {
	if v.Grad == nil {
		v.Grad = make([]float32, len(v.Value.Data))
	}
	return v.Grad
}

// gradMat returns the gradient as a matrix view with the value's dimensions.
func (v *Var) gradMat() tensor.Mat {
	return tensor.NewMatFromData(v.Value.R, v.Value.C, v.ensureGrad())
}

// Tape records backward closures in forward order.
type Tape struct {
	ops []func()
}

// NewTape returns an empty tape.
func NewTape() *Tape {
	return &Tape{}
}

// Len reports how many operations were recorded.
func (t *Tape) Len() int {
	if t == nil {
		return 0
	}
	return len(t.ops)
}

func (t *Tape) record(fn func()) {
	if t == nil {
		return
	}
	t.ops = append(t.ops, fn)
}

// Backward seeds d(loss)/d(loss) = 1 and propagates gradients through every
// recorded operation. Parameter gradients accumulate; clearing them is the
// optimizer's job.
func (t *Tape) Backward(loss *Var) error {
	if t == nil {
		return errors.New("backward: nil tape")
	}
	if loss.Value.R != 1 || loss.Value.C != 1 {
		return fmt.Errorf("%w: got %dx%d", ErrNotScalar, loss.Value.R, loss.Value.C)
	}
	t.backwardFrom(loss, []float32{1})
	return nil
}

func (t *Tape) backwardFrom(v *Var, seed []float32) {
	g := v.ensureGrad()
	for i := range g {
		g[i] += seed[i]
	}
	for i := len(t.ops) - 1; i >= 0; i-- {
		t.ops[i]()
	}
	t.ops = t.ops[:0]
}
