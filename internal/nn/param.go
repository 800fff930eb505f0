package nn

import (
	"fmt"

	"github.com/samcharles93/chatlm/internal/tensor"
)

// Param is a named trainable tensor. Shape is the logical shape recorded in
// checkpoints; the value is stored as a matrix whose rows are the first
// dimension (a 1-D parameter is a single row).
type Param struct {
	Name  string
	Shape []int
	*Var
}

// NewParam allocates a zeroed parameter with its gradient buffer.
func NewParam(name string, shape ...int) *Param {
	if len(shape) == 0 || len(shape) > 2 {
		panic(fmt.Sprintf("param %s: unsupported rank %d", name, len(shape)))
	}
	r, c := 1, shape[0]
	if len(shape) == 2 {
		r, c = shape[0], shape[1]
	}
	m := tensor.NewMat(r, c)
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Var:   &Var{Value: m, Grad: make([]float32, len(m.Data))},
	}
}

// NumElements returns the number of scalars in the parameter.
func (p *Param) NumElements() int {
	return len(p.Value.Data)
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	clear(p.ensureGrad())
}
